package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/pkg/models"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a path-style client, which also works against local
// S3-compatible endpoints.
func NewS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
}

// S3Source reads receipt images from S3. References are
// "s3://bucket/key" or a bare key in the default bucket.
type S3Source struct {
	client   S3API
	bucket   string
	maxBytes int64
}

func NewS3Source(client S3API, bucket string) *S3Source {
	return &S3Source{client: client, bucket: bucket, maxBytes: defaultMaxBytes}
}

func (s *S3Source) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key := splitObjectRef(ref)
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket == "" || key == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid object reference %q", ref), nil)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperrors.NewNetworkError("get object failed", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxBytes+1))
	if err != nil {
		return nil, apperrors.NewNetworkError("read object", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperrors.NewValidationError(fmt.Sprintf("object exceeds %d bytes", s.maxBytes), nil)
	}
	return data, nil
}

// S3Archive writes terminal results to a bucket: the JSON record under
// results/ and, for completed runs, a heatmap PNG under heatmaps/.
type S3Archive struct {
	client S3API
	bucket string
}

func NewS3Archive(client S3API, bucket string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket}
}

// Enabled reports whether a bucket is configured.
func (a *S3Archive) Enabled() bool { return a != nil && a.bucket != "" }

// ArchiveResult stores a completed result and its heatmap and returns the
// object URIs.
func (a *S3Archive) ArchiveResult(ctx context.Context, result *models.VerificationResult) ([]string, error) {
	if !a.Enabled() {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	resultURI, err := a.upload(ctx, "results/"+result.RunID+".json", data, "application/json")
	if err != nil {
		return nil, err
	}

	png, err := RenderHeatmap(result.Heatmap, heatmapCell)
	if err != nil {
		return []string{resultURI}, fmt.Errorf("render heatmap: %w", err)
	}
	heatURI, err := a.upload(ctx, "heatmaps/"+result.RunID+".png", png, "image/png")
	if err != nil {
		return []string{resultURI}, err
	}
	return []string{resultURI, heatURI}, nil
}

// ArchiveFailure stores the failure record of a run.
func (a *S3Archive) ArchiveFailure(ctx context.Context, failure *models.FailureResult) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	data, err := json.Marshal(failure)
	if err != nil {
		return "", fmt.Errorf("marshal failure: %w", err)
	}
	return a.upload(ctx, "results/"+failure.RunID+".json", data, "application/json")
}

func (a *S3Archive) upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
