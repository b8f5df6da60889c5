package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	apperrors "go-receipt-forensics/internal/errors"
)

// AzureBlobSource reads receipt images from Azure Blob Storage.
// References are "azure://container/blob" or a bare blob name in the
// default container.
type AzureBlobSource struct {
	client    *azblob.Client
	container string
	maxBytes  int64
}

func NewAzureBlobSource(accountName, accountKey, container string) (*AzureBlobSource, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &AzureBlobSource{client: client, container: container, maxBytes: defaultMaxBytes}, nil
}

func (s *AzureBlobSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	container, blob := blobRef(ref, s.container)
	if container == "" || blob == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid blob reference %q", ref), nil)
	}

	resp, err := s.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, apperrors.NewNetworkError("download failed", err)
	}
	body := resp.Body
	defer body.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return nil, apperrors.NewNetworkError("read blob", err)
	}
	if n > s.maxBytes {
		return nil, apperrors.NewValidationError(fmt.Sprintf("blob exceeds %d bytes", s.maxBytes), nil)
	}
	return buf.Bytes(), nil
}

func blobRef(ref, defaultContainer string) (container, blob string) {
	if strings.Contains(ref, "://") {
		return splitObjectRef(ref)
	}
	return defaultContainer, strings.TrimPrefix(ref, "/")
}
