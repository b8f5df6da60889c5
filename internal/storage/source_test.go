package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-receipt-forensics/internal/errors"
)

type recordingSource struct {
	name string
	refs []string
}

func (r *recordingSource) Fetch(_ context.Context, ref string) ([]byte, error) {
	r.refs = append(r.refs, ref)
	return []byte(r.name), nil
}

func TestRouter_Fetch(t *testing.T) {
	web := &recordingSource{name: "web"}
	bucket := &recordingSource{name: "s3"}
	router := NewRouter("s3")
	router.Register("https", web)
	router.Register("S3", bucket)

	data, err := router.Fetch(context.Background(), "https://example.com/r.jpg")
	require.NoError(t, err)
	assert.Equal(t, "web", string(data))

	data, err = router.Fetch(context.Background(), "uploads/r.jpg")
	require.NoError(t, err)
	assert.Equal(t, "s3", string(data), "scheme-less refs use the fallback")

	_, err = router.Fetch(context.Background(), "ftp://example.com/r.jpg")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.ElementsMatch(t, []string{"https", "s3"}, router.Schemes())
}

func TestSplitObjectRef(t *testing.T) {
	tests := []struct {
		ref, bucket, key string
	}{
		{"s3://bucket/a/b.jpg", "bucket", "a/b.jpg"},
		{"azure://container/blob.png", "container", "blob.png"},
		{"s3://bucket", "bucket", ""},
		{"/plain/key.jpg", "", "plain/key.jpg"},
	}
	for _, tt := range tests {
		b, k := splitObjectRef(tt.ref)
		assert.Equal(t, tt.bucket, b, tt.ref)
		assert.Equal(t, tt.key, k, tt.ref)
	}
	c, blob := blobRef("r.jpg", "receipts")
	assert.Equal(t, "receipts", c)
	assert.Equal(t, "r.jpg", blob)
}

func TestRenderHeatmap(t *testing.T) {
	_, err := RenderHeatmap(nil, 4)
	assert.Error(t, err)
	_, err = RenderHeatmap([][]float64{{0, 1}, {0}}, 4)
	assert.Error(t, err, "ragged")

	data, err := RenderHeatmap([][]float64{{0, 1}}, 4)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, uint8(255), ramp(1).G)
	assert.Equal(t, uint8(0), ramp(0).R)
}
