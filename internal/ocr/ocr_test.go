package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/imaging/imagingtest"
	"go-receipt-forensics/internal/pipeline"
	"go-receipt-forensics/internal/scoring"
)

type fakeExtractor struct {
	text string
	err  error
	got  []byte
}

func (f *fakeExtractor) Extract(_ context.Context, img []byte) (string, error) {
	f.got = img
	return f.text, f.err
}

func raster(t *testing.T) *imaging.Raster {
	t.Helper()
	return imagingtest.Raster(t, imagingtest.EncodePNG(imagingtest.Uniform(40, 30, 200)))
}

func TestCollaborator_Collect(t *testing.T) {
	fake := &fakeExtractor{text: receiptText}
	c := NewCollaborator(fake)
	req := pipeline.Request{Context: scoring.Context{MerchantName: "Corner Market", ClaimedAmount: "1500"}}

	checks, details, err := c.Collect(context.Background(), raster(t), req)
	require.NoError(t, err)

	assert.Equal(t, "ocr", c.Name())
	assert.NotEmpty(t, fake.got, "extractor receives an encoded image")
	assert.Len(t, checks, 2)
	assert.Equal(t, int64(15), details["ocr_words"].Interface())
	assert.Equal(t, 1.0, details["merchant_similarity"].Interface())
}

func TestCollaborator_ExtractorError(t *testing.T) {
	c := NewCollaborator(&fakeExtractor{err: errors.New("no tessdata")})
	_, _, err := c.Collect(context.Background(), raster(t), pipeline.Request{})
	assert.Error(t, err)
}
