package imaging_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/imaging/imagingtest"
)

func TestNormalizeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated png", imagingtest.EncodePNG(imagingtest.Uniform(8, 8, 10))[:20]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := imaging.Normalize(tt.data, imaging.DefaultMaxDimension)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDecode), "expected decode error, got %v", err)
		})
	}
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	r := imagingtest.Raster(t, imagingtest.ControlJPEG())

	assert.Equal(t, imagingtest.ReceiptWidth, r.Width())
	assert.Equal(t, imagingtest.ReceiptHeight, r.Height())
	assert.Equal(t, "jpeg", r.Format())
	assert.Equal(t, 1.0, r.Scale())
	assert.True(t, r.HasSource())
}

func TestNormalizeDownsamples(t *testing.T) {
	data := imagingtest.EncodePNG(imagingtest.Uniform(2000, 500, 128))

	r, err := imaging.Normalize(data, 1000)
	require.NoError(t, err)

	assert.Equal(t, 1000, r.Width())
	assert.Equal(t, 250, r.Height())
	ow, oh := r.OriginalSize()
	assert.Equal(t, 2000, ow)
	assert.Equal(t, 500, oh)
	assert.InDelta(t, 0.5, r.Scale(), 1e-9)
	assert.InDelta(t, 128, r.Luma(500, 125), 1)
}

func TestRasterToSource(t *testing.T) {
	r, err := imaging.Normalize(imagingtest.EncodePNG(imagingtest.Uniform(2000, 500, 128)), 1000)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(200, 100, 400, 200), r.ToSource(image.Rect(100, 50, 200, 100)))
	assert.Equal(t, image.Rect(1980, 480, 2000, 500), r.ToSource(image.Rect(990, 240, 1000, 250)))
	assert.Equal(t, image.Rect(0, 0, 2000, 500), r.ToSource(r.Bounds()))

	same := imagingtest.Raster(t, imagingtest.ControlJPEG())
	rect := image.Rect(13, 17, 29, 41)
	assert.Equal(t, rect, same.ToSource(rect))
}

func TestNormalizeCompositesOverWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 1, color.NRGBA{R: 0, G: 0, B: 0, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	r, err := imaging.Normalize(buf.Bytes(), imaging.DefaultMaxDimension)
	require.NoError(t, err)

	rr, gg, bb := r.RGB(0, 0)
	assert.Equal(t, [3]uint8{255, 255, 255}, [3]uint8{rr, gg, bb})
	rr, gg, bb = r.RGB(1, 1)
	assert.Equal(t, [3]uint8{0, 0, 0}, [3]uint8{rr, gg, bb})
}

func TestRasterIsImmutable(t *testing.T) {
	r := imagingtest.RasterOf(imagingtest.Uniform(4, 4, 90))

	clone := r.Clone()
	clone.Pix[0] = 0
	plane := r.LumaPlane()
	plane[0] = 0

	rr, _, _ := r.RGB(0, 0)
	assert.Equal(t, uint8(90), rr)
	assert.InDelta(t, 90, r.Luma(0, 0), 1e-9)
	assert.False(t, r.HasSource())
	assert.Equal(t, "raw", r.Format())
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{100, 50, 1024, 100, 50},
		{4096, 1024, 1024, 1024, 256},
		{1, 5000, 1000, 1, 1000},
		{0, 10, 1024, 1, 1},
	}
	for _, tt := range tests {
		w, h := imaging.TargetSize(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w)
		assert.Equal(t, tt.wantH, h)
	}
}
