package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "go-receipt-forensics/internal/errors"
)

const (
	// DefaultMaxDimension bounds the longer side of the analysis raster.
	DefaultMaxDimension = 1024

	// MaxSourcePixels rejects decompression bombs before decoding.
	MaxSourcePixels = 100_000_000
)

// Normalize decodes data, downsamples it so neither side exceeds
// maxDimension (aspect ratio preserved) and converts it to opaque 8-bit
// RGB. Transparent pixels are composited over white. Every failure is a
// decode error; retrying the same bytes cannot succeed.
func Normalize(data []byte, maxDimension int) (*Raster, error) {
	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("empty image data", nil)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewDecodeError("unsupported or corrupt image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperrors.NewDecodeError(fmt.Sprintf("invalid image dimensions %dx%d", cfg.Width, cfg.Height), nil)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, apperrors.NewDecodeError(fmt.Sprintf("image too large: %dx%d", cfg.Width, cfg.Height), nil)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewDecodeError("failed to decode "+format+" image", err)
	}

	r := FromImage(img, maxDimension)
	r.format = format
	r.source = append([]byte(nil), data...)
	return r, nil
}

// FromImage normalizes an already decoded image.
func FromImage(img image.Image, maxDimension int) *Raster {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	src := img.Bounds()
	w, h := TargetSize(src.Dx(), src.Dy(), maxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	}

	return &Raster{
		rgba:           dst,
		luma:           lumaOf(dst),
		format:         "raw",
		originalWidth:  src.Dx(),
		originalHeight: src.Dy(),
	}
}

// TargetSize returns the analysis dimensions for a w×h source. Both sides
// stay at least one pixel.
func TargetSize(w, h, maxDimension int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxDimension {
		return w, h
	}
	scale := float64(maxDimension) / float64(longest)
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
