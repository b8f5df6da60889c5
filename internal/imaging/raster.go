package imaging

import (
	"bytes"
	"image"
	"io"
	"math"
)

// Raster is the normalized, immutable pixel buffer a verification run
// analyzes. Accessors never expose the backing arrays for writing.
type Raster struct {
	rgba   *image.RGBA
	luma   []float64
	format string
	source []byte

	originalWidth  int
	originalHeight int
}

// Width returns the analysis width in pixels.
func (r *Raster) Width() int { return r.rgba.Rect.Dx() }

// Height returns the analysis height in pixels.
func (r *Raster) Height() int { return r.rgba.Rect.Dy() }

// Bounds returns the raster rectangle, always anchored at the origin.
func (r *Raster) Bounds() image.Rectangle { return r.rgba.Rect }

// Format is the decoder name the source bytes were read with ("jpeg", "png",
// ...), or "raw" for rasters built from an in-memory image.
func (r *Raster) Format() string { return r.format }

// OriginalSize reports the decoded dimensions before downsampling.
func (r *Raster) OriginalSize() (int, int) { return r.originalWidth, r.originalHeight }

// Scale is the factor applied to the original image (1 when not resized).
func (r *Raster) Scale() float64 {
	if r.originalWidth == 0 {
		return 1
	}
	return float64(r.Width()) / float64(r.originalWidth)
}

// ToSource maps a rectangle in raster pixels onto the original image,
// rounding outward and clipping to the original bounds.
func (r *Raster) ToSource(rect image.Rectangle) image.Rectangle {
	ow, oh := r.OriginalSize()
	w, h := r.Width(), r.Height()
	if ow == 0 || oh == 0 || (ow == w && oh == h) {
		return rect
	}
	sx, sy := float64(ow)/float64(w), float64(oh)/float64(h)
	out := image.Rect(
		int(math.Floor(float64(rect.Min.X)*sx)),
		int(math.Floor(float64(rect.Min.Y)*sy)),
		int(math.Ceil(float64(rect.Max.X)*sx)),
		int(math.Ceil(float64(rect.Max.Y)*sy)),
	)
	return out.Intersect(image.Rect(0, 0, ow, oh))
}

// RGB returns the 8-bit color at (x, y).
func (r *Raster) RGB(x, y int) (uint8, uint8, uint8) {
	i := r.rgba.PixOffset(x, y)
	p := r.rgba.Pix[i : i+3 : i+3]
	return p[0], p[1], p[2]
}

// Luma returns the Rec. 601 luminance at (x, y) on a 0-255 scale.
func (r *Raster) Luma(x, y int) float64 {
	return r.luma[y*r.Width()+x]
}

// LumaPlane returns a copy of the full luminance plane in row-major order.
func (r *Raster) LumaPlane() []float64 {
	out := make([]float64, len(r.luma))
	copy(out, r.luma)
	return out
}

// Clone returns a private RGBA copy the caller may modify or encode.
func (r *Raster) Clone() *image.RGBA {
	out := image.NewRGBA(r.rgba.Rect)
	copy(out.Pix, r.rgba.Pix)
	return out
}

// SourceReader reads the original encoded bytes, or nothing when the raster
// was built from an in-memory image.
func (r *Raster) SourceReader() io.Reader {
	return bytes.NewReader(r.source)
}

// HasSource reports whether the original encoded bytes are available.
func (r *Raster) HasSource() bool { return len(r.source) > 0 }

func lumaOf(rgba *image.RGBA) []float64 {
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3 : x*4+3]
			out[y*w+x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}
	return out
}
