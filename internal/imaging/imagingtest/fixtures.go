// Package imagingtest builds deterministic receipt images for tests.
package imagingtest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"go-receipt-forensics/internal/imaging"
)

const (
	// ReceiptWidth and ReceiptHeight are the fixture dimensions.
	ReceiptWidth  = 320
	ReceiptHeight = 480

	paper = 228
	ink   = 48
	cell  = 3
)

// Pasted patch geometry of the forged receipt.
var (
	PatchSource = image.Rect(165, 203, 213, 235)
	PatchTarget = image.Rect(229, 203, 277, 235)
)

// 5x7 digit glyphs, one string per row.
var digits = [10][7]string{
	{"#####", "#...#", "#...#", "#...#", "#...#", "#...#", "#####"},
	{"..#..", "..#..", "..#..", "..#..", "..#..", "..#..", "..#.."},
	{"#####", "....#", "....#", "#####", "#....", "#....", "#####"},
	{"#####", "....#", "....#", "#####", "....#", "....#", "#####"},
	{"#...#", "#...#", "#...#", "#####", "....#", "....#", "....#"},
	{"#####", "#....", "#....", "#####", "....#", "....#", "#####"},
	{"#####", "#....", "#....", "#####", "#...#", "#...#", "#####"},
	{"#####", "....#", "....#", "....#", "....#", "....#", "....#"},
	{"#####", "#...#", "#...#", "#####", "#...#", "#...#", "#####"},
	{"#####", "#...#", "#...#", "#####", "....#", "....#", "#####"},
}

// lcg is a tiny deterministic generator so fixtures never change.
type lcg uint64

func (l *lcg) next() uint64 {
	*l = *l*6364136223846793005 + 1442695040888963407
	return uint64(*l >> 33)
}

// noise returns an integer in [-amp, amp].
func (l *lcg) noise(amp int) int {
	return int(l.next()%uint64(2*amp+1)) - amp
}

func drawGlyph(plane []float64, w, x0, y0, digit int, level float64) {
	for r, row := range digits[digit] {
		for c, ch := range row {
			if ch != '#' {
				continue
			}
			for dy := 0; dy < cell; dy++ {
				for dx := 0; dx < cell; dx++ {
					plane[(y0+r*cell+dy)*w+x0+c*cell+dx] = level
				}
			}
		}
	}
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// ControlImage renders an unedited grayscale receipt: rows of softened
// digits on paper with mild sensor-like noise.
func ControlImage() *image.RGBA {
	w, h := ReceiptWidth, ReceiptHeight
	plane := make([]float64, w*h)
	for i := range plane {
		plane[i] = paper
	}

	rng := lcg(42)
	for y := 20; y+7*cell < h-10; y += 34 {
		x := 14 + int(rng.next()%6)
		for x+5*cell < w-10 {
			drawGlyph(plane, w, x, y, int(rng.next()%10), ink)
			x += 5*cell + 6 + int(rng.next()%7)
		}
	}

	blurred := make([]float64, len(plane))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			var n int
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= w || yy >= h {
						continue
					}
					sum += plane[yy*w+xx]
					n++
				}
			}
			blurred[y*w+x] = sum / float64(n)
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := clamp8(blurred[y*w+x] + float64(rng.noise(10)))
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

// ControlJPEG is ControlImage encoded at quality 95.
func ControlJPEG() []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, ControlImage(), &jpeg.Options{Quality: 95}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// patch renders the pasted 48x32 block: two sharp zeros on lighter paper
// with strong per-channel noise.
func patch() *image.RGBA {
	pw, ph := PatchSource.Dx(), PatchSource.Dy()
	plane := make([]float64, pw*ph)
	for i := range plane {
		plane[i] = 200
	}
	drawGlyph(plane, pw, 4, 5, 0, 60)
	drawGlyph(plane, pw, 26, 5, 0, 60)

	rng := lcg(7)
	out := image.NewRGBA(image.Rect(0, 0, pw, ph))
	for y := 0; y < ph; y++ {
		for x := 0; x < pw; x++ {
			v := plane[y*pw+x]
			out.SetRGBA(x, y, color.RGBA{
				R: clamp8(v + float64(rng.noise(40))),
				G: clamp8(v + float64(rng.noise(40))),
				B: clamp8(v + float64(rng.noise(40))),
				A: 255,
			})
		}
	}
	return out
}

// ForgeryImage is the decoded control receipt with the same patch pasted
// at PatchSource and PatchTarget.
func ForgeryImage() *image.RGBA {
	dec, err := jpeg.Decode(bytes.NewReader(ControlJPEG()))
	if err != nil {
		panic(err)
	}
	b := dec.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			img.Set(x, y, dec.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	p := patch()
	for _, at := range []image.Rectangle{PatchSource, PatchTarget} {
		for y := 0; y < at.Dy(); y++ {
			for x := 0; x < at.Dx(); x++ {
				img.SetRGBA(at.Min.X+x, at.Min.Y+y, p.RGBAAt(x, y))
			}
		}
	}
	return img
}

// ForgeryPNG is ForgeryImage encoded losslessly.
func ForgeryPNG() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, ForgeryImage()); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Uniform returns a flat gray image.
func Uniform(w, h int, level uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = level, level, level, 255
	}
	return img
}

// Raster normalizes encoded fixture bytes, failing the test on error.
func Raster(tb testing.TB, data []byte) *imaging.Raster {
	tb.Helper()
	r, err := imaging.Normalize(data, imaging.DefaultMaxDimension)
	if err != nil {
		tb.Fatalf("normalize fixture: %v", err)
	}
	return r
}

// RasterOf normalizes an in-memory image.
func RasterOf(img image.Image) *imaging.Raster {
	return imaging.FromImage(img, imaging.DefaultMaxDimension)
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
