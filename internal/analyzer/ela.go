package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sort"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"

	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/numeric"
	"go-receipt-forensics/internal/progress"
)

// elaAnalyzer re-compresses the raster at a fixed JPEG quality and looks
// for blocks whose error level departs from the rest of the image.
// Content that was pasted or re-saved separately settles differently.
type elaAnalyzer struct {
	opts Options
}

// NewELAAnalyzer creates the error-level analysis detector
func NewELAAnalyzer(opts Options) Analyzer {
	return &elaAnalyzer{opts: opts}
}

func (a *elaAnalyzer) Name() string { return DetectorELA }

func (a *elaAnalyzer) Analyze(ctx context.Context, img *imaging.Raster, report Reporter) (*Finding, error) {
	opts := a.opts
	w, h := img.Width(), img.Height()

	report.Report("re-compressing", progress.Details{"quality": progress.Int(int64(opts.ELAQuality))})
	recompressed, err := recompress(img.Clone(), opts.ELAQuality)
	if err != nil {
		return nil, apperrors.NewAnalyzerError("ELA re-compression failed", err)
	}

	amp := make([]float64, w*h)
	lumaDiff := make([]float64, w*h)
	err = forRows(ctx, h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				r0, g0, b0 := img.RGB(x, y)
				p := recompressed.Pix[recompressed.PixOffset(x, y):]
				dr := math.Abs(float64(r0) - float64(p[0]))
				dg := math.Abs(float64(g0) - float64(p[1]))
				db := math.Abs(float64(b0) - float64(p[2]))
				i := y*w + x
				amp[i] = math.Min(255, (dr+dg+db)/3*opts.ELAAmplification)

				l1 := 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
				lumaDiff[i] = math.Abs(img.Luma(x, y) - l1)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	f := newFinding(DetectorELA)
	meanErr, stdErr := stat.MeanStdDev(amp, nil)
	stdErr = numeric.Finite(stdErr)
	maxErr, bright := 0.0, 0
	for _, v := range amp {
		maxErr = math.Max(maxErr, v)
		if v > opts.ELABrightLevel {
			bright++
		}
	}
	brightRatio := numeric.SafeDiv(float64(bright), float64(len(amp)))
	f.Metrics["mean_error"] = numeric.Finite(meanErr)
	f.Metrics["std_error"] = stdErr
	f.Metrics["max_error"] = maxErr
	f.Metrics["bright_pixel_ratio"] = brightRatio

	report.Report("scoring blocks", nil)
	grid := newBlockGrid(w, h, opts.ELABlockSize)
	for i := range grid.values {
		rect := grid.rect(i)
		sum := 0.0
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				sum += amp[y*w+x]
			}
		}
		grid.values[i] = sum / float64(rect.Dx()*rect.Dy())
		grid.valid[i] = true
	}

	f.Map = NewErrorMap(w, h, opts.ELABlockSize)
	for i, v := range grid.values {
		f.Map.Set(i%grid.cols, i/grid.cols, v/255)
	}

	median, sigma := robustStats(grid.values)
	z := make([]float64, len(grid.values))
	flags := make([]bool, len(grid.values))
	for i, v := range grid.values {
		z[i] = robustZ(v, median, sigma)
		flags[i] = v >= opts.ELAMinBlockError && z[i] >= opts.ZThreshold
	}

	maxSeverity := 0.0
	for _, comp := range components(flags, grid.cols, grid.rows) {
		if len(comp) < opts.MinRegionBlocks {
			continue
		}
		var sumZ, sumMean, peak float64
		for _, i := range comp {
			sumZ += z[i]
			sumMean += grid.values[i]
			peak = math.Max(peak, grid.values[i])
		}
		n := float64(len(comp))
		zTerm := numeric.Clamp01((sumZ/n - opts.ZThreshold) / (3 * opts.ZThreshold))
		absTerm := numeric.Clamp01((peak - opts.ELAMinBlockError) / opts.ELAMinBlockError)
		severity := 100 * math.Max(zTerm, absTerm)
		maxSeverity = math.Max(maxSeverity, severity)
		f.Regions = append(f.Regions, RegionFromRect(grid.componentRect(comp), severity, sumMean/n, peak, DetectorELA))
	}

	stdTerm, brightTerm := 0.0, 0.0
	if stdErr > opts.ELAStdThreshold {
		stdTerm = numeric.Clamp01(stdErr / (2 * opts.ELAStdThreshold))
		f.Techniques = append(f.Techniques, fmt.Sprintf("High ELA variance (%.1f) - inconsistent JPEG compression", stdErr))
	}
	if len(f.Regions) > 0 {
		f.Techniques = append(f.Techniques, fmt.Sprintf("%d regions with elevated error level", len(f.Regions)))
	}
	if brightRatio > opts.ELABrightRatio {
		brightTerm = numeric.Clamp01(brightRatio / (2 * opts.ELABrightRatio))
		f.Techniques = append(f.Techniques, fmt.Sprintf("Bright ELA patches (%.1f%%) - strong editing indicator", brightRatio*100))
	}
	f.Signal = numeric.Clamp01(math.Max(maxSeverity/100, math.Max(stdTerm, brightTerm)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.pixelDiff(f, lumaDiff, w, h)
	return f, nil
}

// pixelDiff records luminance change statistics and the windows where
// changes concentrate.
func (a *elaAnalyzer) pixelDiff(f *Finding, diff []float64, w, h int) {
	opts := a.opts
	changed := make([]float64, len(diff))
	var count int
	var maxDiff, sum float64
	for i, d := range diff {
		sum += d
		maxDiff = math.Max(maxDiff, d)
		if d > opts.ELAChangedDelta {
			changed[i] = 1
			count++
		}
	}
	f.Metrics["changed_pixels"] = float64(count)
	f.Metrics["total_pixels"] = float64(len(diff))
	f.Metrics["change_percentage"] = 100 * numeric.SafeDiv(float64(count), float64(len(diff)))
	f.Metrics["max_difference"] = maxDiff
	f.Metrics["mean_difference"] = numeric.SafeDiv(sum, float64(len(diff)))

	win := opts.ELAHotspotWindow
	if w < win || h < win || opts.ELAHotspotStride < 1 {
		return
	}
	changedSum := newIntegral(changed, w, h)
	diffSum := newIntegral(diff, w, h)
	limit := opts.ELAHotspotFraction * float64(win*win)
	for y := 0; y+win <= h; y += opts.ELAHotspotStride {
		for x := 0; x+win <= w; x += opts.ELAHotspotStride {
			n := changedSum.mean(x, y, x+win, y+win) * float64(win*win)
			if n <= limit {
				continue
			}
			f.Hotspots = append(f.Hotspots, Hotspot{
				X:             x,
				Y:             y,
				Width:         win,
				Height:        win,
				Intensity:     diffSum.mean(x, y, x+win, y+win),
				ChangedPixels: int(math.Round(n)),
			})
		}
	}
	sort.SliceStable(f.Hotspots, func(i, j int) bool {
		return f.Hotspots[i].Intensity > f.Hotspots[j].Intensity
	})
	if len(f.Hotspots) > opts.ELAMaxHotspots {
		f.Hotspots = f.Hotspots[:opts.ELAMaxHotspots]
	}
}

// recompress encodes src as JPEG and decodes it back into RGBA.
func recompress(src *image.RGBA, quality int) (*image.RGBA, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	dec, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(src.Rect)
	draw.Draw(out, out.Rect, dec, dec.Bounds().Min, draw.Src)
	return out, nil
}
