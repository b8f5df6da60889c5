package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/numeric"
	"go-receipt-forensics/internal/progress"
)

// noiseAnalyzer compares a robust high-frequency residual level across
// blocks. A camera or scanner leaves a roughly uniform noise floor;
// spliced content usually carries a different one.
type noiseAnalyzer struct {
	opts Options
}

// NewNoiseAnalyzer creates the noise pattern detector
func NewNoiseAnalyzer(opts Options) Analyzer {
	return &noiseAnalyzer{opts: opts}
}

func (a *noiseAnalyzer) Name() string { return DetectorNoise }

func (a *noiseAnalyzer) Analyze(ctx context.Context, img *imaging.Raster, report Reporter) (*Finding, error) {
	opts := a.opts
	w, h := img.Width(), img.Height()
	luma := img.LumaPlane()
	f := newFinding(DetectorNoise)
	f.Map = NewErrorMap(w, h, opts.NoiseBlockSize)

	if w < 3 || h < 3 {
		f.Confidence = 0
		f.Note = "image too small for noise estimation"
		return f, nil
	}

	// The median absolute residual ignores the few pixels on glyph
	// edges, so blocks need no edge mask.
	grid := newBlockGrid(w, h, opts.NoiseBlockSize)
	err := forRows(ctx, grid.rows, func(r0, r1 int) {
		abs := make([]float64, 0, opts.NoiseBlockSize*opts.NoiseBlockSize)
		for br := r0; br < r1; br++ {
			for bc := 0; bc < grid.cols; bc++ {
				i := br*grid.cols + bc
				rect := grid.rect(i)
				abs = abs[:0]
				for y := maxInt(rect.Min.Y, 1); y < minInt(rect.Max.Y, h-1); y++ {
					for x := maxInt(rect.Min.X, 1); x < minInt(rect.Max.X, w-1); x++ {
						abs = append(abs, math.Abs(laplacianResidual(luma, w, x, y)))
					}
				}
				if len(abs) > 0 {
					sort.Float64s(abs)
					sigma := madScale * stat.Quantile(0.5, stat.Empirical, abs, nil)
					grid.values[i] = sigma * sigma
				}
				grid.valid[i] = float64(len(abs)) >= 0.25*float64(rect.Dx()*rect.Dy())
			}
		}
	})
	if err != nil {
		return nil, err
	}

	valid := grid.validValues()
	f.Confidence = numeric.Clamp01(float64(len(valid)) / 8)
	f.Metrics["valid_blocks"] = float64(len(valid))
	report.Report("residuals measured", progress.Details{"valid_blocks": progress.Int(int64(len(valid)))})
	if len(valid) == 0 {
		f.Note = "no blocks to estimate noise from"
		return f, nil
	}

	median, _ := robustStats(valid)
	f.Metrics["median_variance"] = median
	f.Metrics["median_sigma"] = math.Sqrt(median)

	maxLog := 2 * math.Log2(opts.NoiseRatioThreshold)
	severity := make([]float64, len(grid.values))
	flags := make([]bool, len(grid.values))
	for i, v := range grid.values {
		if !grid.valid[i] {
			continue
		}
		ratio := numeric.SafeDiv(v, median)
		sigmaDelta := math.Abs(math.Sqrt(v) - math.Sqrt(median))
		severity[i] = numeric.Clamp01(math.Abs(math.Log2(math.Max(ratio, numeric.Epsilon))) / maxLog)
		// Tiny absolute differences on very clean images are not evidence.
		f.Map.Set(i%grid.cols, i/grid.cols, severity[i]*numeric.Clamp01(sigmaDelta/opts.NoiseMinSigmaDelta))

		outlier := ratio >= opts.NoiseRatioThreshold || ratio <= 1/opts.NoiseRatioThreshold
		flags[i] = outlier && sigmaDelta >= opts.NoiseMinSigmaDelta
	}

	maxSeverity := 0.0
	for _, comp := range components(flags, grid.cols, grid.rows) {
		if len(comp) < opts.MinRegionBlocks {
			continue
		}
		var sumSev, peak, sumSigma, peakSigma float64
		for _, i := range comp {
			sumSev += severity[i]
			peak = math.Max(peak, severity[i])
			s := math.Sqrt(grid.values[i])
			sumSigma += s
			peakSigma = math.Max(peakSigma, s)
		}
		n := float64(len(comp))
		sev := 100 * (sumSev/n + peak) / 2
		maxSeverity = math.Max(maxSeverity, sev)
		f.Regions = append(f.Regions, RegionFromRect(grid.componentRect(comp), sev, sumSigma/n, peakSigma, DetectorNoise))
	}
	f.Signal = numeric.Clamp01(maxSeverity / 100)
	f.Metrics["flagged_regions"] = float64(len(f.Regions))
	if len(f.Regions) > 0 {
		f.Techniques = append(f.Techniques, fmt.Sprintf("Inconsistent noise floor in %d region(s)", len(f.Regions)))
	}
	return f, nil
}
