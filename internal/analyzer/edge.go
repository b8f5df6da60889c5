package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/numeric"
	"go-receipt-forensics/internal/progress"
)

const edgeReach = 3

// edgeAnalyzer inspects the cross-section of strong edges. Printed and
// photographed text has soft, single transitions; pasted text tends to
// show unnaturally hard steps or doubled contours from resampling.
type edgeAnalyzer struct {
	opts Options
}

// NewEdgeAnalyzer creates the edge consistency detector
func NewEdgeAnalyzer(opts Options) Analyzer {
	return &edgeAnalyzer{opts: opts}
}

func (a *edgeAnalyzer) Name() string { return DetectorEdge }

func (a *edgeAnalyzer) Analyze(ctx context.Context, img *imaging.Raster, report Reporter) (*Finding, error) {
	opts := a.opts
	w, h := img.Width(), img.Height()
	luma := img.LumaPlane()
	f := newFinding(DetectorEdge)
	f.Map = NewErrorMap(w, h, opts.EdgeBlockSize)

	margin := edgeReach + 1
	if w <= 2*margin || h <= 2*margin {
		f.Confidence = 0
		f.Note = "image too small for edge profiling"
		return f, nil
	}

	grad := sobel(luma, w, h)
	mags := make([]float64, 0, (w-2)*(h-2))
	for y := 1; y < h-1; y++ {
		mags = append(mags, grad.mag[y*w+1:y*w+w-1]...)
	}
	sort.Float64s(mags)
	threshold := math.Max(opts.EdgeThreshold, 3*mags[len(mags)/2])
	f.Metrics["edge_threshold"] = threshold

	grid := newBlockGrid(w, h, opts.EdgeBlockSize)
	edges := make([]int, len(grid.values))
	anomalous := make([]int, len(grid.values))
	var hard, doubled int

	for y := margin; y < h-margin; y++ {
		if (y-margin)%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := margin; x < w-margin; x++ {
			i := y*w + x
			m := grad.mag[i]
			if m < threshold {
				continue
			}
			step := 1
			if math.Abs(grad.gy[i]) > math.Abs(grad.gx[i]) {
				step = w
			}
			if m <= grad.mag[i-step] || m < grad.mag[i+step] {
				continue
			}

			b := (y/grid.size)*grid.cols + x/grid.size
			edges[b]++
			isHard, isDoubled := a.profile(luma, i, step)
			if isHard {
				hard++
			}
			if isDoubled {
				doubled++
			}
			if isHard || isDoubled {
				anomalous[b]++
			}
		}
	}
	report.Report("edges profiled", progress.Details{
		"hard":    progress.Int(int64(hard)),
		"doubled": progress.Int(int64(doubled)),
	})

	for i := range grid.values {
		if edges[i] >= opts.EdgeMinPixels {
			grid.valid[i] = true
			grid.values[i] = float64(anomalous[i]) / float64(edges[i])
			f.Map.Set(i%grid.cols, i/grid.cols, grid.values[i])
		}
	}
	valid := grid.validValues()
	f.Confidence = numeric.Clamp01(float64(len(valid)) / 4)
	f.Metrics["valid_blocks"] = float64(len(valid))
	f.Metrics["hard_edges"] = float64(hard)
	f.Metrics["doubled_edges"] = float64(doubled)
	if len(valid) == 0 {
		f.Note = "too few strong edges to profile"
		return f, nil
	}

	median, sigma := robustStats(valid)
	f.Metrics["median_anomaly_fraction"] = median
	flags := make([]bool, len(grid.values))
	for i, v := range grid.values {
		flags[i] = grid.valid[i] && v-median >= opts.EdgeMinDelta && robustZ(v, median, sigma) >= 3
	}

	maxSeverity := 0.0
	for _, comp := range components(flags, grid.cols, grid.rows) {
		if len(comp) < opts.MinRegionBlocks {
			continue
		}
		var sum, peak float64
		for _, i := range comp {
			sum += grid.values[i]
			peak = math.Max(peak, grid.values[i])
		}
		sev := 100 * numeric.Clamp01((peak-median)/(2*opts.EdgeMinDelta))
		maxSeverity = math.Max(maxSeverity, sev)
		f.Regions = append(f.Regions, RegionFromRect(grid.componentRect(comp), sev, sum/float64(len(comp)), peak, DetectorEdge))
	}
	f.Signal = numeric.Clamp01(maxSeverity / 100)
	if len(f.Regions) > 0 {
		f.Techniques = append(f.Techniques, fmt.Sprintf("Inconsistent edge profiles in %d region(s)", len(f.Regions)))
	}
	return f, nil
}

// profile classifies the luminance cross-section through pixel i along
// step (1 for horizontal, w for vertical).
func (a *edgeAnalyzer) profile(luma []float64, i, step int) (hard, doubled bool) {
	var lo, hi = math.Inf(1), math.Inf(-1)
	var maxStep float64
	for k := -edgeReach; k <= edgeReach; k++ {
		v := luma[i+k*step]
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		if k > -edgeReach {
			maxStep = math.Max(maxStep, math.Abs(v-luma[i+(k-1)*step]))
		}
	}
	contrast := hi - lo
	hard = contrast >= a.opts.EdgeMinContrast && maxStep/contrast >= a.opts.EdgeHardness

	deriv := func(k int) float64 {
		return luma[i+(k+1)*step] - luma[i+(k-1)*step]
	}
	centre := deriv(0)
	sign := 1.0
	if centre < 0 {
		sign = -1
	}
	peak := sign * centre
	if peak <= 0 {
		return hard, false
	}
	for _, dir := range []int{-1, 1} {
		for k := 2; k <= edgeReach; k++ {
			if sign*deriv(dir*k) < 0.5*peak {
				continue
			}
			for j := 1; j < k; j++ {
				if sign*deriv(dir*j) < 0.25*peak {
					return hard, true
				}
			}
		}
	}
	return hard, false
}
