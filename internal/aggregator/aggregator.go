package aggregator

import (
	"fmt"
	"image"
	"math"
	"sort"

	"go-receipt-forensics/internal/analyzer"
	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/numeric"
)

// Config controls region merging and heatmap resolution.
type Config struct {
	HeatmapSize int
	MergeIoU    float64
}

// DefaultConfig returns a 32x32 heatmap and a 0.3 IoU merge threshold
func DefaultConfig() Config {
	return Config{HeatmapSize: 32, MergeIoU: 0.3}
}

// Heatmap is a fixed-size grid of suspicion values in [0, 1].
type Heatmap struct {
	Rows   int
	Cols   int
	Values []float64
}

// At returns cell (c, r).
func (h Heatmap) At(c, r int) float64 { return h.Values[r*h.Cols+c] }

// Grid returns the heatmap as rows of values.
func (h Heatmap) Grid() [][]float64 {
	out := make([][]float64, h.Rows)
	for r := range out {
		out[r] = append([]float64(nil), h.Values[r*h.Cols:(r+1)*h.Cols]...)
	}
	return out
}

// Max returns the hottest cell.
func (h Heatmap) Max() float64 {
	best := 0.0
	for _, v := range h.Values {
		best = math.Max(best, v)
	}
	return best
}

// Aggregate merges the regions of all findings and resamples their error
// maps into one heatmap. It fails with an aggregation error when a finding
// does not describe a width x height image.
func Aggregate(width, height int, findings []*analyzer.Finding, cfg Config) (Heatmap, []analyzer.Region, error) {
	if width < 1 || height < 1 {
		return Heatmap{}, nil, apperrors.NewAggregationError(fmt.Sprintf("invalid image size %dx%d", width, height), nil)
	}
	if cfg.HeatmapSize < 1 {
		cfg.HeatmapSize = DefaultConfig().HeatmapSize
	}
	if err := validate(width, height, findings); err != nil {
		return Heatmap{}, nil, err
	}

	heat := Heatmap{
		Rows:   cfg.HeatmapSize,
		Cols:   cfg.HeatmapSize,
		Values: make([]float64, cfg.HeatmapSize*cfg.HeatmapSize),
	}
	for _, f := range findings {
		if f == nil || f.Map == nil {
			continue
		}
		resampleInto(&heat, f.Map, width, height)
	}

	var regions []analyzer.Region
	for _, f := range findings {
		if f == nil {
			continue
		}
		regions = append(regions, f.Regions...)
	}
	return heat, MergeRegions(regions, cfg.MergeIoU), nil
}

func validate(width, height int, findings []*analyzer.Finding) error {
	bounds := fmt.Sprintf("%dx%d", width, height)
	for _, f := range findings {
		if f == nil {
			continue
		}
		for _, r := range f.Regions {
			if r.Width <= 0 || r.Height <= 0 || r.X < 0 || r.Y < 0 || r.X+r.Width > width || r.Y+r.Height > height {
				return apperrors.NewAggregationError(
					fmt.Sprintf("%s region (%d,%d %dx%d) outside %s image", f.Detector, r.X, r.Y, r.Width, r.Height, bounds), nil)
			}
		}
		m := f.Map
		if m == nil {
			continue
		}
		if m.CellWidth < 1 || m.CellHeight < 1 ||
			m.Cols != (width+m.CellWidth-1)/m.CellWidth ||
			m.Rows != (height+m.CellHeight-1)/m.CellHeight ||
			len(m.Values) != m.Cols*m.Rows {
			return apperrors.NewAggregationError(
				fmt.Sprintf("%s map %dx%d (cell %dx%d) does not cover %s image", f.Detector, m.Cols, m.Rows, m.CellWidth, m.CellHeight, bounds), nil)
		}
		for _, v := range m.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return apperrors.NewAggregationError(f.Detector+" map contains non-finite values", nil)
			}
		}
	}
	return nil
}

// overlap is one source cell's share of a heatmap cell along one axis.
type overlap struct {
	index  int
	weight float64
}

// axisOverlaps returns, for every heatmap cell along an axis of length n
// pixels, the source cells it covers and the covered lengths.
func axisOverlaps(n, cells, cellSize, srcCells int) [][]overlap {
	out := make([][]overlap, cells)
	step := float64(n) / float64(cells)
	for i := range out {
		lo, hi := float64(i)*step, float64(i+1)*step
		first := int(lo) / cellSize
		for c := first; c < srcCells; c++ {
			cLo := float64(c * cellSize)
			cHi := math.Min(float64((c+1)*cellSize), float64(n))
			if cLo >= hi {
				break
			}
			if w := math.Min(hi, cHi) - math.Max(lo, cLo); w > 0 {
				out[i] = append(out[i], overlap{index: c, weight: w})
			}
		}
	}
	return out
}

// resampleInto area-averages m onto the heatmap grid and keeps the per-cell
// maximum with what is already there.
func resampleInto(heat *Heatmap, m *analyzer.ErrorMap, width, height int) {
	xs := axisOverlaps(width, heat.Cols, m.CellWidth, m.Cols)
	ys := axisOverlaps(height, heat.Rows, m.CellHeight, m.Rows)
	for r, yo := range ys {
		for c, xo := range xs {
			var sum, area float64
			for _, y := range yo {
				for _, x := range xo {
					a := x.weight * y.weight
					sum += m.At(x.index, y.index) * a
					area += a
				}
			}
			v := numeric.Clamp01(numeric.SafeDiv(sum, area))
			if i := r*heat.Cols + c; v > heat.Values[i] {
				heat.Values[i] = v
			}
		}
	}
}

// maxMergeGrowth bounds a merged box to this multiple of the area of its
// largest member.
const maxMergeGrowth = 2

// MergeRegions unions regions from different detectors whose IoU reaches
// threshold. Pairs are taken in order of decreasing IoU; a pair joins two
// groups only if the groups share no detector and the combined box stays
// within maxMergeGrowth times the largest member. A merged region spans
// the union of its members' boxes, keeps the highest severity and max
// error, averages mean error by area and lists every contributing
// detector. The result is sorted by severity (descending), then area
// (descending), then position.
func MergeRegions(regions []analyzer.Region, threshold float64) []analyzer.Region {
	type pair struct {
		i, j int
		iou  float64
	}
	var pairs []pair
	for i := range regions {
		for j := i + 1; j < len(regions); j++ {
			if iou := regions[i].IoU(regions[j]); iou >= threshold {
				pairs = append(pairs, pair{i, j, iou})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].iou > pairs[b].iou })

	parent := make([]int, len(regions))
	rects := make([]image.Rectangle, len(regions))
	largest := make([]int, len(regions))
	detectors := make([]map[string]bool, len(regions))
	for i, r := range regions {
		parent[i] = i
		rects[i] = r.Rect()
		largest[i] = r.Area()
		detectors[i] = make(map[string]bool, len(r.Detectors))
		for _, d := range r.Detectors {
			detectors[i][d] = true
		}
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for _, p := range pairs {
		a, b := find(p.i), find(p.j)
		if a == b || sharesDetector(detectors[a], detectors[b]) {
			continue
		}
		union := rects[a].Union(rects[b])
		biggest := maxInt(largest[a], largest[b])
		if union.Dx()*union.Dy() > maxMergeGrowth*biggest {
			continue
		}
		if b < a {
			a, b = b, a
		}
		parent[b] = a
		rects[a] = union
		largest[a] = biggest
		for d := range detectors[b] {
			detectors[a][d] = true
		}
	}

	groups := make(map[int][]int)
	var roots []int
	for i := range regions {
		root := find(i)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], i)
	}

	merged := make([]analyzer.Region, 0, len(roots))
	for _, root := range roots {
		merged = append(merged, mergeGroup(regions, groups[root]))
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Area() != b.Area() {
			return a.Area() > b.Area()
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return merged
}

func sharesDetector(a, b map[string]bool) bool {
	for d := range a {
		if b[d] {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func mergeGroup(regions []analyzer.Region, members []int) analyzer.Region {
	first := regions[members[0]]
	rect := first.Rect()
	var severity, maxErr, weighted, area float64
	seen := make(map[string]bool)
	for _, i := range members {
		r := regions[i]
		rect = rect.Union(r.Rect())
		severity = math.Max(severity, r.Severity)
		maxErr = math.Max(maxErr, r.MaxError)
		weighted += r.MeanError * float64(r.Area())
		area += float64(r.Area())
		for _, d := range r.Detectors {
			seen[d] = true
		}
	}

	var detectors []string
	for _, d := range analyzer.DetectorOrder {
		if seen[d] {
			detectors = append(detectors, d)
			delete(seen, d)
		}
	}
	var extra []string
	for d := range seen {
		extra = append(extra, d)
	}
	sort.Strings(extra)
	detectors = append(detectors, extra...)

	return analyzer.Region{
		X:         rect.Min.X,
		Y:         rect.Min.Y,
		Width:     rect.Dx(),
		Height:    rect.Dy(),
		Severity:  numeric.Clamp(severity, 0, 100),
		MeanError: numeric.SafeDiv(weighted, area),
		MaxError:  numeric.Finite(maxErr),
		Detectors: detectors,
	}
}
