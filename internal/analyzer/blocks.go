package analyzer

import (
	"context"
	"image"
	"math"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"go-receipt-forensics/internal/numeric"
)

// madScale converts a median absolute deviation into a standard deviation
// estimate for normally distributed data.
const madScale = 1.4826

// blockGrid holds one statistic per square block. Blocks on the right and
// bottom edges may be partial.
type blockGrid struct {
	cols, rows int
	size       int
	width      int
	height     int
	values     []float64
	valid      []bool
}

func newBlockGrid(width, height, size int) *blockGrid {
	cols := (width + size - 1) / size
	rows := (height + size - 1) / size
	return &blockGrid{
		cols:   cols,
		rows:   rows,
		size:   size,
		width:  width,
		height: height,
		values: make([]float64, cols*rows),
		valid:  make([]bool, cols*rows),
	}
}

// rect returns the pixel rectangle of block i.
func (g *blockGrid) rect(i int) image.Rectangle {
	c, r := i%g.cols, i/g.cols
	x0, y0 := c*g.size, r*g.size
	return image.Rect(x0, y0, minInt(x0+g.size, g.width), minInt(y0+g.size, g.height))
}

// validValues returns the values of valid blocks.
func (g *blockGrid) validValues() []float64 {
	out := make([]float64, 0, len(g.values))
	for i, v := range g.values {
		if g.valid[i] {
			out = append(out, v)
		}
	}
	return out
}

// robustStats returns the median and the MAD-based standard deviation of
// values. Both are 0 for an empty slice.
func robustStats(values []float64) (median, sigma float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - median)
	}
	sort.Float64s(dev)
	return median, stat.Quantile(0.5, stat.Empirical, dev, nil) * madScale
}

// robustZ is the outlier score of v against a median and robust sigma.
func robustZ(v, median, sigma float64) float64 {
	return numeric.SafeDiv(v-median, sigma)
}

// components groups flagged blocks into 4-connected components. Components
// are returned in row-major order of their first block and each lists its
// blocks in visit order, so the output is deterministic.
func components(flags []bool, cols, rows int) [][]int {
	seen := make([]bool, len(flags))
	var out [][]int
	for start := range flags {
		if !flags[start] || seen[start] {
			continue
		}
		seen[start] = true
		queue := []int{start}
		for head := 0; head < len(queue); head++ {
			i := queue[head]
			c, r := i%cols, i/cols
			for _, n := range [4][2]int{{c, r - 1}, {c - 1, r}, {c + 1, r}, {c, r + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= cols || n[1] >= rows {
					continue
				}
				j := n[1]*cols + n[0]
				if flags[j] && !seen[j] {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}
		out = append(out, queue)
	}
	return out
}

// componentRect is the union of the block rectangles in comp.
func (g *blockGrid) componentRect(comp []int) image.Rectangle {
	var rect image.Rectangle
	for _, i := range comp {
		rect = rect.Union(g.rect(i))
	}
	return rect
}

// forRows splits [0, height) into horizontal strips and runs fn on each
// strip concurrently. It returns ctx.Err() if the context ended before or
// during the work.
func forRows(ctx context.Context, height int, fn func(y0, y1 int)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	workers := runtime.NumCPU()
	if height < workers {
		workers = height
	}
	if workers < 1 {
		return nil
	}
	rowsPerWorker := (height + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < height; start += rowsPerWorker {
		end := minInt(start+rowsPerWorker, height)
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			fn(y0, y1)
		}(start, end)
	}
	wg.Wait()
	return ctx.Err()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
