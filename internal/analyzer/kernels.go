package analyzer

import "math"

// integral is a summed-area table over a float plane, with an extra zero
// row and column so any rectangle sum is four lookups.
type integral struct {
	w, h  int
	sum   []float64
	sumSq []float64
}

func newIntegral(plane []float64, w, h int) *integral {
	stride := w + 1
	it := &integral{
		w:     w,
		h:     h,
		sum:   make([]float64, stride*(h+1)),
		sumSq: make([]float64, stride*(h+1)),
	}
	for y := 0; y < h; y++ {
		var row, rowSq float64
		for x := 0; x < w; x++ {
			v := plane[y*w+x]
			row += v
			rowSq += v * v
			it.sum[(y+1)*stride+x+1] = it.sum[y*stride+x+1] + row
			it.sumSq[(y+1)*stride+x+1] = it.sumSq[y*stride+x+1] + rowSq
		}
	}
	return it
}

func (it *integral) rectSum(tab []float64, x0, y0, x1, y1 int) float64 {
	stride := it.w + 1
	return tab[y1*stride+x1] - tab[y0*stride+x1] - tab[y1*stride+x0] + tab[y0*stride+x0]
}

// mean returns the mean over [x0, x1) x [y0, y1).
func (it *integral) mean(x0, y0, x1, y1 int) float64 {
	n := float64((x1 - x0) * (y1 - y0))
	if n <= 0 {
		return 0
	}
	return it.rectSum(it.sum, x0, y0, x1, y1) / n
}

// stdDev returns the population standard deviation over the rectangle.
func (it *integral) stdDev(x0, y0, x1, y1 int) float64 {
	n := float64((x1 - x0) * (y1 - y0))
	if n <= 0 {
		return 0
	}
	m := it.rectSum(it.sum, x0, y0, x1, y1) / n
	v := it.rectSum(it.sumSq, x0, y0, x1, y1)/n - m*m
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// gradients holds Sobel responses. Border pixels are zero.
type gradients struct {
	gx, gy, mag []float64
}

func sobel(plane []float64, w, h int) gradients {
	g := gradients{
		gx:  make([]float64, len(plane)),
		gy:  make([]float64, len(plane)),
		mag: make([]float64, len(plane)),
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			p := func(dx, dy int) float64 { return plane[(y+dy)*w+x+dx] }
			gx := (p(1, -1) + 2*p(1, 0) + p(1, 1)) - (p(-1, -1) + 2*p(-1, 0) + p(-1, 1))
			gy := (p(-1, 1) + 2*p(0, 1) + p(1, 1)) - (p(-1, -1) + 2*p(0, -1) + p(1, -1))
			i := y*w + x
			g.gx[i], g.gy[i] = gx, gy
			g.mag[i] = math.Hypot(gx, gy)
		}
	}
	return g
}

// laplacianResidual is the pixel minus the mean of its eight neighbours.
// Callers keep (x, y) off the border.
func laplacianResidual(plane []float64, w, x, y int) float64 {
	i := y*w + x
	n := plane[i-w-1] + plane[i-w] + plane[i-w+1] +
		plane[i-1] + plane[i+1] +
		plane[i+w-1] + plane[i+w] + plane[i+w+1]
	return plane[i] - n/8
}
