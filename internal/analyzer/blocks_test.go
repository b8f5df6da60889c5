package analyzer

import (
	"context"
	"math"
	"reflect"
	"sync/atomic"
	"testing"
)

func TestComponents(t *testing.T) {
	// 4x3 grid:
	// X X . X
	// . X . X
	// X . . .
	flags := []bool{
		true, true, false, true,
		false, true, false, true,
		true, false, false, false,
	}
	got := components(flags, 4, 3)
	want := [][]int{{0, 1, 5}, {3, 7}, {8}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("components = %v, want %v", got, want)
	}
}

func TestComponentsIgnoresDiagonals(t *testing.T) {
	flags := []bool{
		true, false,
		false, true,
	}
	if got := components(flags, 2, 2); len(got) != 2 {
		t.Errorf("expected 2 components, got %v", got)
	}
}

func TestRobustStats(t *testing.T) {
	median, sigma := robustStats([]float64{1, 2, 3, 4, 100})
	if median != 3 {
		t.Errorf("median = %f, want 3", median)
	}
	// deviations 2,1,0,1,97 -> MAD 1
	if math.Abs(sigma-madScale) > 1e-9 {
		t.Errorf("sigma = %f, want %f", sigma, madScale)
	}
	if z := robustZ(100, median, sigma); z < 50 {
		t.Errorf("expected the outlier to stand out, z = %f", z)
	}

	median, sigma = robustStats(nil)
	if median != 0 || sigma != 0 {
		t.Errorf("empty stats = (%f, %f)", median, sigma)
	}
}

func TestRobustZFlatData(t *testing.T) {
	median, sigma := robustStats([]float64{5, 5, 5, 5})
	if z := robustZ(5, median, sigma); z != 0 {
		t.Errorf("z of the median on flat data = %f, want 0", z)
	}
	if z := robustZ(6, median, sigma); math.IsInf(z, 0) || math.IsNaN(z) {
		t.Errorf("z must stay finite, got %f", z)
	}
}

func TestBlockGridPartialBlocks(t *testing.T) {
	g := newBlockGrid(20, 10, 8)
	if g.cols != 3 || g.rows != 2 {
		t.Fatalf("grid = %dx%d, want 3x2", g.cols, g.rows)
	}
	last := g.rect(len(g.values) - 1)
	if last.Min.X != 16 || last.Max.X != 20 || last.Min.Y != 8 || last.Max.Y != 10 {
		t.Errorf("last block = %v", last)
	}
	if r := g.componentRect([]int{0, 1, 4}); r.Dx() != 16 || r.Dy() != 10 {
		t.Errorf("component rect = %v", r)
	}
}

func TestIntegral(t *testing.T) {
	plane := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	it := newIntegral(plane, 3, 2)
	if m := it.mean(0, 0, 3, 2); m != 3.5 {
		t.Errorf("mean = %f, want 3.5", m)
	}
	if m := it.mean(1, 1, 3, 2); m != 5.5 {
		t.Errorf("mean = %f, want 5.5", m)
	}
	if s := it.stdDev(0, 0, 1, 1); s != 0 {
		t.Errorf("single pixel std = %f, want 0", s)
	}
	if s := it.stdDev(0, 0, 3, 1); math.Abs(s-math.Sqrt(2.0/3)) > 1e-9 {
		t.Errorf("std = %f", s)
	}
}

func TestForRowsCoversEveryRow(t *testing.T) {
	var seen [97]int32
	err := forRows(context.Background(), len(seen), func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			atomic.AddInt32(&seen[y], 1)
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for y, n := range seen {
		if n != 1 {
			t.Fatalf("row %d visited %d times", y, n)
		}
	}
}

func TestForRowsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	if err := forRows(ctx, 10, func(int, int) { called = true }); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("no work should start after cancellation")
	}
}

func TestSobelAndResidual(t *testing.T) {
	w, h := 5, 5
	plane := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= 3 {
				plane[y*w+x] = 100
			}
		}
	}
	g := sobel(plane, w, h)
	if g.mag[2*w+2] <= 0 || g.gy[2*w+2] != 0 {
		t.Errorf("expected a horizontal gradient at the step, got gx=%f gy=%f", g.gx[2*w+2], g.gy[2*w+2])
	}
	if g.mag[0] != 0 {
		t.Error("border must stay zero")
	}
	if r := laplacianResidual(plane, w, 1, 1); r != 0 {
		t.Errorf("flat residual = %f", r)
	}
}
