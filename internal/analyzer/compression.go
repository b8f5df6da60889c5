package analyzer

import (
	"context"
	"fmt"
	"image"
	"math"

	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/numeric"
	"go-receipt-forensics/internal/progress"
)

const jpegBlock = 8

// compressionAnalyzer looks for two kinds of compression inconsistency:
// tiles whose 8x8 blocking grid is shifted against the global grid, and
// blocks whose DCT coefficients ignore the quantization the rest of the
// image was saved with.
type compressionAnalyzer struct {
	opts Options
}

// NewCompressionAnalyzer creates the compression artifact detector
func NewCompressionAnalyzer(opts Options) Analyzer {
	return &compressionAnalyzer{opts: opts}
}

func (a *compressionAnalyzer) Name() string { return DetectorCompression }

// gridEstimate is the dominant blocking phase along one axis and how far
// its boundary discontinuity stands above the other phases.
type gridEstimate struct {
	phase    int
	strength float64
	bins     [jpegBlock]float64
}

// strengthAt returns the excess discontinuity at a given phase.
func (g gridEstimate) strengthAt(phase int) float64 {
	var others float64
	for p, v := range g.bins {
		if p != phase {
			others += v
		}
	}
	others /= jpegBlock - 1
	return numeric.SafeDiv(g.bins[phase]-others, others)
}

// blockiness measures |L(x) - L(x-1)| per x mod 8 (horizontal) and
// |L(y) - L(y-1)| per y mod 8 (vertical) inside rect.
func blockiness(luma []float64, w int, rect image.Rectangle) (gridEstimate, gridEstimate) {
	var hx, vx gridEstimate
	var hn, vn [jpegBlock]int
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			v := luma[y*w+x]
			if x > 0 {
				hx.bins[x%jpegBlock] += math.Abs(v - luma[y*w+x-1])
				hn[x%jpegBlock]++
			}
			if y > 0 {
				vx.bins[y%jpegBlock] += math.Abs(v - luma[(y-1)*w+x])
				vn[y%jpegBlock]++
			}
		}
	}
	for _, est := range []struct {
		g *gridEstimate
		n *[jpegBlock]int
	}{{&hx, &hn}, {&vx, &vn}} {
		for p := range est.g.bins {
			est.g.bins[p] = numeric.SafeDiv(est.g.bins[p], float64(est.n[p]))
		}
		for p := range est.g.bins {
			if est.g.bins[p] > est.g.bins[est.g.phase] {
				est.g.phase = p
			}
		}
		est.g.strength = est.g.strengthAt(est.g.phase)
	}
	return hx, vx
}

func (a *compressionAnalyzer) Analyze(ctx context.Context, img *imaging.Raster, report Reporter) (*Finding, error) {
	opts := a.opts
	w, h := img.Width(), img.Height()
	luma := img.LumaPlane()
	f := newFinding(DetectorCompression)
	f.Map = NewErrorMap(w, h, jpegBlock)

	gx, gy := blockiness(luma, w, img.Bounds())
	globalStrength := (gx.strength + gy.strength) / 2
	f.Metrics["grid_strength"] = globalStrength
	f.Metrics["grid_phase_x"] = float64(gx.phase)
	f.Metrics["grid_phase_y"] = float64(gy.phase)

	// Without a visible grid the blocks are assumed to start at the origin.
	gridSignal, ox, oy := 0.0, 0, 0
	if globalStrength >= opts.CompressionGridStrength {
		report.Report("checking grid alignment", progress.Details{"strength": progress.Float(globalStrength)})
		var err error
		if gridSignal, err = a.misalignedTiles(ctx, f, luma, w, h, gx, gy); err != nil {
			return nil, err
		}
		ox, oy = gx.phase, gy.phase
	}
	report.Report("checking quantization", nil)
	quantSignal, err := a.unquantizedBlocks(ctx, f, luma, w, h, ox, oy)
	if err != nil {
		return nil, err
	}

	f.Signal = numeric.Clamp01(math.Max(gridSignal, quantSignal))
	if gridSignal > 0 {
		f.Techniques = append(f.Techniques, "Misaligned JPEG block grid - content compressed separately")
	}
	if quantSignal > 0 {
		f.Techniques = append(f.Techniques, "Blocks that do not follow the image's JPEG quantization")
	}
	return f, nil
}

// misalignedTiles flags tiles that carry their own blocking grid at a
// phase different from the global one.
func (a *compressionAnalyzer) misalignedTiles(ctx context.Context, f *Finding, luma []float64, w, h int, gx, gy gridEstimate) (float64, error) {
	opts := a.opts
	tiles := newBlockGrid(w, h, opts.CompressionTileSize)
	strength := make([]float64, len(tiles.values))
	flags := make([]bool, len(tiles.values))
	for i := range tiles.values {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rect := tiles.rect(i)
		if rect.Dx() < 2*jpegBlock || rect.Dy() < 2*jpegBlock {
			continue
		}
		lx, ly := blockiness(luma, w, rect)
		local := (lx.strength + ly.strength) / 2
		atGlobal := (lx.strengthAt(gx.phase) + ly.strengthAt(gy.phase)) / 2
		shifted := lx.phase != gx.phase || ly.phase != gy.phase
		strength[i] = local
		flags[i] = local >= opts.CompressionGridStrength && shifted && atGlobal < opts.CompressionGridStrength/2
	}

	signal := 0.0
	for _, comp := range components(flags, tiles.cols, tiles.rows) {
		var sum, peak float64
		for _, i := range comp {
			sum += strength[i]
			peak = math.Max(peak, strength[i])
			tileRect := tiles.rect(i)
			for y := tileRect.Min.Y / jpegBlock; y < (tileRect.Max.Y+jpegBlock-1)/jpegBlock; y++ {
				for x := tileRect.Min.X / jpegBlock; x < (tileRect.Max.X+jpegBlock-1)/jpegBlock; x++ {
					f.Map.Raise(x, y, strength[i])
				}
			}
		}
		sev := 100 * numeric.Clamp01(peak)
		signal = math.Max(signal, sev/100)
		f.Regions = append(f.Regions, RegionFromRect(tiles.componentRect(comp), sev, sum/float64(len(comp)), peak, DetectorCompression))
	}
	f.Metrics["misaligned_tiles"] = float64(countTrue(flags))
	return signal, nil
}

// dctBasis[k][n] is the orthonormal 8-point DCT-II that JPEG applies to
// every block.
var dctBasis = func() (b [jpegBlock][jpegBlock]float64) {
	for k := 0; k < jpegBlock; k++ {
		scale := math.Sqrt(2.0 / jpegBlock)
		if k == 0 {
			scale = math.Sqrt(1.0 / jpegBlock)
		}
		for n := 0; n < jpegBlock; n++ {
			b[k][n] = scale * math.Cos(float64((2*n+1)*k)*math.Pi/(2*jpegBlock))
		}
	}
	return b
}()

type dctBlock [jpegBlock * jpegBlock]float64

// blockDCT transforms the 8x8 block whose top-left pixel is (x0, y0).
// Coefficient (u, v) lands at out[v*8+u].
func blockDCT(luma []float64, w, x0, y0 int, out *dctBlock) {
	var rows dctBlock
	for y := 0; y < jpegBlock; y++ {
		line := luma[(y0+y)*w+x0 : (y0+y)*w+x0+jpegBlock]
		for u := 0; u < jpegBlock; u++ {
			var s float64
			for x, p := range line {
				s += dctBasis[u][x] * (p - 128)
			}
			rows[y*jpegBlock+u] = s
		}
	}
	for u := 0; u < jpegBlock; u++ {
		for v := 0; v < jpegBlock; v++ {
			var s float64
			for y := 0; y < jpegBlock; y++ {
				s += dctBasis[v][y] * rows[y*jpegBlock+u]
			}
			out[v*jpegBlock+u] = s
		}
	}
}

const (
	quantFloor      = 1.5
	quantMinSupport = 16
	quantFit        = 0.9
	quantMinStep    = 3
	quantMaxStep    = 32
)

// quantStep estimates the quantization step of one frequency from its
// coefficients across all blocks: the largest step that quantFit of the
// non-negligible coefficients sit on. It returns 0 without enough
// support or when no step fits.
func quantStep(coeffs []float64) float64 {
	var support []float64
	for _, c := range coeffs {
		if math.Abs(c) >= quantFloor {
			support = append(support, c)
		}
	}
	if len(support) < quantMinSupport {
		return 0
	}
	for q := quantMaxStep; q >= quantMinStep; q-- {
		step := float64(q)
		tol := math.Max(0.6, 0.1*step)
		hits := 0
		for _, c := range support {
			if math.Abs(c-step*math.Round(c/step)) <= tol {
				hits++
			}
		}
		if float64(hits) >= quantFit*float64(len(support)) {
			return step
		}
	}
	return 0
}

// unquantizedBlocks recovers the quantization steps the image was last
// saved with and flags blocks whose coefficients fall between the steps.
// Content pasted after that save does not share the quantization.
func (a *compressionAnalyzer) unquantizedBlocks(ctx context.Context, f *Finding, luma []float64, w, h, ox, oy int) (float64, error) {
	opts := a.opts
	cols, rows := (w-ox)/jpegBlock, (h-oy)/jpegBlock
	if cols < 1 || rows < 1 {
		return 0, nil
	}
	blocks := make([]dctBlock, cols*rows)
	for br := 0; br < rows; br++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for bc := 0; bc < cols; bc++ {
			blockDCT(luma, w, ox+bc*jpegBlock, oy+br*jpegBlock, &blocks[br*cols+bc])
		}
	}

	var steps [jpegBlock * jpegBlock]float64
	coeffs := make([]float64, len(blocks))
	quantized := 0
	for k := 1; k < len(steps); k++ {
		for i := range blocks {
			coeffs[i] = blocks[i][k]
		}
		if steps[k] = quantStep(coeffs); steps[k] > 0 {
			quantized++
		}
	}
	f.Metrics["quantized_frequencies"] = float64(quantized)
	if quantized < opts.CompressionMinFrequencies {
		return 0, nil
	}

	// A block whose coefficients sit at random offsets from the steps has
	// a mean squared offset of 1/12 step, which scores 1.
	scores := make([]float64, len(blocks))
	flags := make([]bool, len(blocks))
	for i := range blocks {
		var sum float64
		for k, q := range steps {
			if q == 0 {
				continue
			}
			r := blocks[i][k]/q - math.Round(blocks[i][k]/q)
			sum += r * r
		}
		scores[i] = 12 * sum / float64(quantized)
		flags[i] = scores[i] >= opts.CompressionResidualThreshold
		if flags[i] {
			x0, y0 := ox+(i%cols)*jpegBlock, oy+(i/cols)*jpegBlock
			f.Map.Raise((x0+jpegBlock/2)/jpegBlock, (y0+jpegBlock/2)/jpegBlock, scores[i])
		}
	}

	signal := 0.0
	maxBlocks := opts.CompressionMaxRegionShare * float64(len(blocks))
	for _, comp := range components(flags, cols, rows) {
		if len(comp) < opts.MinRegionBlocks || float64(len(comp)) > maxBlocks {
			continue
		}
		var rect image.Rectangle
		var sum, peak float64
		for _, i := range comp {
			x0, y0 := ox+(i%cols)*jpegBlock, oy+(i/cols)*jpegBlock
			rect = rect.Union(image.Rect(x0, y0, x0+jpegBlock, y0+jpegBlock))
			sum += scores[i]
			peak = math.Max(peak, scores[i])
		}
		mean := sum / float64(len(comp))
		sev := 100 * numeric.Clamp01(mean)
		signal = math.Max(signal, sev/100)
		f.Regions = append(f.Regions, RegionFromRect(rect, sev, mean, peak, DetectorCompression))
	}
	f.Metrics["unquantized_blocks"] = float64(countTrue(flags))
	if signal > 0 {
		f.Note = fmt.Sprintf("%d block(s) off the JPEG quantization", countTrue(flags))
	}
	return signal, nil
}

func countTrue(flags []bool) int {
	n := 0
	for _, b := range flags {
		if b {
			n++
		}
	}
	return n
}
