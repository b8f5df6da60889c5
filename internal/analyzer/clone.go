package analyzer

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/numeric"
	"go-receipt-forensics/internal/progress"
)

const cloneCells = 4

// cloneAnalyzer finds copy-move forgeries: textured patches that occur
// twice in the image at a consistent displacement. Candidate blocks are
// bucketed by a coarse signature and verified pixel by pixel.
type cloneAnalyzer struct {
	opts Options
}

// NewCloneAnalyzer creates the copy-move detector
func NewCloneAnalyzer(opts Options) Analyzer {
	return &cloneAnalyzer{opts: opts}
}

func (a *cloneAnalyzer) Name() string { return DetectorClone }

type blockPos struct{ x, y int }

type cloneMatch struct {
	src, dst blockPos
}

type displacement struct{ dx, dy int }

type cloneCluster struct {
	shift   displacement
	matches []cloneMatch
	order   int
}

func (a *cloneAnalyzer) Analyze(ctx context.Context, img *imaging.Raster, report Reporter) (*Finding, error) {
	opts := a.opts
	w, h := img.Width(), img.Height()
	size := opts.CloneBlockSize
	f := newFinding(DetectorClone)
	f.Map = NewErrorMap(w, h, size)

	if w < size || h < size {
		f.Confidence = 0
		f.Note = "image smaller than one comparison block"
		return f, nil
	}

	luma := img.LumaPlane()
	it := newIntegral(luma, w, h)
	cell := size / cloneCells
	maxDiff := (1 - opts.CloneSimilarity) * 255 * float64(size*size)
	minSep := opts.CloneMinSeparation * opts.CloneMinSeparation

	buckets := make(map[uint64][]blockPos)
	clusters := make(map[displacement]*cloneCluster)
	var textured int

	for y := 0; y+size <= h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if y%64 == 0 {
			report.Report("scanning blocks", progress.Details{"row": progress.Int(int64(y))})
		}
		for x := 0; x+size <= w; x++ {
			if it.stdDev(x, y, x+size, y+size) < opts.CloneMinStdDev {
				continue
			}
			textured++
			var key uint64
			for cy := 0; cy < cloneCells; cy++ {
				for cx := 0; cx < cloneCells; cx++ {
					x0, y0 := x+cx*cell, y+cy*cell
					q := uint64(it.mean(x0, y0, x0+cell, y0+cell)) >> 4
					key = key<<4 | q
				}
			}

			pos := blockPos{x, y}
			bucket := buckets[key]
			for _, prev := range bucket {
				dx, dy := pos.x-prev.x, pos.y-prev.y
				if dx*dx+dy*dy < minSep {
					continue
				}
				if !blocksMatch(luma, w, prev, pos, size, maxDiff) {
					continue
				}
				shift := displacement{dx, dy}
				c, ok := clusters[shift]
				if !ok {
					c = &cloneCluster{shift: shift, order: len(clusters)}
					clusters[shift] = c
				}
				c.matches = append(c.matches, cloneMatch{src: prev, dst: pos})
			}
			if len(bucket) < opts.CloneMaxBucket {
				buckets[key] = append(bucket, pos)
			}
		}
	}

	f.Metrics["textured_blocks"] = float64(textured)
	if textured == 0 {
		f.Confidence = 0.5
		f.Note = "no textured blocks to compare"
	}

	var kept []*cloneCluster
	for _, c := range clusters {
		if len(c.matches) >= opts.CloneMinMatches {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if len(kept[i].matches) != len(kept[j].matches) {
			return len(kept[i].matches) > len(kept[j].matches)
		}
		return kept[i].order < kept[j].order
	})
	if len(kept) > opts.CloneMaxClusters {
		kept = kept[:opts.CloneMaxClusters]
	}

	maxSeverity := 0.0
	for _, c := range kept {
		var src, dst image.Rectangle
		for _, m := range c.matches {
			src = src.Union(image.Rect(m.src.x, m.src.y, m.src.x+size, m.src.y+size))
			dst = dst.Union(image.Rect(m.dst.x, m.dst.y, m.dst.x+size, m.dst.y+size))
			markCoverage(f.Map, m.src, size)
			markCoverage(f.Map, m.dst, size)
		}
		n := float64(len(c.matches))
		sev := 100 * numeric.Clamp01(n/float64(opts.CloneStrongMatches))
		maxSeverity = math.Max(maxSeverity, sev)
		f.Regions = append(f.Regions,
			RegionFromRect(src, sev, n, n, DetectorClone),
			RegionFromRect(dst, sev, n, n, DetectorClone),
		)
	}

	f.Metrics["clusters"] = float64(len(kept))
	f.Signal = numeric.Clamp01(maxSeverity / 100)
	if len(kept) > 0 {
		f.Techniques = append(f.Techniques, "Clone/Copy-Paste Detection")
		f.Note = fmt.Sprintf("%d duplicated area(s), strongest shift (%d, %d)", len(kept), kept[0].shift.dx, kept[0].shift.dy)
	}
	return f, nil
}

// blocksMatch reports whether the summed absolute difference of two blocks
// stays within limit, bailing out as soon as it cannot.
func blocksMatch(luma []float64, w int, a, b blockPos, size int, limit float64) bool {
	var sum float64
	for dy := 0; dy < size; dy++ {
		ra := (a.y+dy)*w + a.x
		rb := (b.y+dy)*w + b.x
		for dx := 0; dx < size; dx++ {
			sum += math.Abs(luma[ra+dx] - luma[rb+dx])
		}
		if sum > limit {
			return false
		}
	}
	return true
}

// markCoverage adds the share of each map cell a matched block covers.
func markCoverage(m *ErrorMap, p blockPos, size int) {
	block := image.Rect(p.x, p.y, p.x+size, p.y+size)
	for r := p.y / m.CellHeight; r <= (p.y+size-1)/m.CellHeight && r < m.Rows; r++ {
		for c := p.x / m.CellWidth; c <= (p.x+size-1)/m.CellWidth && c < m.Cols; c++ {
			cellRect := image.Rect(c*m.CellWidth, r*m.CellHeight, (c+1)*m.CellWidth, (r+1)*m.CellHeight)
			inter := cellRect.Intersect(block)
			share := float64(inter.Dx()*inter.Dy()) / float64(m.CellWidth*m.CellHeight)
			m.Set(c, r, m.At(c, r)+share)
		}
	}
}
