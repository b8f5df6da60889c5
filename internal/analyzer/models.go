package analyzer

import (
	"image"
	"math"

	"go-receipt-forensics/internal/numeric"
)

// Detector categories. They double as finding categories in results.
const (
	DetectorClone       = "clone_detection"
	DetectorELA         = "ela_analysis"
	DetectorNoise       = "noise_analysis"
	DetectorCompression = "compression_analysis"
	DetectorEdge        = "edge_analysis"
	DetectorMetadata    = "metadata_analysis"
)

// DetectorOrder is the fixed presentation and scoring order.
var DetectorOrder = []string{
	DetectorClone,
	DetectorELA,
	DetectorNoise,
	DetectorCompression,
	DetectorEdge,
	DetectorMetadata,
}

// Region is a suspicious bounding box. Detectors report it in raster
// pixels; run results carry it in source-image pixels.
type Region struct {
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Severity  float64  `json:"severity"`
	MeanError float64  `json:"mean_error"`
	MaxError  float64  `json:"max_error"`
	Detectors []string `json:"detectors"`
}

// Rect returns the region as an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// WithRect returns a copy of r moved to rect.
func (r Region) WithRect(rect image.Rectangle) Region {
	r.X, r.Y, r.Width, r.Height = rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()
	r.Detectors = append([]string(nil), r.Detectors...)
	return r
}

// Area returns width*height.
func (r Region) Area() int { return r.Width * r.Height }

// IoU returns the intersection-over-union of two regions.
func (r Region) IoU(o Region) float64 {
	inter := r.Rect().Intersect(o.Rect())
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	return numeric.SafeDiv(ia, float64(r.Area()+o.Area())-ia)
}

// RegionFromRect builds a region from a rectangle.
func RegionFromRect(rect image.Rectangle, severity, meanErr, maxErr float64, detector string) Region {
	return Region{
		X:         rect.Min.X,
		Y:         rect.Min.Y,
		Width:     rect.Dx(),
		Height:    rect.Dy(),
		Severity:  numeric.Clamp(severity, 0, 100),
		MeanError: numeric.Finite(meanErr),
		MaxError:  numeric.Finite(maxErr),
		Detectors: []string{detector},
	}
}

// ErrorMap is a coarse grid of per-cell suspicion in [0, 1]. Cell (c, r)
// covers source pixels [c*CellWidth, (c+1)*CellWidth) x [r*CellHeight,
// (r+1)*CellHeight), clipped to the image.
type ErrorMap struct {
	Cols       int
	Rows       int
	CellWidth  int
	CellHeight int
	Values     []float64
}

// NewErrorMap allocates a map covering a width x height image with square
// cells of the given size.
func NewErrorMap(width, height, cell int) *ErrorMap {
	if cell < 1 {
		cell = 1
	}
	cols := (width + cell - 1) / cell
	rows := (height + cell - 1) / cell
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return &ErrorMap{
		Cols:       cols,
		Rows:       rows,
		CellWidth:  cell,
		CellHeight: cell,
		Values:     make([]float64, cols*rows),
	}
}

// At returns the value of cell (c, r).
func (m *ErrorMap) At(c, r int) float64 { return m.Values[r*m.Cols+c] }

// Set stores v, clamped to [0, 1], in cell (c, r).
func (m *ErrorMap) Set(c, r int, v float64) { m.Values[r*m.Cols+c] = numeric.Clamp01(v) }

// Raise stores max(current, v) in cell (c, r).
func (m *ErrorMap) Raise(c, r int, v float64) {
	v = numeric.Clamp01(v)
	if i := r*m.Cols + c; v > m.Values[i] {
		m.Values[i] = v
	}
}

// Max returns the largest cell value.
func (m *ErrorMap) Max() float64 {
	best := 0.0
	for _, v := range m.Values {
		best = math.Max(best, v)
	}
	return best
}

// Hotspot is a window where many pixels changed under re-compression.
type Hotspot struct {
	X             int     `json:"x"`
	Y             int     `json:"y"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Intensity     float64 `json:"intensity"`
	ChangedPixels int     `json:"changed_pixels"`
}

// Rect returns the hotspot window as an image rectangle.
func (h Hotspot) Rect() image.Rectangle {
	return image.Rect(h.X, h.Y, h.X+h.Width, h.Y+h.Height)
}

// WithRect returns a copy of h moved to rect.
func (h Hotspot) WithRect(rect image.Rectangle) Hotspot {
	h.X, h.Y, h.Width, h.Height = rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()
	return h
}

// Finding is the output of one analyzer.
type Finding struct {
	Detector string

	// Map may be nil for detectors without spatial output.
	Map     *ErrorMap
	Regions []Region

	// Signal is the normalized evidence strength in [0, 1].
	Signal float64
	// Confidence in [0, 1] scales how far Signal is trusted. Failed
	// detectors report 0.
	Confidence float64

	Metrics    map[string]float64
	Techniques []string
	Hotspots   []Hotspot
	Note       string

	Failed    bool
	ErrorKind string
}

// FailedFinding records a detector that could not produce evidence.
func FailedFinding(detector, kind, note string) *Finding {
	return &Finding{
		Detector:   detector,
		Confidence: 0,
		Failed:     true,
		ErrorKind:  kind,
		Note:       note,
		Metrics:    map[string]float64{},
	}
}

func newFinding(detector string) *Finding {
	return &Finding{
		Detector:   detector,
		Confidence: 1,
		Metrics:    map[string]float64{},
	}
}
