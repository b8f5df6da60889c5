package analyzer

import (
	"context"

	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/progress"
)

// Analyzer is one independent forensic detector. Implementations must treat
// the raster as read-only and keep no state between calls, so any number
// of analyzers may run over the same raster concurrently.
type Analyzer interface {
	// Name is the detector category, e.g. "ela_analysis".
	Name() string

	// Analyze inspects img and returns exactly one finding. Long loops
	// check ctx and stop early with ctx.Err().
	Analyze(ctx context.Context, img *imaging.Raster, report Reporter) (*Finding, error)
}

// Reporter receives optional sub-progress notes from a running analyzer.
type Reporter interface {
	Report(message string, details progress.Details)
}

type nopReporter struct{}

func (nopReporter) Report(string, progress.Details) {}

// NopReporter discards every report.
func NopReporter() Reporter { return nopReporter{} }
