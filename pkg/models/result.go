package models

import "time"

// VerificationResult is the terminal record of a completed verification.
// It is what the API returns, what the repository stores and what the
// archive writes.
type VerificationResult struct {
	RunID     string    `json:"run_id"`
	ReceiptID string    `json:"receipt_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	ProcessingTimeSec float64 `json:"processing_time_sec"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	AnalysisWidth     int     `json:"analysis_width"`
	AnalysisHeight    int     `json:"analysis_height"`

	ManipulationScore int                `json:"manipulation_score"`
	VerdictBand       string             `json:"verdict_band"`
	Heatmap           [][]float64        `json:"heatmap"`
	SuspiciousRegions []SuspiciousRegion `json:"suspicious_regions"`
	Findings          []Finding          `json:"findings"`

	Summary                string            `json:"summary,omitempty"`
	TechniquesDetected     []string          `json:"techniques_detected,omitempty"`
	AuthenticityIndicators []string          `json:"authenticity_indicators,omitempty"`
	Detectors              []DetectorSummary `json:"detectors,omitempty"`
	Hotspots               []Hotspot         `json:"hotspots,omitempty"`
	ContextChecks          []ContextCheck    `json:"context_checks,omitempty"`
	ScoringVersion         string            `json:"scoring_version,omitempty"`
}

// HeatmapSize returns the grid dimensions as rows, cols.
func (r *VerificationResult) HeatmapSize() (int, int) {
	if len(r.Heatmap) == 0 {
		return 0, 0
	}
	return len(r.Heatmap), len(r.Heatmap[0])
}

// SuspiciousRegion is a flagged bounding box in source-image pixels.
type SuspiciousRegion struct {
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Severity  float64  `json:"severity"`
	MeanError float64  `json:"mean_error"`
	MaxError  float64  `json:"max_error"`
	Detectors []string `json:"detectors"`
}

// Finding is one human-readable forensic finding.
type Finding struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Finding     string `json:"finding"`
	Explanation string `json:"explanation"`
}

type DetectorSummary struct {
	Detector     string  `json:"detector"`
	Signal       float64 `json:"signal"`
	Confidence   float64 `json:"confidence"`
	Contribution float64 `json:"contribution"`
	Budget       float64 `json:"budget"`
	Failed       bool    `json:"failed,omitempty"`
	Note         string  `json:"note,omitempty"`
}

// Hotspot is a window, in source-image pixels, where re-compression
// changed many pixels.
type Hotspot struct {
	X             int     `json:"x"`
	Y             int     `json:"y"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Intensity     float64 `json:"intensity"`
	ChangedPixels int     `json:"changed_pixels"`
}

type ContextCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// FailureResult is the terminal record of a failed verification. It never
// carries a score or heatmap.
type FailureResult struct {
	RunID     string    `json:"run_id"`
	ReceiptID string    `json:"receipt_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ErrorKind string    `json:"error_kind"`
	Message   string    `json:"message"`
	// Retryable is set when resubmitting the same receipt may succeed.
	Retryable bool `json:"retryable,omitempty"`
}

// RunStatus is the polling view of a run.
type RunStatus struct {
	RunID     string              `json:"run_id"`
	ReceiptID string              `json:"receipt_id,omitempty"`
	State     string              `json:"state"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Result    *VerificationResult `json:"result,omitempty"`
	Failure   *FailureResult      `json:"failure,omitempty"`
}
