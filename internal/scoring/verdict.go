package scoring

// Band is the discrete verdict derived from the score.
type Band string

const (
	BandAuthentic  Band = "authentic"
	BandUnclear    Band = "unclear"
	BandSuspicious Band = "suspicious"
	BandFraudulent Band = "fraudulent"
)

// Severity of one forensic finding.
type Severity string

const (
	SeverityPass     Severity = "pass"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is one human-readable forensic finding.
type Finding struct {
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Finding     string   `json:"finding"`
	Explanation string   `json:"explanation"`
}

// DetectorSummary reports how one detector fed into the score.
type DetectorSummary struct {
	Detector     string  `json:"detector"`
	Signal       float64 `json:"signal"`
	Confidence   float64 `json:"confidence"`
	Contribution float64 `json:"contribution"`
	Budget       float64 `json:"budget"`
	Failed       bool    `json:"failed,omitempty"`
	Note         string  `json:"note,omitempty"`
}

// ContextCheck is a fact derived from caller context or OCR. Checks only
// enrich explanations.
type ContextCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Context is optional caller-supplied information about the receipt.
type Context struct {
	MerchantName  string
	ClaimedAmount string
	Checks        []ContextCheck
}

// Verdict is the scorer's output.
type Verdict struct {
	Score                  int               `json:"manipulation_score"`
	Band                   Band              `json:"verdict_band"`
	Findings               []Finding         `json:"findings"`
	Summary                string            `json:"summary"`
	Techniques             []string          `json:"techniques_detected"`
	AuthenticityIndicators []string          `json:"authenticity_indicators"`
	Detectors              []DetectorSummary `json:"detectors"`
	ContextChecks          []ContextCheck    `json:"context_checks,omitempty"`
	Version                string            `json:"scoring_version"`
}
