package scoring

import (
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-receipt-forensics/internal/analyzer"
)

func finding(detector string, signal, confidence float64) *analyzer.Finding {
	return &analyzer.Finding{Detector: detector, Signal: signal, Confidence: confidence, Metrics: map[string]float64{}}
}

func quietFindings() []*analyzer.Finding {
	out := make([]*analyzer.Finding, 0, len(analyzer.DetectorOrder))
	for _, d := range analyzer.DetectorOrder {
		out = append(out, finding(d, 0, 1))
	}
	return out
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, WeightsVersion, cfg.Version())

	cfg.Weights[analyzer.DetectorEdge] = 15
	assert.Equal(t, CustomVersion, cfg.Version())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Weights[analyzer.DetectorELA] = -1 }},
		{"report above high", func(c *Config) { c.ReportThreshold = 0.7 }},
		{"critical above one", func(c *Config) { c.CriticalFrom = 1.2 }},
		{"bands not ascending", func(c *Config) { c.SuspiciousFrom = 20 }},
		{"fraudulent above 100", func(c *Config) { c.FraudulentFrom = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBands(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		score int
		want  Band
	}{
		{0, BandAuthentic},
		{19, BandAuthentic},
		{20, BandUnclear},
		{39, BandUnclear},
		{40, BandSuspicious},
		{69, BandSuspicious},
		{70, BandFraudulent},
		{100, BandFraudulent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Band(tt.score), "score %d", tt.score)
	}
}

func TestTiers(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		ratio float64
		want  Severity
	}{
		{0, SeverityPass},
		{0.34, SeverityPass},
		{0.35, SeverityMedium},
		{0.59, SeverityMedium},
		{0.6, SeverityHigh},
		{0.79, SeverityHigh},
		{0.8, SeverityCritical},
		{1, SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Tier(tt.ratio), "ratio %f", tt.ratio)
	}
}

func TestScoreQuietReceipt(t *testing.T) {
	findings := quietFindings()
	findings[5].Signal = 0.2 // metadata: no EXIF

	v := Score(nil, findings, Context{}, DefaultConfig())

	assert.Equal(t, 2, v.Score)
	assert.Equal(t, BandAuthentic, v.Band)
	require.Len(t, v.Findings, len(analyzer.DetectorOrder))
	for i, f := range v.Findings {
		assert.Equal(t, analyzer.DetectorOrder[i], f.Category)
		assert.Equal(t, SeverityPass, f.Severity)
	}
	assert.Empty(t, v.Techniques)
	assert.Contains(t, v.AuthenticityIndicators, "Consistent noise pattern")
	assert.True(t, strings.HasPrefix(v.Summary, "AUTHENTIC"))
	assert.Equal(t, WeightsVersion, v.Version)
}

func TestScoreForgery(t *testing.T) {
	findings := quietFindings()
	findings[0].Signal = 1   // clone
	findings[1].Signal = 1   // ela
	findings[2].Signal = 0.7 // noise
	regions := []analyzer.Region{
		analyzer.RegionFromRect(image.Rect(160, 200, 216, 240), 100, 50, 80, analyzer.DetectorClone),
	}
	regions[0].Detectors = append(regions[0].Detectors, analyzer.DetectorELA)

	v := Score(regions, findings, Context{ClaimedAmount: "1500"}, DefaultConfig())

	assert.Equal(t, 100, v.Score)
	assert.Equal(t, BandFraudulent, v.Band)
	assert.Equal(t, SeverityCritical, v.Findings[0].Severity)
	assert.Equal(t, SeverityCritical, v.Findings[1].Severity)
	assert.Equal(t, SeverityHigh, v.Findings[2].Severity)
	assert.Contains(t, v.Findings[0].Explanation, "1 suspicious region(s)")
	assert.Contains(t, v.Findings[0].Explanation, "claimed amount 1500")
	assert.Equal(t, []string{
		"Duplicated image patches (copy-paste)",
		"Uneven re-compression error",
		"Inconsistent noise pattern",
	}, v.Techniques)
}

func TestScoreWeighting(t *testing.T) {
	findings := quietFindings()
	// ela: 40 * 0.5 * 0.5 = 10, compression: 20 * 0.75 = 15
	findings[1].Signal = 0.5
	findings[1].Confidence = 0.5
	findings[3].Signal = 0.75

	v := Score(nil, findings, Context{}, DefaultConfig())
	assert.Equal(t, 25, v.Score)
	assert.Equal(t, BandUnclear, v.Band)
	assert.InDelta(t, 10, v.Detectors[1].Contribution, 1e-9)
	assert.InDelta(t, 15, v.Detectors[3].Contribution, 1e-9)
	assert.Equal(t, SeverityPass, v.Findings[1].Severity, "0.25 of budget stays below the report threshold")
	assert.Equal(t, SeverityHigh, v.Findings[3].Severity)
}

func TestScoreFailedDetector(t *testing.T) {
	findings := quietFindings()
	findings[0] = analyzer.FailedFinding(analyzer.DetectorClone, "analyzer_error", "panic: index out of range")
	findings[0].Signal = 1 // ignored for failed detectors

	v := Score(nil, findings, Context{}, DefaultConfig())
	assert.Equal(t, 0, v.Score)
	assert.Equal(t, SeverityPass, v.Findings[0].Severity)
	assert.Equal(t, "Clone detection unavailable", v.Findings[0].Finding)
	assert.Contains(t, v.Findings[0].Explanation, "confidence is reduced")
	assert.True(t, v.Detectors[0].Failed)
	assert.NotContains(t, v.AuthenticityIndicators, "No duplicated image patches")
}

func TestScoreIgnoresContext(t *testing.T) {
	findings := quietFindings()
	findings[1].Signal = 0.7

	plain := Score(nil, findings, Context{}, DefaultConfig())
	withCtx := Score(nil, findings, Context{
		MerchantName:  "Corner Shop",
		ClaimedAmount: "1,500,000",
		Checks:        []ContextCheck{{Name: "merchant_match", Passed: false, Detail: "similarity 0.20"}},
	}, DefaultConfig())

	assert.Equal(t, plain.Score, withCtx.Score)
	assert.Equal(t, plain.Band, withCtx.Band)
	assert.Len(t, withCtx.ContextChecks, 1)
	assert.NotEqual(t, plain.Findings[1].Explanation, withCtx.Findings[1].Explanation)
}

func TestScoreIsMonotonicAndCapped(t *testing.T) {
	prev := -1
	for s := 0.0; s <= 1.0; s += 0.1 {
		findings := quietFindings()
		for _, f := range findings {
			f.Signal = s
		}
		v := Score(nil, findings, Context{}, DefaultConfig())
		assert.GreaterOrEqual(t, v.Score, prev)
		assert.LessOrEqual(t, v.Score, 100)
		prev = v.Score
	}
	assert.Equal(t, 100, prev)
}

func TestScoreOrdersFindings(t *testing.T) {
	findings := quietFindings()
	findings[0], findings[5] = findings[5], findings[0]
	findings = append(findings, nil, finding("zz_custom", 1, 1))

	v := Score(nil, findings, Context{}, DefaultConfig())
	require.Len(t, v.Findings, 7)
	assert.Equal(t, analyzer.DetectorClone, v.Findings[0].Category)
	assert.Equal(t, analyzer.DetectorMetadata, v.Findings[5].Category)
	assert.Equal(t, "zz_custom", v.Findings[6].Category)
	assert.Equal(t, SeverityPass, v.Findings[6].Severity, "unweighted detectors never count")
}
