package scoring

import (
	"fmt"
	"reflect"

	"go-receipt-forensics/internal/analyzer"
)

// WeightsVersion identifies the default weights and thresholds. Changing
// any default is a behavioural change and needs a new version.
const WeightsVersion = "fve-weights/1"

// CustomVersion is reported when the configuration differs from the
// defaults.
const CustomVersion = "custom"

// Config holds the point budget per detector and every threshold applied
// to contributions and the final score.
type Config struct {
	Weights map[string]float64

	// Contribution tiers, as fractions of a detector's own budget.
	ReportThreshold float64
	HighFrom        float64
	CriticalFrom    float64

	// Band lower bounds on the final score.
	UnclearFrom    int
	SuspiciousFrom int
	FraudulentFrom int
}

// DefaultConfig returns the documented default weights and thresholds
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			analyzer.DetectorClone:       40,
			analyzer.DetectorELA:         40,
			analyzer.DetectorNoise:       30,
			analyzer.DetectorCompression: 20,
			analyzer.DetectorEdge:        10,
			analyzer.DetectorMetadata:    10,
		},
		ReportThreshold: 0.35,
		HighFrom:        0.6,
		CriticalFrom:    0.8,
		UnclearFrom:     20,
		SuspiciousFrom:  40,
		FraudulentFrom:  70,
	}
}

// Version returns WeightsVersion for the defaults and CustomVersion
// otherwise.
func (c Config) Version() string {
	if reflect.DeepEqual(c, DefaultConfig()) {
		return WeightsVersion
	}
	return CustomVersion
}

// Validate checks weights and threshold ordering
func (c Config) Validate() error {
	for name, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative, got %g", name, w)
		}
	}
	if !(c.ReportThreshold > 0 && c.ReportThreshold < c.HighFrom && c.HighFrom < c.CriticalFrom && c.CriticalFrom <= 1) {
		return fmt.Errorf("tier thresholds must satisfy 0 < report < high < critical <= 1, got %g/%g/%g",
			c.ReportThreshold, c.HighFrom, c.CriticalFrom)
	}
	if !(c.UnclearFrom > 0 && c.UnclearFrom < c.SuspiciousFrom && c.SuspiciousFrom < c.FraudulentFrom && c.FraudulentFrom <= 100) {
		return fmt.Errorf("band thresholds must be strictly ascending within (0, 100], got %d/%d/%d",
			c.UnclearFrom, c.SuspiciousFrom, c.FraudulentFrom)
	}
	return nil
}

// Band maps a score onto a verdict band.
func (c Config) Band(score int) Band {
	switch {
	case score >= c.FraudulentFrom:
		return BandFraudulent
	case score >= c.SuspiciousFrom:
		return BandSuspicious
	case score >= c.UnclearFrom:
		return BandUnclear
	default:
		return BandAuthentic
	}
}

// Tier maps a contribution ratio (contribution / budget) onto a severity.
func (c Config) Tier(ratio float64) Severity {
	switch {
	case ratio < c.ReportThreshold:
		return SeverityPass
	case ratio < c.HighFrom:
		return SeverityMedium
	case ratio < c.CriticalFrom:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
