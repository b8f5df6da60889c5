package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go-receipt-forensics/internal/analyzer"
	"go-receipt-forensics/internal/numeric"
)

type template struct {
	label   string
	pass    string
	flagged string
}

var templates = map[string]template{
	analyzer.DetectorClone: {
		label:   "Clone detection",
		pass:    "No duplicated image patches",
		flagged: "Duplicated image patches (copy-paste)",
	},
	analyzer.DetectorELA: {
		label:   "Error level analysis",
		pass:    "No ELA anomalies detected",
		flagged: "Uneven re-compression error",
	},
	analyzer.DetectorNoise: {
		label:   "Noise analysis",
		pass:    "Consistent noise pattern",
		flagged: "Inconsistent noise pattern",
	},
	analyzer.DetectorCompression: {
		label:   "Compression analysis",
		pass:    "Single compression history",
		flagged: "Mixed compression history",
	},
	analyzer.DetectorEdge: {
		label:   "Edge analysis",
		pass:    "Natural edge transitions",
		flagged: "Unnatural edge transitions",
	},
	analyzer.DetectorMetadata: {
		label:   "Metadata analysis",
		pass:    "No metadata red flags",
		flagged: "Metadata indicates editing",
	},
}

func templateFor(detector string) template {
	if t, ok := templates[detector]; ok {
		return t
	}
	return template{label: detector, pass: detector + " found nothing notable", flagged: detector + " anomaly"}
}

// Score combines detector findings into a verdict. Each detector adds
// weight * signal * confidence points; the sum is capped at 100 and
// rounded. regions only enrich the finding text, and so does ctx.
func Score(regions []analyzer.Region, findings []*analyzer.Finding, ctx Context, cfg Config) Verdict {
	ordered := orderFindings(findings)

	v := Verdict{
		Version:                cfg.Version(),
		Findings:               []Finding{},
		Techniques:             []string{},
		AuthenticityIndicators: []string{},
		Detectors:              []DetectorSummary{},
		ContextChecks:          ctx.Checks,
	}

	var total float64
	for _, f := range ordered {
		budget := math.Max(0, cfg.Weights[f.Detector])
		signal := numeric.Clamp01(f.Signal)
		confidence := numeric.Clamp01(f.Confidence)
		if f.Failed {
			confidence = 0
		}
		contribution := budget * signal * confidence
		total += contribution

		severity := cfg.Tier(numeric.SafeDiv(contribution, budget))
		if budget == 0 {
			severity = SeverityPass
		}
		v.Detectors = append(v.Detectors, DetectorSummary{
			Detector:     f.Detector,
			Signal:       signal,
			Confidence:   confidence,
			Contribution: contribution,
			Budget:       budget,
			Failed:       f.Failed,
			Note:         f.Note,
		})
		v.Findings = append(v.Findings, describe(f, severity, contribution, budget, regions, ctx))

		tpl := templateFor(f.Detector)
		switch {
		case severity != SeverityPass:
			v.Techniques = append(v.Techniques, tpl.flagged)
		case !f.Failed && confidence > 0:
			v.AuthenticityIndicators = append(v.AuthenticityIndicators, tpl.pass)
		}
	}

	v.Score = int(math.Round(math.Min(100, numeric.Finite(total))))
	v.Band = cfg.Band(v.Score)
	v.Summary = summary(v.Band, v.Score)
	return v
}

// orderFindings sorts findings into DetectorOrder, unknown detectors last
// by name. nil entries are dropped.
func orderFindings(findings []*analyzer.Finding) []*analyzer.Finding {
	rank := make(map[string]int, len(analyzer.DetectorOrder))
	for i, d := range analyzer.DetectorOrder {
		rank[d] = i
	}
	out := make([]*analyzer.Finding, 0, len(findings))
	for _, f := range findings {
		if f != nil {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Detector]
		rj, jok := rank[out[j].Detector]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i].Detector < out[j].Detector
		}
	})
	return out
}

func describe(f *analyzer.Finding, severity Severity, contribution, budget float64, regions []analyzer.Region, ctx Context) Finding {
	tpl := templateFor(f.Detector)
	out := Finding{Category: f.Detector, Severity: severity}

	if f.Failed {
		out.Finding = tpl.label + " unavailable"
		out.Explanation = fmt.Sprintf("%s failed (%s): %s. Coverage for this check is unavailable and overall confidence is reduced.",
			tpl.label, f.ErrorKind, strings.TrimSuffix(f.Note, "."))
		return out
	}

	var parts []string
	if severity == SeverityPass {
		out.Finding = tpl.pass
		if f.Confidence <= 0 {
			parts = append(parts, fmt.Sprintf("%s could not gather evidence", tpl.label))
		}
	} else {
		out.Finding = tpl.flagged
		if n, top := regionsFor(f.Detector, regions); n > 0 {
			parts = append(parts, fmt.Sprintf("%d suspicious region(s), strongest severity %.0f at (%d, %d) %dx%d",
				n, top.Severity, top.X, top.Y, top.Width, top.Height))
		}
		parts = append(parts, f.Techniques...)
		if ctx.ClaimedAmount != "" {
			parts = append(parts, fmt.Sprintf("verify the claimed amount %s against the original receipt", ctx.ClaimedAmount))
		}
		if ctx.MerchantName != "" {
			parts = append(parts, fmt.Sprintf("claimed merchant %q", ctx.MerchantName))
		}
	}
	if f.Note != "" {
		parts = append(parts, f.Note)
	}
	parts = append(parts, fmt.Sprintf("contributes %.1f of %.0f points", contribution, budget))
	out.Explanation = strings.Join(parts, "; ") + "."
	return out
}

// regionsFor counts merged regions a detector supports and returns the
// first, which is the most severe because regions arrive sorted.
func regionsFor(detector string, regions []analyzer.Region) (int, analyzer.Region) {
	var n int
	var top analyzer.Region
	for _, r := range regions {
		for _, d := range r.Detectors {
			if d == detector {
				if n == 0 {
					top = r
				}
				n++
				break
			}
		}
	}
	return n, top
}

func summary(band Band, score int) string {
	switch band {
	case BandFraudulent:
		return fmt.Sprintf("FRAUDULENT: %d/100 manipulation score. Multiple forgery indicators found.", score)
	case BandSuspicious:
		return fmt.Sprintf("SUSPICIOUS: %d/100 manipulation score. Some anomalies detected, verification recommended.", score)
	case BandUnclear:
		return fmt.Sprintf("UNCLEAR: %d/100 manipulation score. Insufficient evidence for a definitive verdict.", score)
	default:
		return fmt.Sprintf("AUTHENTIC: %d/100 manipulation score. No significant forgery indicators detected.", score)
	}
}
