package service

import (
	"time"

	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/pipeline"
	"go-receipt-forensics/pkg/models"
)

func statusOf(snap pipeline.RunSnapshot) *models.RunStatus {
	st := &models.RunStatus{
		RunID:     snap.ID,
		ReceiptID: snap.ReceiptID,
		State:     string(snap.State),
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Result != nil {
		st.Result = resultOf(snap.ID, snap.ReceiptID, snap.Result)
	}
	if snap.Failure != nil {
		st.Failure = failureOf(snap.ID, snap.ReceiptID, snap.UpdatedAt, snap.Failure)
	}
	return st
}

func resultOf(runID, receiptID string, res *pipeline.Result) *models.VerificationResult {
	v := res.Verdict
	out := &models.VerificationResult{
		RunID:                  runID,
		ReceiptID:              receiptID,
		Timestamp:              res.Completed,
		ProcessingTimeSec:      res.Duration.Seconds(),
		Width:                  res.Width,
		Height:                 res.Height,
		AnalysisWidth:          res.AnalysisWidth,
		AnalysisHeight:         res.AnalysisHeight,
		ManipulationScore:      v.Score,
		VerdictBand:            string(v.Band),
		Heatmap:                res.Heatmap.Grid(),
		SuspiciousRegions:      make([]models.SuspiciousRegion, 0, len(res.Regions)),
		Findings:               make([]models.Finding, 0, len(v.Findings)),
		Summary:                v.Summary,
		TechniquesDetected:     v.Techniques,
		AuthenticityIndicators: v.AuthenticityIndicators,
		ScoringVersion:         v.Version,
	}
	for _, r := range res.Regions {
		out.SuspiciousRegions = append(out.SuspiciousRegions, models.SuspiciousRegion{
			X:         r.X,
			Y:         r.Y,
			Width:     r.Width,
			Height:    r.Height,
			Severity:  r.Severity,
			MeanError: r.MeanError,
			MaxError:  r.MaxError,
			Detectors: r.Detectors,
		})
	}
	for _, f := range v.Findings {
		out.Findings = append(out.Findings, models.Finding{
			Category:    f.Category,
			Severity:    string(f.Severity),
			Finding:     f.Finding,
			Explanation: f.Explanation,
		})
	}
	for _, d := range v.Detectors {
		out.Detectors = append(out.Detectors, models.DetectorSummary(d))
	}
	for _, h := range res.Hotspots {
		out.Hotspots = append(out.Hotspots, models.Hotspot(h))
	}
	for _, c := range v.ContextChecks {
		out.ContextChecks = append(out.ContextChecks, models.ContextCheck(c))
	}
	return out
}

func failureOf(runID, receiptID string, at time.Time, f *pipeline.Failure) *models.FailureResult {
	return &models.FailureResult{
		RunID:     runID,
		ReceiptID: receiptID,
		Timestamp: at,
		ErrorKind: string(f.Kind),
		Message:   f.Message,
		Retryable: apperrors.IsRetryable(f.Kind),
	}
}
