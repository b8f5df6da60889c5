package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"go-receipt-forensics/internal/aggregator"
	"go-receipt-forensics/internal/analyzer"
	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/imaging"
	"go-receipt-forensics/internal/logger"
	"go-receipt-forensics/internal/progress"
	"go-receipt-forensics/internal/scoring"
)

// Progress percentages reported at each stage boundary.
const (
	progressLoading     = 5
	progressAnalyzing   = 20
	progressAnalyzed    = 70
	progressAggregating = 75
	progressScoring     = 90
	progressComplete    = 100
)

// Request is one verification job.
type Request struct {
	ReceiptID string
	Image     []byte
	Context   scoring.Context
	// OCRText is text an upstream extractor already read from the receipt.
	OCRText string
}

// Options bounds a run.
type Options struct {
	MaxDimension    int
	RunTimeout      time.Duration
	AnalyzerTimeout time.Duration
	Aggregator      aggregator.Config
	Scoring         scoring.Config
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		MaxDimension:    imaging.DefaultMaxDimension,
		RunTimeout:      60 * time.Second,
		AnalyzerTimeout: 20 * time.Second,
		Aggregator:      aggregator.DefaultConfig(),
		Scoring:         scoring.DefaultConfig(),
	}
}

// Orchestrator drives AnalysisRuns through their stages.
type Orchestrator struct {
	analyzers     []analyzer.Analyzer
	collaborators []Collaborator
	opts          Options
	logger        *logrus.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCollaborators registers context collaborators.
func WithCollaborators(c ...Collaborator) Option {
	return func(o *Orchestrator) { o.collaborators = append(o.collaborators, c...) }
}

// WithLogger overrides the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an orchestrator for the given detectors.
func NewOrchestrator(analyzers []analyzer.Analyzer, opts Options, options ...Option) *Orchestrator {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = imaging.DefaultMaxDimension
	}
	if opts.Aggregator.HeatmapSize <= 0 {
		opts.Aggregator = aggregator.DefaultConfig()
	}
	if opts.Scoring.Weights == nil {
		opts.Scoring = scoring.DefaultConfig()
	}
	o := &Orchestrator{
		analyzers: analyzers,
		opts:      opts,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Execute runs req to completion on run, publishing every stage on ch.
// It always finishes ch with exactly one terminal event. The returned
// error is non-nil only for run-fatal failures and carries the error kind.
func (o *Orchestrator) Execute(parent context.Context, run *AnalysisRun, req Request, ch *progress.Channel) (*Result, error) {
	start := time.Now()
	log := logger.ForRun(o.logger, run.ID, run.ReceiptID)

	ctx, cancel := parent, context.CancelFunc(func() {})
	if o.opts.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, o.opts.RunTimeout)
	}
	defer cancel()

	fail := func(err error) (*Result, error) {
		appErr := classify(parent, ctx, err)
		if !run.fail(appErr.Type, appErr.Message) {
			return nil, appErr
		}
		log.WithError(err).WithField("error_kind", appErr.Type).Error("verification run failed")
		_ = ch.Finish(string(StateFailed), appErr.Message, -1, progress.DetailsFrom(map[string]interface{}{
			"error_kind":  string(appErr.Type),
			"duration_ms": time.Since(start),
		}))
		return nil, appErr
	}
	enter := func(state State, message string, pct int, details progress.Details) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := run.advance(state); err != nil {
			return apperrors.NewInternalError(err.Error(), err)
		}
		log.WithField("stage", state).Info(message)
		return ch.Transition(string(state), message, pct, details)
	}

	if err := enter(StateLoading, "Decoding receipt image", progressLoading, progress.Details{
		"bytes": progress.Int(int64(len(req.Image))),
	}); err != nil {
		return fail(err)
	}
	img, err := imaging.Normalize(req.Image, o.opts.MaxDimension)
	if err != nil {
		return fail(err)
	}

	if err := enter(StateAnalyzing, fmt.Sprintf("Running %d forensic detectors", len(o.analyzers)), progressAnalyzing, progress.Details{
		"detectors": progress.Int(int64(len(o.analyzers))),
		"width":     progress.Int(int64(img.Width())),
		"height":    progress.Int(int64(img.Height())),
	}); err != nil {
		return fail(err)
	}
	findings, checks, err := o.analyze(ctx, img, req, ch, log)
	if err != nil {
		return fail(err)
	}

	if err := enter(StateAggregating, "Merging suspicious regions", progressAggregating, nil); err != nil {
		return fail(err)
	}
	heat, regions, err := aggregator.Aggregate(img.Width(), img.Height(), findings, o.opts.Aggregator)
	if err != nil {
		return fail(err)
	}
	regions = regionsToSource(img, regions)

	if err := enter(StateScoring, "Scoring manipulation evidence", progressScoring, progress.Details{
		"regions": progress.Int(int64(len(regions))),
	}); err != nil {
		return fail(err)
	}
	sctx := req.Context
	sctx.Checks = append(append([]scoring.ContextCheck(nil), sctx.Checks...), checks...)
	verdict := scoring.Score(regions, findings, sctx, o.opts.Scoring)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	width, height := img.OriginalSize()
	res := &Result{
		Width:          width,
		Height:         height,
		AnalysisWidth:  img.Width(),
		AnalysisHeight: img.Height(),
		Verdict:        verdict,
		Heatmap:        heat,
		Regions:        regions,
		Findings:       findings,
		Hotspots:       hotspotsToSource(img, hotspotsOf(findings)),
		Duration:       time.Since(start),
		Completed:      time.Now().UTC(),
	}
	if err := run.complete(res); err != nil {
		return fail(apperrors.NewInternalError(err.Error(), err))
	}
	log.WithFields(logrus.Fields{
		"score":       verdict.Score,
		"band":        verdict.Band,
		"duration_ms": res.Duration.Milliseconds(),
	}).Info("verification run complete")
	_ = ch.Finish(string(StateComplete), verdict.Summary, progressComplete, progress.Details{
		"manipulation_score": progress.Int(int64(verdict.Score)),
		"verdict_band":       progress.String(string(verdict.Band)),
		"regions":            progress.Int(int64(len(regions))),
		"duration_ms":        progress.Coerce(res.Duration),
	})
	return res, nil
}

type settled struct {
	index   int
	finding *analyzer.Finding
	status  string
}

type collected struct {
	name    string
	checks  []scoring.ContextCheck
	details progress.Details
	err     error
}

// analyze fans the detectors and collaborators out and waits for all of
// them to settle. Only run-level cancellation or timeout is returned as
// an error; detector failures become failed findings.
func (o *Orchestrator) analyze(ctx context.Context, img *imaging.Raster, req Request, ch *progress.Channel, log *logrus.Entry) ([]*analyzer.Finding, []scoring.ContextCheck, error) {
	reporter := ch.Reporter()
	results := make(chan settled, len(o.analyzers))
	for i, a := range o.analyzers {
		go func(i int, a analyzer.Analyzer) {
			f, status := o.runAnalyzer(ctx, a, img, detectorReporter{name: a.Name(), r: reporter}, log)
			results <- settled{index: i, finding: f, status: status}
		}(i, a)
	}

	extras := make(chan collected, len(o.collaborators))
	for _, c := range o.collaborators {
		go func(c Collaborator) {
			extras <- o.runCollaborator(ctx, c, img, req)
		}(c)
	}

	findings := make([]*analyzer.Finding, len(o.analyzers))
	for n := 1; n <= len(o.analyzers); n++ {
		select {
		case s := <-results:
			findings[s.index] = s.finding
			pct := progressAnalyzing + (progressAnalyzed-progressAnalyzing)*n/len(o.analyzers)
			_ = ch.Progress(fmt.Sprintf("%s %s", s.finding.Detector, s.status), pct, progress.Details{
				"detector":   progress.String(s.finding.Detector),
				"status":     progress.String(s.status),
				"signal":     progress.Float(s.finding.Signal),
				"confidence": progress.Float(s.finding.Confidence),
				"settled":    progress.Int(int64(n)),
			})
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	var checks []scoring.ContextCheck
	for range o.collaborators {
		select {
		case c := <-extras:
			if c.err != nil {
				log.WithError(c.err).WithField("collaborator", c.name).Warn("context collaborator failed")
				_ = ch.Progress(c.name+" unavailable", -1, progress.DetailsFrom(map[string]interface{}{
					"collaborator": c.name,
					"error":        c.err,
				}))
				continue
			}
			checks = append(checks, c.checks...)
			_ = ch.Progress(c.name+" complete", -1, c.details.With("collaborator", c.name))
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	return findings, checks, nil
}

// runAnalyzer runs one detector under its own timeout. A panic, error or
// timeout yields a failed finding; the detector goroutine is abandoned if
// it ignores cancellation.
func (o *Orchestrator) runAnalyzer(ctx context.Context, a analyzer.Analyzer, img *imaging.Raster, rep analyzer.Reporter, log *logrus.Entry) (*analyzer.Finding, string) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if o.opts.AnalyzerTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, o.opts.AnalyzerTimeout)
	}
	defer cancel()

	type outcome struct {
		f   *analyzer.Finding
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.WithField("detector", a.Name()).WithField("stack", string(debug.Stack())).Error("detector panicked")
				done <- outcome{err: apperrors.NewAnalyzerError(fmt.Sprintf("panic: %v", p), nil)}
			}
		}()
		f, err := a.Analyze(actx, img, rep)
		done <- outcome{f: f, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-actx.Done():
		out = outcome{err: actx.Err()}
	}

	if out.err == nil && out.f == nil {
		out.err = apperrors.NewAnalyzerError("detector returned no finding", nil)
	}
	if out.err == nil {
		out.f.Detector = a.Name()
		return out.f, "complete"
	}

	kind, note := apperrors.ErrorTypeAnalyzer, out.err.Error()
	if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
		kind, note = apperrors.ErrorTypeTimeout, fmt.Sprintf("timed out after %s", o.opts.AnalyzerTimeout)
	}
	log.WithError(out.err).WithFields(logrus.Fields{"detector": a.Name(), "error_kind": kind}).Warn("detector failed")
	return analyzer.FailedFinding(a.Name(), string(kind), note), "failed"
}

func (o *Orchestrator) runCollaborator(ctx context.Context, c Collaborator, img *imaging.Raster, req Request) (out collected) {
	out.name = c.Name()
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if o.opts.AnalyzerTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, o.opts.AnalyzerTimeout)
	}
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			out.err = fmt.Errorf("collaborator panic: %v", p)
		}
	}()
	out.checks, out.details, out.err = c.Collect(cctx, img, req)
	return out
}

// detectorReporter tags sub-progress with the detector name.
type detectorReporter struct {
	name string
	r    *progress.StageReporter
}

func (d detectorReporter) Report(message string, details progress.Details) {
	d.r.Report(d.name+": "+message, details.With("detector", d.name))
}

// classify maps a fatal error onto a run error kind. Context errors are
// attributed to the caller (cancelled) or to the run budget (timeout).
func classify(parent, ctx context.Context, err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return apperrors.NewCancelledError("verification cancelled by caller", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewTimeoutError("verification exceeded the run time limit", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewCancelledError("verification cancelled", err)
	case errors.As(err, &appErr):
		return appErr
	default:
		return apperrors.NewInternalError(err.Error(), err)
	}
}

func hotspotsOf(findings []*analyzer.Finding) []analyzer.Hotspot {
	for _, f := range findings {
		if f != nil && f.Detector == analyzer.DetectorELA {
			return f.Hotspots
		}
	}
	return nil
}

func regionsToSource(img *imaging.Raster, regions []analyzer.Region) []analyzer.Region {
	out := make([]analyzer.Region, len(regions))
	for i, r := range regions {
		out[i] = r.WithRect(img.ToSource(r.Rect()))
	}
	return out
}

func hotspotsToSource(img *imaging.Raster, hotspots []analyzer.Hotspot) []analyzer.Hotspot {
	if len(hotspots) == 0 {
		return nil
	}
	out := make([]analyzer.Hotspot, len(hotspots))
	for i, h := range hotspots {
		out[i] = h.WithRect(img.ToSource(h.Rect()))
	}
	return out
}
