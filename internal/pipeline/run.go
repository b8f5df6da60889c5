package pipeline

import (
	"fmt"
	"sync"
	"time"

	"go-receipt-forensics/internal/aggregator"
	"go-receipt-forensics/internal/analyzer"
	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/scoring"
)

// State of an AnalysisRun.
type State string

const (
	StateCreated     State = "created"
	StateLoading     State = "loading"
	StateAnalyzing   State = "analyzing"
	StateAggregating State = "aggregating"
	StateScoring     State = "scoring"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

var nextState = map[State]State{
	StateCreated:     StateLoading,
	StateLoading:     StateAnalyzing,
	StateAnalyzing:   StateAggregating,
	StateAggregating: StateScoring,
	StateScoring:     StateComplete,
}

// Result is everything a completed run produced. Width, Height, Regions
// and Hotspots are in source-image pixels; Findings keep the raster
// coordinates their detectors worked in.
type Result struct {
	Width          int
	Height         int
	AnalysisWidth  int
	AnalysisHeight int
	Verdict        scoring.Verdict
	Heatmap        aggregator.Heatmap
	Regions        []analyzer.Region
	Findings       []*analyzer.Finding
	Hotspots       []analyzer.Hotspot
	Duration       time.Duration
	Completed      time.Time
}

// Failure is the terminal record of a failed run.
type Failure struct {
	Kind    apperrors.ErrorType
	Message string
}

// AnalysisRun correlates one receipt image with its events and its single
// terminal outcome. Only the orchestrator mutates it; other goroutines
// read it through Snapshot.
type AnalysisRun struct {
	ID        string
	ReceiptID string
	CreatedAt time.Time

	mu        sync.RWMutex
	state     State
	updatedAt time.Time
	result    *Result
	failure   *Failure
}

// NewRun creates a run in StateCreated.
func NewRun(id, receiptID string) *AnalysisRun {
	now := time.Now().UTC()
	return &AnalysisRun{
		ID:        id,
		ReceiptID: receiptID,
		CreatedAt: now,
		state:     StateCreated,
		updatedAt: now,
	}
}

// RunSnapshot is a consistent copy of a run's mutable fields.
type RunSnapshot struct {
	ID        string
	ReceiptID string
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
	Result    *Result
	Failure   *Failure
}

// Snapshot returns the current state of the run.
func (r *AnalysisRun) Snapshot() RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RunSnapshot{
		ID:        r.ID,
		ReceiptID: r.ReceiptID,
		State:     r.state,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.updatedAt,
		Result:    r.result,
		Failure:   r.failure,
	}
}

// State returns the current state.
func (r *AnalysisRun) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// advance moves the run to the next stage; to must be the successor of the
// current state.
func (r *AnalysisRun) advance(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nextState[r.state] != to {
		return fmt.Errorf("invalid run transition %s -> %s", r.state, to)
	}
	r.state = to
	r.updatedAt = time.Now().UTC()
	return nil
}

func (r *AnalysisRun) complete(res *Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateScoring {
		return fmt.Errorf("invalid run transition %s -> %s", r.state, StateComplete)
	}
	r.state = StateComplete
	r.result = res
	r.updatedAt = time.Now().UTC()
	return nil
}

// fail moves any non-terminal run to StateFailed. It returns false if the
// run had already terminated.
func (r *AnalysisRun) fail(kind apperrors.ErrorType, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return false
	}
	r.state = StateFailed
	r.failure = &Failure{Kind: kind, Message: message}
	r.result = nil
	r.updatedAt = time.Now().UTC()
	return true
}
