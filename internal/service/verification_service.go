package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/notary"
	"go-receipt-forensics/internal/pipeline"
	"go-receipt-forensics/internal/progress"
	"go-receipt-forensics/internal/repository"
	"go-receipt-forensics/internal/scoring"
	"go-receipt-forensics/internal/storage"
	"go-receipt-forensics/pkg/models"
)

// Request is one receipt to verify. Either Image or ImageRef must be set.
type Request struct {
	ReceiptID     string
	Image         []byte
	ImageRef      string
	MerchantName  string
	ClaimedAmount string
	OCRText       string
}

// RequestFromModel converts an API or queue payload.
func RequestFromModel(in models.VerifyRequest) (Request, error) {
	req := Request{
		ReceiptID:     in.ReceiptID,
		MerchantName:  in.MerchantName,
		ClaimedAmount: in.ClaimedAmount,
		OCRText:       in.OCRText,
	}
	set := 0
	if in.ImageURL != "" {
		req.ImageRef = in.ImageURL
		set++
	}
	if in.ObjectKey != "" {
		req.ImageRef = in.ObjectKey
		set++
	}
	if in.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(in.ImageBase64)
		if err != nil {
			return Request{}, apperrors.NewValidationError("image_base64 is not valid base64", err)
		}
		req.Image = data
		set++
	}
	if set != 1 {
		return Request{}, apperrors.NewValidationError("exactly one of image_url, image_base64 or object_key is required", nil)
	}
	return req, nil
}

// Subscription replays the events of a run and then follows it live.
type Subscription struct {
	Replay []progress.Event
	Live   <-chan progress.Event
	Cancel func()
}

// Archiver stores terminal records outside the database.
type Archiver interface {
	ArchiveResult(ctx context.Context, result *models.VerificationResult) ([]string, error)
	ArchiveFailure(ctx context.Context, failure *models.FailureResult) (string, error)
}

// VerificationService schedules verification runs and owns their
// lifecycle from submission to acknowledgement.
type VerificationService interface {
	// Submit schedules a run and returns its ID without waiting.
	Submit(ctx context.Context, req Request) (string, error)
	// Verify runs to completion and returns the terminal status. Run
	// failures are reported in the status; the error covers problems
	// before the run starts.
	Verify(ctx context.Context, req Request) (*models.RunStatus, error)
	Status(ctx context.Context, runID string) (*models.RunStatus, error)
	Subscribe(runID string) (*Subscription, error)
	Cancel(runID string) error
	// Acknowledge releases a persisted run from memory.
	Acknowledge(ctx context.Context, runID string) error
	Stats() map[string]interface{}
	Close()
}

// Dependencies wires a verification service. Only Orchestrator is
// required.
type Dependencies struct {
	Orchestrator *pipeline.Orchestrator
	Source       storage.ImageSource
	Repository   repository.RunRepository
	Archive      Archiver
	Notary       notary.Notarizer
	// Sinks receive every progress event in addition to the built-in
	// memory, metrics and log sinks.
	Sinks  []progress.Sink
	Retry  progress.RetryPolicy
	Logger *logrus.Logger

	Workers        int
	QueueSize      int
	PersistTimeout time.Duration
}

type tracked struct {
	run    *pipeline.AnalysisRun
	cancel context.CancelFunc
	// done is closed once the terminal record has been persisted.
	done chan struct{}
}

type verificationService struct {
	deps      Dependencies
	logger    *logrus.Logger
	pool      *WorkerPool
	publisher *progress.Publisher
	memory    *progress.MemorySink
	metrics   *progress.MetricsSink

	base     context.Context
	stopBase context.CancelFunc

	mu   sync.RWMutex
	runs map[string]*tracked
}

// NewVerificationService creates a new verification service and starts
// its workers.
func NewVerificationService(deps Dependencies) VerificationService {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Repository == nil {
		deps.Repository = repository.NewMemoryRunRepository()
	}
	if deps.PersistTimeout <= 0 {
		deps.PersistTimeout = 30 * time.Second
	}
	if deps.Retry.MaxAttempts <= 0 {
		deps.Retry = progress.DefaultRetryPolicy()
	}

	s := &verificationService{
		deps:      deps,
		logger:    deps.Logger,
		pool:      NewWorkerPool(deps.Workers, deps.QueueSize),
		publisher: progress.NewPublisher(deps.Logger, deps.Retry),
		memory:    progress.NewMemorySink(),
		metrics:   progress.NewMetricsSink(),
		runs:      make(map[string]*tracked),
	}
	s.base, s.stopBase = context.WithCancel(context.Background())

	s.publisher.Subscribe(s.memory)
	s.publisher.Subscribe(s.metrics)
	s.publisher.Subscribe(progress.NewLogSink(deps.Logger))
	for _, sink := range deps.Sinks {
		if sink != nil {
			s.publisher.Subscribe(sink)
		}
	}
	s.pool.Start()
	return s
}

func (s *verificationService) Submit(ctx context.Context, req Request) (string, error) {
	t, err := s.start(ctx, req)
	if err != nil {
		return "", err
	}
	return t.run.ID, nil
}

func (s *verificationService) Verify(ctx context.Context, req Request) (*models.RunStatus, error) {
	t, err := s.start(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		t.cancel()
		<-t.done
	}
	return statusOf(t.run.Snapshot()), nil
}

func (s *verificationService) start(ctx context.Context, req Request) (*tracked, error) {
	data, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	run := pipeline.NewRun(uuid.NewString(), req.ReceiptID)
	runCtx, cancel := context.WithCancel(s.base)
	t := &tracked{run: run, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.runs[run.ID] = t
	s.mu.Unlock()

	preq := pipeline.Request{
		ReceiptID: req.ReceiptID,
		Image:     data,
		OCRText:   req.OCRText,
		Context: scoring.Context{
			MerchantName:  req.MerchantName,
			ClaimedAmount: req.ClaimedAmount,
		},
	}
	if err := s.pool.Submit(func() { s.execute(runCtx, t, preq) }); err != nil {
		s.mu.Lock()
		delete(s.runs, run.ID)
		s.mu.Unlock()
		cancel()
		if errors.Is(err, ErrPoolFull) {
			return nil, apperrors.NewBusyError("too many verifications in progress", err)
		}
		return nil, apperrors.NewBusyError("service is shutting down", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"receipt_id": run.ReceiptID,
		"bytes":      len(data),
	}).Info("Verification run submitted")
	return t, nil
}

func (s *verificationService) load(ctx context.Context, req Request) ([]byte, error) {
	if len(req.Image) > 0 {
		return req.Image, nil
	}
	if req.ImageRef == "" {
		return nil, apperrors.NewValidationError("no image supplied", nil)
	}
	if s.deps.Source == nil {
		return nil, apperrors.NewValidationError("image references are not supported by this deployment", nil)
	}
	data, err := s.deps.Source.Fetch(ctx, req.ImageRef)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewNetworkError("failed to fetch image", err)
	}
	return data, nil
}

func (s *verificationService) execute(ctx context.Context, t *tracked, req pipeline.Request) {
	defer close(t.done)
	defer t.cancel()

	ch := progress.NewChannel(t.run.ID, t.run.ReceiptID, s.publisher)
	_, _ = s.deps.Orchestrator.Execute(ctx, t.run, req, ch)

	flush, cancel := context.WithTimeout(context.Background(), s.deps.PersistTimeout)
	defer cancel()
	if err := ch.Wait(flush); err != nil {
		s.logger.WithField("run_id", t.run.ID).WithError(err).Warn("Progress events still pending")
	}
	s.persist(flush, t.run.Snapshot())
}

// persist records the terminal state. Failures here are logged; the run's
// outcome is already final and visible through Status.
func (s *verificationService) persist(ctx context.Context, snap pipeline.RunSnapshot) {
	log := s.logger.WithFields(logrus.Fields{"run_id": snap.ID, "receipt_id": snap.ReceiptID})
	st := statusOf(snap)

	if st.Result != nil {
		if err := s.deps.Repository.SaveResult(ctx, st.Result); err != nil {
			log.WithError(err).Error("Failed to persist verification result")
		}
		if s.deps.Archive != nil {
			if uris, err := s.deps.Archive.ArchiveResult(ctx, st.Result); err != nil {
				log.WithError(err).Warn("Failed to archive verification result")
			} else if len(uris) > 0 {
				log.WithField("objects", uris).Debug("Verification result archived")
			}
		}
		if s.deps.Notary != nil {
			if err := s.deps.Notary.Notarize(ctx, st.Result); err != nil {
				log.WithError(err).Warn("Failed to notarize verification result")
			}
		}
		return
	}

	if st.Failure != nil {
		if err := s.deps.Repository.SaveFailure(ctx, st.Failure); err != nil {
			log.WithError(err).Error("Failed to persist verification failure")
		}
		if s.deps.Archive != nil {
			if _, err := s.deps.Archive.ArchiveFailure(ctx, st.Failure); err != nil {
				log.WithError(err).Warn("Failed to archive verification failure")
			}
		}
	}
}

func (s *verificationService) lookup(runID string) (*tracked, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.runs[runID]
	return t, ok
}

func (s *verificationService) Status(ctx context.Context, runID string) (*models.RunStatus, error) {
	if t, ok := s.lookup(runID); ok {
		return statusOf(t.run.Snapshot()), nil
	}
	st, err := s.deps.Repository.Get(ctx, runID)
	if errors.Is(err, repository.ErrRunNotFound) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", runID), err)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load run", err)
	}
	return st, nil
}

func (s *verificationService) Subscribe(runID string) (*Subscription, error) {
	if _, ok := s.lookup(runID); !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s is not active", runID), nil)
	}
	replay, live, cancel := s.memory.Subscribe(runID)
	return &Subscription{Replay: replay, Live: live, Cancel: cancel}, nil
}

func (s *verificationService) Cancel(runID string) error {
	t, ok := s.lookup(runID)
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("run %s is not active", runID), nil)
	}
	t.cancel()
	return nil
}

func (s *verificationService) Acknowledge(ctx context.Context, runID string) error {
	t, ok := s.lookup(runID)
	if !ok {
		if _, err := s.Status(ctx, runID); err != nil {
			return err
		}
		return nil
	}
	select {
	case <-t.done:
	default:
		return apperrors.NewConflictError(fmt.Sprintf("run %s is still in progress", runID), nil)
	}

	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
	s.memory.Forget(runID)
	s.logger.WithField("run_id", runID).Debug("Verification run acknowledged")
	return nil
}

func (s *verificationService) Stats() map[string]interface{} {
	s.mu.RLock()
	active := 0
	for _, t := range s.runs {
		if !t.run.State().Terminal() {
			active++
		}
	}
	total := len(s.runs)
	s.mu.RUnlock()

	return map[string]interface{}{
		"runs_active":  active,
		"runs_tracked": total,
		"pool":         s.pool.GetStats(),
		"progress":     s.metrics.GetMetrics(),
	}
}

// Close stops accepting work, waits for queued runs and releases the
// service context.
func (s *verificationService) Close() {
	s.pool.Close()
	s.stopBase()
}
