package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink receives progress events. Publish must be safe for concurrent use
// across runs; events of a single run arrive in order from one goroutine.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Name() string
}

// RetryPolicy bounds redelivery to a failing sink.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// DefaultRetryPolicy retries three times with linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
		Timeout:     5 * time.Second,
	}
}

// Publisher fans one event stream out to a dynamic set of sinks. Every
// sink receives every event in publish order; a failing delivery is
// retried, so a sink may see the same sequence number twice.
type Publisher struct {
	mu     sync.RWMutex
	sinks  []Sink
	policy RetryPolicy
	logger *logrus.Logger
}

// NewPublisher creates a publisher with the given retry policy.
func NewPublisher(logger *logrus.Logger, policy RetryPolicy) *Publisher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{policy: policy, logger: logger}
}

// Subscribe adds a sink
func (p *Publisher) Subscribe(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, sink)
}

// Unsubscribe removes the sink with the given name
func (p *Publisher) Unsubscribe(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.sinks {
		if s.Name() == name {
			p.sinks = append(p.sinks[:i], p.sinks[i+1:]...)
			break
		}
	}
}

// Name implements Sink.
func (p *Publisher) Name() string { return "publisher" }

// Publish delivers event to every sink. Delivery failures are logged and
// never returned: progress reporting must not fail an analysis.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	p.mu.RLock()
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.RUnlock()

	for _, s := range sinks {
		if err := p.deliver(ctx, s, event); err != nil {
			p.logger.WithFields(logrus.Fields{
				"sink":     s.Name(),
				"run_id":   event.RunID,
				"sequence": event.Sequence,
				"stage":    event.Stage,
			}).WithError(err).Error("Progress delivery failed")
		}
	}
	return nil
}

func (p *Publisher) deliver(ctx context.Context, s Sink, event Event) (err error) {
	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		err = p.deliverOnce(ctx, s, event)
		if err == nil {
			return nil
		}
		if attempt == p.policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.policy.Backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.policy.MaxAttempts, err)
}

func (p *Publisher) deliverOnce(ctx context.Context, s Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", s.Name(), r)
		}
	}()
	if p.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.policy.Timeout)
		defer cancel()
	}
	return s.Publish(ctx, event)
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a logging sink
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, event Event) error {
	entry := s.logger.WithFields(logrus.Fields(event.Flatten()))
	switch {
	case event.Terminal && event.Details["error_kind"].String() != "":
		entry.Error(event.Message)
	case event.Terminal:
		entry.Info(event.Message)
	default:
		entry.Debug(event.Message)
	}
	return nil
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

func (f SinkFunc) Name() string { return "func" }
