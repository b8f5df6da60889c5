package progress

import (
	"context"
	"errors"
	"time"

	"go.uber.org/atomic"
)

// ErrClosed is returned when publishing to a channel that already emitted
// its terminal event.
var ErrClosed = errors.New("progress channel closed")

const defaultQueueSize = 128

type envelope struct {
	epoch      int64
	transition bool
	terminal   bool
	stage      string
	message    string
	progress   int
	details    Details
}

// Channel serializes the events of one run. Any goroutine may enqueue; a
// single writer goroutine assigns sequence numbers, clamps progress so it
// never decreases, stamps the time and hands events to the sink in order.
//
// Stage transitions open a new epoch. Sub-progress reports carry the epoch
// they were created in and are dropped once a later transition has been
// written, so late reports from a timed-out analyzer can never appear
// after the stage that spawned it.
type Channel struct {
	runID     string
	receiptID string
	sink      Sink

	queue   chan envelope
	stopped chan struct{}
	closed  atomic.Bool

	seq           atomic.Int64
	producerEpoch atomic.Int64
	producerStage atomic.String

	// writer-owned
	epoch    int64
	progress int

	now func() time.Time
}

// ChannelOption customizes a Channel.
type ChannelOption func(*Channel)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ChannelOption {
	return func(c *Channel) { c.now = now }
}

// WithQueueSize sets the producer queue capacity.
func WithQueueSize(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.queue = make(chan envelope, n)
		}
	}
}

// NewChannel starts the writer for one run.
func NewChannel(runID, receiptID string, sink Sink, opts ...ChannelOption) *Channel {
	c := &Channel{
		runID:     runID,
		receiptID: receiptID,
		sink:      sink,
		queue:     make(chan envelope, defaultQueueSize),
		stopped:   make(chan struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// Transition enqueues a stage-change event and opens a new epoch. Only the
// run's owner calls it.
func (c *Channel) Transition(stage, message string, progress int, details Details) error {
	epoch := c.producerEpoch.Inc()
	c.producerStage.Store(stage)
	return c.enqueue(envelope{
		epoch:      epoch,
		transition: true,
		stage:      stage,
		message:    message,
		progress:   progress,
		details:    details,
	})
}

// Progress enqueues a non-transition event for the current stage with an
// explicit progress value.
func (c *Channel) Progress(message string, progress int, details Details) error {
	return c.enqueue(envelope{
		epoch:    c.producerEpoch.Load(),
		stage:    c.producerStage.Load(),
		message:  message,
		progress: progress,
		details:  details,
	})
}

// Finish enqueues the terminal event and closes the channel to further
// events. It does not wait for delivery; see Wait.
func (c *Channel) Finish(stage, message string, progress int, details Details) error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	epoch := c.producerEpoch.Inc()
	env := envelope{
		epoch:      epoch,
		transition: true,
		terminal:   true,
		stage:      stage,
		message:    message,
		progress:   progress,
		details:    details,
	}
	select {
	case c.queue <- env:
		return nil
	case <-c.stopped:
		return ErrClosed
	}
}

// Reporter returns a handle for sub-progress bound to the current stage.
func (c *Channel) Reporter() *StageReporter {
	return &StageReporter{
		ch:    c,
		epoch: c.producerEpoch.Load(),
		stage: c.producerStage.Load(),
	}
}

// Wait blocks until the terminal event has been handed to the sink or ctx
// ends.
func (c *Channel) Wait(ctx context.Context) error {
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sequence returns the last assigned sequence number.
func (c *Channel) Sequence() int64 { return c.seq.Load() }

// Closed reports whether the terminal event has been enqueued.
func (c *Channel) Closed() bool { return c.closed.Load() }

func (c *Channel) enqueue(env envelope) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.queue <- env:
		return nil
	case <-c.stopped:
		return ErrClosed
	}
}

func (c *Channel) run() {
	defer close(c.stopped)

	for env := range c.queue {
		if !env.transition && env.epoch != c.epoch {
			continue
		}
		if env.transition {
			c.epoch = env.epoch
		}

		if env.progress > c.progress {
			c.progress = env.progress
		}
		if c.progress > 100 {
			c.progress = 100
		}

		event := Event{
			RunID:     c.runID,
			ReceiptID: c.receiptID,
			Sequence:  c.seq.Inc(),
			Stage:     env.stage,
			Message:   env.message,
			Progress:  c.progress,
			Terminal:  env.terminal,
			Details:   env.details,
			Timestamp: c.now().UTC(),
		}
		if c.sink != nil {
			_ = c.sink.Publish(context.Background(), event)
		}

		if env.terminal {
			return
		}
	}
}

// StageReporter publishes sub-progress for the stage it was created in.
// It is safe for concurrent use.
type StageReporter struct {
	ch    *Channel
	epoch int64
	stage string
}

// Report enqueues a sub-progress event. Reports made after the stage ended
// are discarded.
func (r *StageReporter) Report(message string, details Details) {
	if r == nil || r.ch == nil {
		return
	}
	_ = r.ch.enqueue(envelope{
		epoch:    r.epoch,
		stage:    r.stage,
		message:  message,
		progress: -1,
		details:  details,
	})
}
