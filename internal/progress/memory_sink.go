package progress

import (
	"context"
	"sync"
)

const subscriberBuffer = 256

type runLog struct {
	events []Event
	subs   map[int]chan Event
	done   bool
}

// MemorySink keeps every event per run in memory and lets callers follow a
// run live. Subscribers that fall behind by more than the buffer are cut
// off and may resubscribe to replay.
type MemorySink struct {
	mu     sync.Mutex
	runs   map[string]*runLog
	nextID int
}

// NewMemorySink creates an in-memory recording sink
func NewMemorySink() *MemorySink {
	return &MemorySink{runs: make(map[string]*runLog)}
}

func (m *MemorySink) Name() string { return "memory" }

func (m *MemorySink) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.runLocked(event.RunID)
	if n := len(log.events); n > 0 && log.events[n-1].Sequence >= event.Sequence {
		// redelivery of an event already recorded
		return nil
	}
	log.events = append(log.events, event)

	for id, ch := range log.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(log.subs, id)
		}
	}
	if event.Terminal {
		log.done = true
		for id, ch := range log.subs {
			close(ch)
			delete(log.subs, id)
		}
	}
	return nil
}

// Events returns a copy of the events recorded for runID.
func (m *MemorySink) Events(runID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	log, ok := m.runs[runID]
	if !ok {
		return nil
	}
	out := make([]Event, len(log.events))
	copy(out, log.events)
	return out
}

// Subscribe returns the events recorded so far and a channel carrying the
// rest. The channel is closed after the terminal event, or immediately when
// the run already finished. cancel releases the subscription.
func (m *MemorySink) Subscribe(runID string) (replay []Event, live <-chan Event, cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.runLocked(runID)
	replay = make([]Event, len(log.events))
	copy(replay, log.events)

	ch := make(chan Event, subscriberBuffer)
	if log.done {
		close(ch)
		return replay, ch, func() {}
	}

	id := m.nextID
	m.nextID++
	log.subs[id] = ch

	return replay, ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.runs[runID]; ok {
			if c, ok := l.subs[id]; ok {
				close(c)
				delete(l.subs, id)
			}
		}
	}
}

// Forget drops everything recorded for runID.
func (m *MemorySink) Forget(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if log, ok := m.runs[runID]; ok {
		for id, ch := range log.subs {
			close(ch)
			delete(log.subs, id)
		}
		delete(m.runs, runID)
	}
}

func (m *MemorySink) runLocked(runID string) *runLog {
	log, ok := m.runs[runID]
	if !ok {
		log = &runLog{subs: make(map[int]chan Event)}
		m.runs[runID] = log
	}
	return log
}
