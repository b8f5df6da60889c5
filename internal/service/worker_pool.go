package service

import (
	"errors"
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

var (
	// ErrPoolFull is returned when the job queue has no free slot.
	ErrPoolFull = errors.New("worker pool queue is full")
	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// WorkerPool runs verification jobs on a fixed number of goroutines with a
// bounded queue in front of them.
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once

	mu     sync.RWMutex
	closed bool

	totalJobs     atomic.Int64
	completedJobs atomic.Int64
	rejectedJobs  atomic.Int64
	activeWorkers atomic.Int32
}

// PoolStats is a point-in-time view of the pool counters.
type PoolStats struct {
	Workers       int   `json:"workers"`
	QueueLength   int   `json:"queue_length"`
	QueueCapacity int   `json:"queue_capacity"`
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	RejectedJobs  int64 `json:"rejected_jobs"`
	ActiveWorkers int32 `json:"active_workers"`
}

// NewWorkerPool creates a new worker pool with the specified number of
// workers and queue capacity.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), queueSize),
	}
}

// Start initializes and starts all workers in the pool
func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

func (wp *WorkerPool) worker() {
	for job := range wp.jobQueue {
		wp.activeWorkers.Inc()
		job()
		wp.activeWorkers.Dec()
		wp.completedJobs.Inc()
		wp.wg.Done()
	}
}

// Submit queues job without blocking. It fails with ErrPoolFull when the
// queue is at capacity and ErrPoolClosed after Close.
func (wp *WorkerPool) Submit(job func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return ErrPoolClosed
	}

	wp.wg.Add(1)
	select {
	case wp.jobQueue <- job:
		wp.totalJobs.Inc()
		return nil
	default:
		wp.wg.Done()
		wp.rejectedJobs.Inc()
		return ErrPoolFull
	}
}

// Wait waits for all submitted jobs to complete
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Close stops accepting jobs, lets queued jobs finish and returns when the
// queue is drained.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobQueue)
	wp.mu.Unlock()
	wp.wg.Wait()
}

// GetStats returns current pool counters
func (wp *WorkerPool) GetStats() PoolStats {
	return PoolStats{
		Workers:       wp.workers,
		QueueLength:   len(wp.jobQueue),
		QueueCapacity: cap(wp.jobQueue),
		TotalJobs:     wp.totalJobs.Load(),
		CompletedJobs: wp.completedJobs.Load(),
		RejectedJobs:  wp.rejectedJobs.Load(),
		ActiveWorkers: wp.activeWorkers.Load(),
	}
}
