package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Job represents a unit of work to be processed by a worker.
type Job interface {
	// Execute performs the work synchronously.
	// Context should be used to check for cancellation.
	Execute(ctx context.Context) Result
}

// Result represents the outcome of a job execution.
type Result interface {
	// Error returns any error that occurred during execution, or nil if successful.
	Error() error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) Result {
	return errResult{err: f(ctx)}
}

type errResult struct{ err error }

func (r errResult) Error() error { return r.err }

// SpawnWorkerPool starts numWorkers goroutines that execute jobs from jobQueue
// until ctx is cancelled or the queue is closed. Buffered jobs are drained on
// cancellation. The returned WaitGroup tracks the workers.
func SpawnWorkerPool(
	ctx context.Context,
	numWorkers int,
	jobQueue <-chan Job,
	logger *slog.Logger,
) *sync.WaitGroup {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	wg := &sync.WaitGroup{}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			executeJob := func(job Job) {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("Job panicked",
							"worker_id", workerID,
							"panic", fmt.Sprintf("%v", r),
						)
					}
				}()

				result := job.Execute(ctx)
				if result != nil && result.Error() != nil {
					logger.Debug("Job finished with error",
						"worker_id", workerID,
						"error", result.Error(),
					)
				}
			}

			for {
				select {
				case <-ctx.Done():
					for job := range jobQueue {
						executeJob(job)
					}
					logger.Debug("Worker exiting",
						"worker_id", workerID,
						"reason", "context_cancelled",
					)
					return

				case job, ok := <-jobQueue:
					if !ok {
						logger.Debug("Worker exiting",
							"worker_id", workerID,
							"reason", "job_queue_closed",
						)
						return
					}
					executeJob(job)
				}
			}
		}(i)
	}

	logger.Debug("Worker pool spawned", "num_workers", numWorkers)

	return wg
}

// Pool owns a job queue and the workers consuming it.
type Pool struct {
	mu     sync.RWMutex
	queue  chan Job
	closed bool
	wg     *sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool starts numWorkers workers with a queue of queueSize pending jobs.
func NewPool(numWorkers, queueSize int, logger *slog.Logger) *Pool {
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan Job, queueSize)
	return &Pool{
		queue:  queue,
		wg:     SpawnWorkerPool(ctx, numWorkers, queue, logger),
		cancel: cancel,
	}
}

// Submit enqueues job, waiting for queue space until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}
