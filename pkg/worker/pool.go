package worker

import (
	"context"
	"errors"
	"sync"
)

// WorkerPool owns a set of workers and the goroutines
// which run them. The 'workers' field is a slice that
// contains all the workers attached to this WorkerPool.
type WorkerPool struct {
	sync.Mutex
	workers []Worker
	wg      sync.WaitGroup
	started bool
}

// WorkerSnapshot is a point-in-time view of a single worker.
type WorkerSnapshot struct {
	Label  string `json:"label"`
	Status string `json:"status"`
}

// NewWorkerPool creates a new WorkerPool struct
// and initialises the 'workers' slice.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

// Start cycles through all the workers currently inside the
// WorkerPool and creates a goroutine for each. Workers stop
// when the context provided is cancelled.
//
// Start does NOT block, however consumers
// can use Wait if they wish.
func (pool *WorkerPool) Start(ctx context.Context) error {
	pool.Lock()
	defer pool.Unlock()
	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.wg.Add(1)
		go func(w Worker) {
			defer pool.wg.Done()
			_ = w.Start(ctx)
		}(worker)
	}

	return nil
}

// PushWorker inserts the workers provided in to the worker pool. Workers
// cannot be added once the pool has been started.
func (pool *WorkerPool) PushWorker(workers ...Worker) error {
	pool.Lock()
	defer pool.Unlock()
	if pool.started {
		return errors.New("cannot push worker to already started worker pool")
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// Snapshot returns the label and status of every worker in the pool.
func (pool *WorkerPool) Snapshot() []WorkerSnapshot {
	pool.Lock()
	defer pool.Unlock()

	out := make([]WorkerSnapshot, len(pool.workers))
	for i, w := range pool.workers {
		out[i] = WorkerSnapshot{Label: w.Label(), Status: w.Status().String()}
	}

	return out
}

// Wait blocks until every started worker has returned.
func (pool *WorkerPool) Wait() {
	pool.wg.Wait()
}
