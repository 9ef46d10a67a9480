package resilience

import (
	"errors"
	"sync"
)

var (
	ErrWorkerPoolClosed = errors.New("worker pool is closed")
	ErrWorkerPoolFull   = errors.New("worker pool queue is full")
)

// WorkerPool runs background jobs on a fixed set of goroutines. Submission
// never blocks: a full queue means equivalent work is already pending.
type WorkerPool struct {
	mu     sync.RWMutex
	jobs   chan func()
	closed bool
	wg     sync.WaitGroup
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	workers = max(workers, 1)
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &WorkerPool{jobs: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// TrySubmit enqueues job without waiting. It returns ErrWorkerPoolFull when
// the queue has no free slot, which lets callers coalesce repeated requests
// for the same background work.
func (p *WorkerPool) TrySubmit(job func()) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrWorkerPoolFull
	}
}

// Close stops accepting jobs. Queued jobs still run; Wait blocks until they
// have.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
