// Package worker runs background jobs on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/integration-service/internal/config"
)

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("worker pool closed")

// Job is one unit of background work. ctx is canceled when the pool stops
// without draining.
type Job = func(ctx context.Context)

// Pool executes jobs on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	jobs        chan Job
	concurrency int
	logger      *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPool builds a pool; call Start before submitting.
func NewPool(cfg config.WorkerConfig, logger *zap.Logger) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queue := cfg.QueueSize
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:        make(chan Job, queue),
		concurrency: concurrency,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit queues job, blocking while the queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new jobs and waits for queued ones to finish. When ctx ends
// first the in-flight jobs are canceled and ctx's error returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	started := p.started
	p.mu.Unlock()
	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.execute(job)
	}
}

func (p *Pool) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", zap.Any("panic", r))
		}
	}()
	job(p.ctx)
}
