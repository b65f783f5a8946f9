package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// DefaultQueueSize bounds the number of accepted-but-not-started jobs
const DefaultQueueSize = 64

// Runner executes one job. Implemented by Orchestrator.
type Runner interface {
	Run(ctx context.Context, job *types.ResearchJob) (*Result, error)
}

// Pool runs submitted jobs on a fixed set of workers
type Pool struct {
	runner  Runner
	workers int
	queue   chan *types.ResearchJob
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. Non-positive workers or queueSize fall back to 1 and DefaultQueueSize.
func NewPool(runner Runner, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		runner:  runner,
		workers: workers,
		queue:   make(chan *types.ResearchJob, queueSize),
		logger:  logger,
	}
}

// Start launches the workers. Jobs run under ctx; canceling it cancels in-flight jobs.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.Info("job pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	// After cancellation queued jobs still pass through Run so they end FAILED.
	for job := range p.queue {
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, worker int, job *types.ResearchJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "job_id", job.ID, "worker", worker, "panic", r)
		}
	}()
	if _, err := p.runner.Run(ctx, job); err != nil {
		p.logger.Debug("job finished with failure", "job_id", job.ID, "worker", worker, "reason", Reason(err))
	}
}

// Submit enqueues a job without blocking
func (p *Pool) Submit(job *types.ResearchJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued and running jobs to finish.
// When ctx expires first, in-flight jobs are canceled and Shutdown returns ctx.Err().
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		<-done
		return ctx.Err()
	}
}
