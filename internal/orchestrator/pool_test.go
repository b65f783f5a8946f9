package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

type fakeRunner struct {
	ran     atomic.Int32
	release chan struct{}
	started chan struct{}
	sawCtx  sync.Map
}

func (f *fakeRunner) Run(ctx context.Context, job *types.ResearchJob) (*Result, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			f.sawCtx.Store(job.ID, ctx.Err())
			return nil, &FatalError{Reason: ReasonCanceled, Message: "canceled", Cause: ctx.Err()}
		}
	}
	f.ran.Add(1)
	return &Result{Job: job}, nil
}

func newJob() *types.ResearchJob {
	return types.NewResearchJob(types.TargetInput{CompanyName: "Acme"}, time.Now())
}

func TestPool_RunsSubmittedJobs(t *testing.T) {
	runner := &fakeRunner{}
	pool := NewPool(runner, 2, 10, nil)
	pool.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(newJob()))
	}
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(5), runner.ran.Load())
}

func TestPool_SubmitQueueFull(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
	pool := NewPool(runner, 1, 1, nil)
	pool.Start(context.Background())

	require.NoError(t, pool.Submit(newJob()))
	<-runner.started // worker is busy
	require.NoError(t, pool.Submit(newJob()))
	assert.ErrorIs(t, pool.Submit(newJob()), ErrQueueFull)

	// The buffered started channel absorbs the second job's signal.
	close(runner.release)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(2), runner.ran.Load())
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool(&fakeRunner{}, 1, 1, nil)
	pool.Start(context.Background())
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.ErrorIs(t, pool.Submit(newJob()), ErrPoolClosed)
	assert.NoError(t, pool.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestPool_ShutdownDeadlineCancelsJobs(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	pool := NewPool(runner, 1, 4, nil)
	pool.Start(context.Background())

	job := newJob()
	require.NoError(t, pool.Submit(job))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, ok := runner.sawCtx.Load(job.ID)
	require.True(t, ok)
	assert.ErrorIs(t, got.(error), context.Canceled)
	assert.Zero(t, runner.ran.Load())
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(&fakeRunner{}, 0, 0, nil)
	assert.Equal(t, 1, pool.workers)
	assert.Equal(t, DefaultQueueSize, cap(pool.queue))
}

func TestPool_PanickingJobEndsFailed(t *testing.T) {
	f := newFixture(exaConnector("Acme Robotics builds robot arms."), gleifConnector("Acme Robotics Ltd"))
	f.progress = func(ev ProgressEvent) {
		if ev.Stage == 2 {
			panic("boom")
		}
	}
	o := f.orchestrator(t)
	pool := NewPool(o, 1, 4, nil)
	pool.Start(context.Background())

	first := submit(t, o, types.TargetInput{CompanyName: "Acme Robotics"})
	second := submit(t, o, types.TargetInput{CompanyName: "Acme Robotics"})
	require.NoError(t, pool.Submit(first))
	require.NoError(t, pool.Submit(second))
	require.NoError(t, pool.Shutdown(context.Background()))

	for _, job := range []*types.ResearchJob{first, second} {
		stored, err := f.store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, types.JobFailed, stored.Status, "the worker survives and no job is left PROCESSING")
		assert.Equal(t, ReasonInternal, stored.FailureReason)
	}
}
