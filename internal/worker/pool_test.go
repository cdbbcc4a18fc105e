package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/integration-service/internal/config"
)

func TestPoolRunsAllJobsBeforeStop(t *testing.T) {
	pool := NewPool(config.WorkerConfig{Concurrency: 3, QueueSize: 10}, zap.NewNop())
	pool.Start()

	var done int32
	for i := 0; i < 20; i++ {
		if err := pool.Submit(context.Background(), func(context.Context) { atomic.AddInt32(&done, 1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := atomic.LoadInt32(&done); got != 20 {
		t.Errorf("ran %d jobs, want 20", got)
	}
	if err := pool.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Stop = %v", err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(config.WorkerConfig{Concurrency: 2, QueueSize: 8}, zap.NewNop())
	pool.Start()

	var running, peak int32
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		_ = pool.Submit(context.Background(), func(context.Context) {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	_ = pool.Stop(context.Background())
	if peak > 2 {
		t.Errorf("peak concurrency %d, want <= 2", peak)
	}
}

func TestPoolSurvivesPanickingJob(t *testing.T) {
	pool := NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 2}, zap.NewNop())
	pool.Start()

	var ran int32
	_ = pool.Submit(context.Background(), func(context.Context) { panic("boom") })
	_ = pool.Submit(context.Background(), func(context.Context) { atomic.StoreInt32(&ran, 1) })
	_ = pool.Stop(context.Background())
	if atomic.LoadInt32(&ran) != 1 {
		t.Error("job after panic did not run")
	}
}

func TestSubmitHonorsContextWhenQueueFull(t *testing.T) {
	pool := NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 0}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit = %v, want deadline exceeded", err)
	}
	_ = pool.Stop(context.Background())
}
