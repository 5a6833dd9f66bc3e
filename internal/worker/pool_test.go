package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fairwaydesk/teeflow/internal/observability"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(4, 16, observability.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	var ran int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Submit(func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt64(&ran, 1)
			return nil
		})
	}
	wg.Wait()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
	if got := atomic.LoadInt64(&ran); got != 20 {
		t.Errorf("expected all 20 tasks to run, got %d", got)
	}
}

func TestPoolDrainsQueueOnCancel(t *testing.T) {
	pool := NewPool(1, 16, observability.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())

	var ran int64
	block := make(chan struct{})
	pool.Submit(func(ctx context.Context) error {
		<-block
		atomic.AddInt64(&ran, 1)
		return nil
	})
	for i := 0; i < 5; i++ {
		pool.Submit(func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	cancel()
	close(block)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not drain after cancel")
	}
	if got := atomic.LoadInt64(&ran); got != 6 {
		t.Errorf("expected accepted tasks to finish during drain, got %d", got)
	}
}
