package workers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tradeforge/strategy-engine/internal/workers"
	"go.uber.org/zap"
)

func testPool(numWorkers, queueSize int) *workers.Pool {
	cfg := workers.DefaultPoolConfig("test")
	cfg.NumWorkers = numWorkers
	cfg.QueueSize = queueSize
	cfg.ShutdownTimeout = 2 * time.Second
	return workers.NewPool(zap.NewNop(), cfg)
}

func TestPoolExecutesTasks(t *testing.T) {
	pool := testPool(2, 16)
	pool.Start()

	var mu sync.Mutex
	done := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		err := pool.Submit(workers.TaskFunc(func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		}))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	wg.Wait()
	pool.Stop()

	if done != 8 {
		t.Errorf("expected 8 executions, got %d", done)
	}
	stats := pool.GetStats()
	if stats.TasksSubmitted != 8 || stats.TasksCompleted != 8 {
		t.Errorf("stats incorrect: %+v", stats)
	}
}

func TestPoolQueueFull(t *testing.T) {
	pool := testPool(1, 1)
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	release := func() { close(block) }
	defer release()

	// Occupy the single worker, then fill the single queue slot.
	if err := pool.Submit(workers.TaskFunc(func(ctx context.Context) error {
		<-block
		return nil
	})); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// The worker may not have picked the first task up yet, so one or
	// two submissions fit before the queue is guaranteed full.
	var sawFull bool
	for i := 0; i < 3; i++ {
		err := pool.Submit(workers.TaskFunc(func(ctx context.Context) error {
			<-block
			return nil
		}))
		if errors.Is(err, workers.ErrQueueFull) {
			sawFull = true
			break
		}
		if err != nil {
			t.Fatalf("unexpected Submit error: %v", err)
		}
	}
	if !sawFull {
		t.Error("expected ErrQueueFull once the queue saturated")
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := testPool(1, 4)
	pool.Start()

	panicked := make(chan struct{})
	if err := pool.Submit(workers.TaskFunc(func(ctx context.Context) error {
		defer close(panicked)
		panic("boom")
	})); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-panicked

	// The pool must survive the panic and keep working.
	ran := make(chan struct{})
	if err := pool.Submit(workers.TaskFunc(func(ctx context.Context) error {
		close(ran)
		return nil
	})); err != nil {
		t.Fatalf("Submit after panic failed: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not recover from the panic")
	}
	pool.Stop()

	stats := pool.GetStats()
	if stats.PanicRecovered != 1 {
		t.Errorf("expected 1 recovered panic, got %d", stats.PanicRecovered)
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := testPool(1, 4)
	pool.Start()
	pool.Stop()

	if err := pool.Submit(workers.TaskFunc(func(ctx context.Context) error { return nil })); err == nil {
		t.Error("Submit on a stopped pool should fail")
	}
}

func TestPoolConcurrentSubmitAndStop(t *testing.T) {
	// Submitters hammering the queue while Stop closes it must either
	// enqueue cleanly or get an error, never panic on a closed channel.
	for iter := 0; iter < 200; iter++ {
		pool := testPool(2, 4)
		pool.Start()

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					_ = pool.Submit(workers.TaskFunc(func(ctx context.Context) error { return nil }))
				}
			}()
		}
		pool.Stop()
		wg.Wait()

		if err := pool.Submit(workers.TaskFunc(func(ctx context.Context) error { return nil })); err == nil {
			t.Fatal("Submit on a stopped pool should fail")
		}
	}
}

func TestPoolCountsFailures(t *testing.T) {
	pool := testPool(1, 4)
	pool.Start()

	done := make(chan struct{})
	if err := pool.Submit(workers.TaskFunc(func(ctx context.Context) error {
		defer close(done)
		return errors.New("task error")
	})); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-done
	pool.Stop()

	stats := pool.GetStats()
	if stats.TasksFailed != 1 {
		t.Errorf("expected 1 failed task, got %d", stats.TasksFailed)
	}
	if stats.TasksCompleted != 0 {
		t.Errorf("failed task should not count as completed, got %d", stats.TasksCompleted)
	}
}
