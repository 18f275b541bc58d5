package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestExecutionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewExecutionLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.Available(); got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("after two Acquires, ActiveCount = %d, want 2", got)
	}
	if got := limiter.Available(); got != 0 {
		t.Errorf("after two Acquires, Available = %d, want 0", got)
	}

	limiter.Release()
	limiter.Release()

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("after Release, ActiveCount = %d, want 0", got)
	}
}

func TestExecutionLimiter_BlocksWhenFull(t *testing.T) {
	limiter := NewExecutionLimiter(1, 100*time.Millisecond)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	start := time.Now()
	err := limiter.Acquire(ctx)
	elapsed := time.Since(start)

	if err != ErrTooManyInstructions {
		t.Errorf("expected ErrTooManyInstructions, got %v", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("timeout too fast: %v", elapsed)
	}
}

func TestExecutionLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewExecutionLimiter(maxConcurrent, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer limiter.Release()

			mu.Lock()
			if c := limiter.ActiveCount(); c > maxObserved {
				maxObserved = c
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("exceeded max concurrent: observed %d, max %d", maxObserved, maxConcurrent)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestExecutionLimiter_ContextCancellation(t *testing.T) {
	limiter := NewExecutionLimiter(1, 5*time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- limiter.Acquire(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after context cancellation")
	}
}

func TestExecutionLimiter_StatusAndDefaults(t *testing.T) {
	limiter := NewExecutionLimiter(0, 0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentInstructions {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentInstructions)
	}

	_ = limiter.Acquire(context.Background())
	status := limiter.Status()
	if status.Active != 1 {
		t.Errorf("Active = %d, want 1", status.Active)
	}
	if status.Available != DefaultMaxConcurrentInstructions-1 {
		t.Errorf("Available = %d, want %d", status.Available, DefaultMaxConcurrentInstructions-1)
	}
	limiter.Release()
}
