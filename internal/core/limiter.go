package core

// limiter.go bounds how many instructions run at once across all sessions.
//
// Translation and sandboxed execution are the only expensive operations in
// the service. The limiter is a semaphore: an instruction holds a slot from
// translation until commit, and waits at most maxWait for one before
// failing with ErrTooManyInstructions. Edits, previews and exports never
// touch it.

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultMaxConcurrentInstructions is the default limit for parallel instructions.
const DefaultMaxConcurrentInstructions = 4

// DefaultMaxWaitTime is how long an instruction waits for a slot before
// being rejected.
const DefaultMaxWaitTime = 30 * time.Second

// ExecutionLimiter caps concurrently running instructions.
type ExecutionLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration
	active    atomic.Int64
}

// NewExecutionLimiter allows at most maxConcurrent instructions at once.
func NewExecutionLimiter(maxConcurrent int, maxWait time.Duration) *ExecutionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentInstructions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ExecutionLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot, waiting up to maxWait. The caller must Release it.
func (l *ExecutionLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyInstructions
	}
}

// Release returns a slot taken by Acquire.
func (l *ExecutionLimiter) Release() {
	l.active.Add(-1)
	<-l.semaphore
}

// ActiveCount returns the number of running instructions.
func (l *ExecutionLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the slot count.
func (l *ExecutionLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *ExecutionLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// LimiterStatus is a point-in-time view of the limiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *ExecutionLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: l.MaxConcurrent(),
	}
}
