package core

// run_limiter.go serialises pipeline passes within one process.
//
// Passes against a version are not safe to run concurrently (records carry
// no lock), so the limiter holds a single slot. Triggers arriving while a
// pass is active wait up to maxWait and then fail with ErrRunInProgress.
// WaitForDrain supports graceful shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRunInProgress is returned when a pass is already active and the wait
// timeout expires.
var ErrRunInProgress = errors.New("run in progress, please try again later")

// DefaultRunWait is how long a trigger waits for the active pass by default.
const DefaultRunWait = 5 * time.Second

// RunLimiter allows at most one active pass.
type RunLimiter struct {
	slot    chan struct{}
	maxWait time.Duration

	mu        sync.RWMutex
	runID     string
	startedAt time.Time
}

// NewRunLimiter creates a limiter. Waiters give up after maxWait.
func NewRunLimiter(maxWait time.Duration) *RunLimiter {
	if maxWait <= 0 {
		maxWait = DefaultRunWait
	}
	return &RunLimiter{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire waits for the slot. The caller MUST call Release when the pass ends.
func (l *RunLimiter) Acquire(ctx context.Context, runID string) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slot <- struct{}{}:
		l.hold(runID)
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRunInProgress
	}
}

// TryAcquire takes the slot without blocking.
func (l *RunLimiter) TryAcquire(runID string) bool {
	select {
	case l.slot <- struct{}{}:
		l.hold(runID)
		return true
	default:
		return false
	}
}

func (l *RunLimiter) hold(runID string) {
	l.mu.Lock()
	l.runID = runID
	l.startedAt = time.Now()
	l.mu.Unlock()
}

// Release frees the slot. Must be called exactly once per successful acquire.
func (l *RunLimiter) Release() {
	l.mu.Lock()
	l.runID = ""
	l.startedAt = time.Time{}
	l.mu.Unlock()

	<-l.slot
}

// Busy reports whether a pass is active.
func (l *RunLimiter) Busy() bool {
	return len(l.slot) > 0
}

// WaitForDrain blocks until the active pass ends or ctx is cancelled.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !l.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunLimiterStatus is a snapshot of the limiter.
type RunLimiterStatus struct {
	Busy      bool      `json:"busy"`
	RunID     string    `json:"run_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Status returns the current limiter state for monitoring.
func (l *RunLimiter) Status() RunLimiterStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return RunLimiterStatus{
		Busy:      l.Busy(),
		RunID:     l.runID,
		StartedAt: l.startedAt,
	}
}
