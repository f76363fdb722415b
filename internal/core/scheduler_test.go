package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedule_RunsImmediatelyThenPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	done := make(chan error, 1)
	go func() {
		done <- Schedule(ctx, "test", 20*time.Millisecond, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}()

	time.Sleep(70 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Schedule returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Schedule did not stop after cancel")
	}

	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Errorf("job ran %d times, want at least 2", got)
	}
}

func TestSchedule_SurvivesFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int32

	go Schedule(ctx, "failing", 10*time.Millisecond, func(context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return ErrRunInProgress
		}
		return errors.New("boom")
	})

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&calls) < 3 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want 3", atomic.LoadInt32(&calls))
		case <-time.After(5 * time.Millisecond):
		}
	}
}
