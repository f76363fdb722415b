package core

// scheduler.go provides periodic re-invocation of pipeline passes.
//
// A scheduled job runs immediately on start and then every interval. Job
// failures are logged and never stop the scheduler; a tick that finds a
// pass already active is skipped.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Schedule runs job until ctx is cancelled. It always returns nil so it can
// be used directly as an errgroup member.
func Schedule(ctx context.Context, name string, interval time.Duration, job Job) error {
	slog.Info("scheduler started", "job", name, "interval", interval.String())

	runScheduledJob(ctx, name, job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped", "job", name)
			return nil
		case <-ticker.C:
			runScheduledJob(ctx, name, job)
		}
	}
}

// runScheduledJob performs one invocation and logs its outcome.
func runScheduledJob(ctx context.Context, name string, job Job) {
	start := time.Now()
	err := job(ctx)

	switch {
	case err == nil:
		slog.Info("scheduled job completed",
			"job", name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	case errors.Is(err, ErrRunInProgress):
		slog.Info("scheduled job skipped, previous run still active", "job", name)
	case ctx.Err() != nil:
		slog.Info("scheduled job interrupted", "job", name, "error", err)
	default:
		slog.Error("scheduled job failed",
			"job", name,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
