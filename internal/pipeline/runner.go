package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/logging"
	"github.com/JonMunkholm/opennames/internal/runlog"
)

// Triggers recorded in the run log.
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// Runner serialises passes through a RunLimiter and records each one in
// the run log.
type Runner struct {
	orch    *Orchestrator
	limiter *core.RunLimiter
	history runlog.Log
}

// NewRunner returns a Runner. A nil history keeps no log.
func NewRunner(orch *Orchestrator, limiter *core.RunLimiter, history runlog.Log) *Runner {
	return &Runner{orch: orch, limiter: limiter, history: history}
}

// Limiter exposes the run slot for status reporting and shutdown.
func (r *Runner) Limiter() *core.RunLimiter { return r.limiter }

// Run waits for the run slot and performs a pass.
func (r *Runner) Run(ctx context.Context, trigger string) (Result, error) {
	runID := uuid.NewString()
	if err := r.limiter.Acquire(ctx, runID); err != nil {
		return Result{}, err
	}
	defer r.limiter.Release()
	return r.execute(ctx, runID, trigger)
}

// TryRun performs a pass only if none is active, else returns
// core.ErrRunInProgress.
func (r *Runner) TryRun(ctx context.Context, trigger string) (Result, error) {
	runID := uuid.NewString()
	if !r.limiter.TryAcquire(runID) {
		return Result{}, core.ErrRunInProgress
	}
	defer r.limiter.Release()
	return r.execute(ctx, runID, trigger)
}

// Start launches a pass in the background and returns its run id. The pass
// outlives ctx's cancellation but keeps its values.
func (r *Runner) Start(ctx context.Context, trigger string) (string, error) {
	runID := uuid.NewString()
	if !r.limiter.TryAcquire(runID) {
		return "", core.ErrRunInProgress
	}

	go func() {
		defer r.limiter.Release()
		r.execute(context.WithoutCancel(ctx), runID, trigger)
	}()
	return runID, nil
}

func (r *Runner) execute(ctx context.Context, runID, trigger string) (Result, error) {
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.FromContext(ctx)

	started := time.Now()
	logger.Info("run started", "trigger", trigger)

	res, err := r.orch.Run(ctx)

	entry := Entry(runID, trigger, started, res, err)
	if err != nil {
		logger.Error("run failed", "error", err, "code", core.MapError(err).Code, "duration_ms", time.Since(started).Milliseconds())
	} else {
		logger.Info("run finished", "complete", res.Summary.Complete, "errors", len(res.Errors), "duration_ms", time.Since(started).Milliseconds())
	}

	if r.history != nil {
		if appendErr := r.history.Append(context.WithoutCancel(ctx), entry); appendErr != nil {
			logger.Warn("run log append failed", "error", appendErr)
		}
	}
	return res, err
}

// Entry converts a pass outcome into a run log entry.
func Entry(runID, trigger string, started time.Time, res Result, err error) runlog.Entry {
	s := res.Summary
	e := runlog.Entry{
		RunID:      runID,
		Trigger:    trigger,
		Version:    s.Version,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
		Outcome:    "ok",
		Fetched:    s.Fetched,
		Cached:     s.Cached,
		Processed:  s.Processed,
		Imported:   s.Imported,
		Cleaned:    s.Cleaned,
		Complete:   s.Complete,
	}
	switch {
	case err != nil:
		e.Outcome = "error"
		e.Error = err.Error()
	case len(res.Errors) > 0:
		e.Outcome = "partial"
	}
	for _, re := range res.Errors {
		e.Errors = append(e.Errors, runlog.RecordError{
			ID:    re.ID,
			Stage: re.Stage,
			Error: re.Err.Error(),
			Code:  re.Code(),
		})
	}
	return e
}
