package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/pipeline"
	"github.com/JonMunkholm/opennames/internal/runlog"
)

func TestRunner_RecordsHistory(t *testing.T) {
	h := newHarness(t)
	h.store.failIDs["2024-04/TR04.csv"] = true
	history := runlog.NewMemory(10)
	r := pipeline.NewRunner(pipeline.New(h.deps, h.opts), core.NewRunLimiter(time.Second), history)

	_, err := r.Run(context.Background(), pipeline.TriggerCLI)
	require.NoError(t, err)

	entries, err := history.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.NotEmpty(t, e.RunID)
	assert.Equal(t, pipeline.TriggerCLI, e.Trigger)
	assert.Equal(t, "2024-04", e.Version)
	assert.Equal(t, "partial", e.Outcome)
	assert.Equal(t, 3, e.Processed)
	require.Len(t, e.Errors, 1)
	assert.Equal(t, "DB002", e.Errors[0].Code)
	assert.False(t, r.Limiter().Busy())
}

func TestRunner_BusyLimiter(t *testing.T) {
	h := newHarness(t)
	limiter := core.NewRunLimiter(10 * time.Millisecond)
	r := pipeline.NewRunner(pipeline.New(h.deps, h.opts), limiter, nil)

	require.True(t, limiter.TryAcquire("other"))

	_, err := r.TryRun(context.Background(), pipeline.TriggerSchedule)
	assert.ErrorIs(t, err, core.ErrRunInProgress)

	_, err = r.Start(context.Background(), pipeline.TriggerAPI)
	assert.ErrorIs(t, err, core.ErrRunInProgress)

	_, err = r.Run(context.Background(), pipeline.TriggerCLI)
	assert.ErrorIs(t, err, core.ErrRunInProgress)

	limiter.Release()
	assert.Zero(t, h.source.fetches)
}

func TestRunner_StartRunsInBackground(t *testing.T) {
	h := newHarness(t)
	history := runlog.NewMemory(10)
	limiter := core.NewRunLimiter(time.Second)
	r := pipeline.NewRunner(pipeline.New(h.deps, h.opts), limiter, history)

	ctx, cancel := context.WithCancel(context.Background())
	runID, err := r.Start(ctx, pipeline.TriggerAPI)
	require.NoError(t, err)
	cancel()

	drainCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, limiter.WaitForDrain(drainCtx))

	entries, err := history.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, runID, entries[0].RunID)
	assert.Equal(t, "ok", entries[0].Outcome)
	assert.True(t, entries[0].Complete)
}

func TestEntry_FatalError(t *testing.T) {
	err := core.Errorf(core.KindUpstream, "acquire.version", "status 503")
	e := pipeline.Entry("run-1", pipeline.TriggerSchedule, time.Now(), pipeline.Result{}, err)

	assert.Equal(t, "error", e.Outcome)
	assert.Contains(t, e.Error, "status 503")
	assert.True(t, errors.Is(err, core.ErrUpstream))
}
