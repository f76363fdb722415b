package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/pipeline"
	"github.com/JonMunkholm/opennames/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API, artifacts and metrics",
	Long: `Start the HTTP server. It exposes:
  POST /api/runs     start a pass (X-API-Key when REQUIRE_API_KEY=true)
  GET  /api/runs     recent run summaries
  GET  /api/status   per-version record counts
  GET  /imports/*    processed artifacts for LOAD CSV over HTTP
  GET  /metrics      Prometheus metrics
  GET  /healthz      liveness and the active run

With SCHEDULE_ENABLED=true a pass also runs at start and every
SCHEDULE_INTERVAL; ticks that find a pass active are skipped.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	limiter := core.NewRunLimiter(0)
	runner := a.runner(limiter, nil)

	srv := web.NewServer(cfg, web.Deps{
		Runner:   runner,
		Registry: a.deps.Registry,
		History:  a.history,
		Versions: a.acquirer,
		Gatherer: a.gatherer,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	if cfg.Schedule.Enabled {
		g.Go(func() error {
			return core.Schedule(gctx, "opennames-pass", cfg.Schedule.Interval, func(ctx context.Context) error {
				_, err := runner.TryRun(ctx, pipeline.TriggerSchedule)
				return err
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "error", err)
		}
		if status := limiter.Status(); status.Busy {
			slog.Info("waiting for active run", "run_id", status.RunID)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("run did not finish before shutdown", "error", err)
			}
		}
		return nil
	})

	slog.Info("server starting",
		"addr", cfg.Server.Addr(),
		"store", cfg.Store.Backend,
		"artifacts", cfg.Artifacts.Backend,
		"schedule", cfg.Schedule.Enabled,
	)
	return g.Wait()
}
