package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/opennames/internal/acquire"
	"github.com/JonMunkholm/opennames/internal/artifact"
	"github.com/JonMunkholm/opennames/internal/config"
	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/graph"
	"github.com/JonMunkholm/opennames/internal/importer"
	"github.com/JonMunkholm/opennames/internal/metrics"
	"github.com/JonMunkholm/opennames/internal/pipeline"
	"github.com/JonMunkholm/opennames/internal/profile"
	"github.com/JonMunkholm/opennames/internal/registry"
	"github.com/JonMunkholm/opennames/internal/runlog"
	"github.com/JonMunkholm/opennames/internal/transform"
)

// app holds the wired collaborators of one process.
type app struct {
	cfg      *config.Config
	deps     pipeline.Deps
	acquirer *acquire.Acquirer
	metrics  *metrics.Pipeline
	gatherer prometheus.Gatherer
	history  runlog.Log
	closers  []func()
}

// store is the backend-specific half of the wiring.
type store struct {
	registry core.Registry
	importer importer.Loader
	close    func()
}

// newStore connects only; it does not build the pipeline. The status and
// reset-source commands use it directly.
func newStore(ctx context.Context, c *config.Config, rewrite importer.Rewrite) (*store, error) {
	switch c.Store.Backend {
	case "postgres":
		return newPostgresStore(ctx, c)
	default:
		return newNeo4jStore(ctx, c, rewrite)
	}
}

func newNeo4jStore(ctx context.Context, c *config.Config, rewrite importer.Rewrite) (*store, error) {
	client, err := graph.Connect(ctx, graph.Options{
		URI:      c.Neo4j.URI,
		User:     c.Neo4j.User,
		Password: c.Neo4j.Password,
		Database: c.Neo4j.Database,
	})
	if err != nil {
		return nil, core.E(core.KindPersistence, "connect", err)
	}
	if err := graph.EnsureSchema(ctx, client); err != nil {
		client.Close(context.Background())
		return nil, err
	}

	return &store{
		registry: registry.NewNeo4j(client, c.Source.ProductID),
		importer: importer.NewNeo4j(client, importer.Options{
			ImportDir: c.Pipeline.ImportDir,
			Rewrite:   rewrite,
		}),
		close: func() { client.Close(context.Background()) },
	}, nil
}

func newPostgresStore(ctx context.Context, c *config.Config) (*store, error) {
	poolConfig, err := pgxpool.ParseConfig(c.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(c.Database.MaxConns)
	poolConfig.MinConns = int32(c.Database.MinConns)
	poolConfig.MaxConnLifetime = c.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = c.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, core.E(core.KindPersistence, "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.E(core.KindPersistence, "connect", err)
	}

	reg := registry.NewPostgres(pool, c.Source.ProductID)
	if err := reg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("postgres connected", "max_conns", c.Database.MaxConns)

	return &store{
		registry: reg,
		importer: importer.NewPostgres(pool, &http.Client{}),
		close:    pool.Close,
	}, nil
}

func newPublisher(ctx context.Context, c *config.Config) (artifact.Publisher, error) {
	if c.Artifacts.Backend != "s3" {
		return artifact.Local{BaseURL: c.Pipeline.ImportURLBase}, nil
	}
	return artifact.NewS3FromEnv(ctx, artifact.S3Options{
		Bucket:   c.Artifacts.Bucket,
		Prefix:   c.Artifacts.Prefix,
		Region:   c.Artifacts.Region,
		Endpoint: c.Artifacts.Endpoint,
		TTL:      c.Artifacts.PresignTTL,
	})
}

func newHistory(ctx context.Context, c *config.Config) (runlog.Log, func(), error) {
	if c.RunLog.Backend != "redis" {
		return runlog.NewMemory(c.RunLog.MaxEntries), func() {}, nil
	}
	r, err := runlog.DialRedis(ctx, runlog.RedisOptions{
		Addr:       c.RunLog.RedisAddr,
		Password:   c.RunLog.RedisPassword,
		DB:         c.RunLog.RedisDB,
		MaxEntries: c.RunLog.MaxEntries,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, func() { r.Close() }, nil
}

// newApp wires every collaborator a pass needs.
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	prof, err := profile.Load(c.Pipeline.ProfilePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: c}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, err := newStore(ctx, c, prof.Rewrite())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.close)

	publisher, err := newPublisher(ctx, c)
	if err != nil {
		return nil, err
	}

	history, closeHistory, err := newHistory(ctx, c)
	if err != nil {
		return nil, err
	}
	a.history = history
	a.closers = append(a.closers, closeHistory)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)
	a.gatherer = reg

	a.acquirer = acquire.New(acquire.Options{
		APIBase:     c.Source.APIBase,
		ProductID:   c.Source.ProductID,
		CacheDir:    c.Source.CacheDir,
		HTTPTimeout: c.Source.HTTPTimeout,
	})

	a.deps = pipeline.Deps{
		Registry: registry.WithTimeout(st.registry, c.Pipeline.StoreTimeout),
		Source:   a.acquirer,
		Transformer: transform.New(transform.Options{
			ImportDir: c.Pipeline.ImportDir,
			Publisher: publisher,
			Hooks:     prof.Hooks(),
		}),
		Importer:  importer.WithTimeout(st.importer, c.Pipeline.ImportTimeout),
		Publisher: publisher,
	}

	ok = true
	return a, nil
}

// options builds pass options from configuration.
func (a *app) options(progress pipeline.Progress) pipeline.Options {
	return pipeline.Options{
		IncludeFiles: a.cfg.Pipeline.IncludeFiles,
		BatchSize:    a.cfg.Pipeline.BatchSize,
		Waits: pipeline.Waits{
			Process: a.cfg.Pipeline.ProcessWait,
			Import:  a.cfg.Pipeline.ImportWait,
			Clean:   a.cfg.Pipeline.CleanWait,
		},
		Progress: progress,
		Metrics:  a.metrics,
	}
}

// runner returns a Runner around a fresh orchestrator.
func (a *app) runner(limiter *core.RunLimiter, progress pipeline.Progress) *pipeline.Runner {
	return pipeline.NewRunner(pipeline.New(a.deps, a.options(progress)), limiter, a.history)
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
