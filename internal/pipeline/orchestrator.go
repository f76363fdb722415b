// Package pipeline drives one resumable pass over a dataset version:
// fetch, process, import and clean.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/opennames/internal/acquire"
	"github.com/JonMunkholm/opennames/internal/artifact"
	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/logging"
	"github.com/JonMunkholm/opennames/internal/metrics"
)

// Stage names used in summaries, spans, metrics and progress callbacks.
const (
	StageFetch   = "fetch"
	StageProcess = "process"
	StageImport  = "import"
	StageClean   = "clean"
)

// Source resolves and acquires dataset versions.
type Source interface {
	ResolveVersion(ctx context.Context) (string, error)
	Fetch(ctx context.Context, version string) (acquire.Result, error)
}

// Transformer runs the transform stage for one record.
type Transformer interface {
	Process(ctx context.Context, ds core.DataSource, headers []string) (core.DataSource, error)
}

// Importer runs the import stage for one record.
type Importer interface {
	Import(ctx context.Context, ds core.DataSource) (core.DataSource, int64, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Registry    core.Registry
	Source      Source
	Transformer Transformer
	Importer    Importer

	// Publisher refreshes artifact URLs before import and withdraws
	// published artifacts on cleanup. Nil skips both.
	Publisher artifact.Publisher
}

// Waits pace records within a stage to bound pressure on the store.
type Waits struct {
	Process time.Duration
	Import  time.Duration
	Clean   time.Duration
}

// Progress is told after every record of a stage.
type Progress func(stage string, done, total int)

// Options configures a pass.
type Options struct {
	IncludeFiles []string
	BatchSize    int
	Waits        Waits
	Progress     Progress
	Metrics      *metrics.Pipeline
	Tracer       trace.Tracer
}

// Summary counts what a pass did. Rows is the number of rows merged by
// the import stage.
type Summary struct {
	Version   string `json:"version"`
	Fetched   bool   `json:"fetched"`
	Cached    bool   `json:"cached"`
	Processed int    `json:"processed"`
	Imported  int    `json:"imported"`
	Cleaned   int    `json:"cleaned"`
	Healed    int    `json:"healed"`
	Rows      int64  `json:"rows"`
	Complete  bool   `json:"complete"`
}

// RecordError is a non-fatal failure of one record in one stage.
type RecordError struct {
	ID    string
	Stage string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Code is the support code of the underlying error.
func (e *RecordError) Code() string { return core.MapError(e.Err).Code }

// Result is the outcome of a pass that did not fail fatally.
type Result struct {
	Summary     Summary
	Errors      []*RecordError
	DataSources []core.DataSource
}

// Orchestrator runs passes. It is not safe for concurrent passes; callers
// serialise them with a core.RunLimiter.
type Orchestrator struct {
	deps   Deps
	opts   Options
	tracer trace.Tracer
}

// New returns an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/JonMunkholm/opennames/internal/pipeline")
	}
	return &Orchestrator{deps: deps, opts: opts, tracer: tracer}
}

// pass carries the state of one Run.
type pass struct {
	version   string
	filter    core.ListFilter
	headers   []string
	sources   []core.DataSource
	refetched bool
	result    Result
}

// Run performs one pass over the version currently published upstream.
// A returned error is fatal; per-record failures are in Result.Errors.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	res, err := o.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.opts.Metrics.Run(metrics.OutcomeError)
		return res, err
	}
	span.SetAttributes(
		attribute.String("version", res.Summary.Version),
		attribute.Int("errors", len(res.Errors)),
		attribute.Bool("complete", res.Summary.Complete),
	)
	o.opts.Metrics.Run(metrics.OutcomeOK)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context) (Result, error) {
	logger := logging.FromContext(ctx)

	version, err := o.deps.Source.ResolveVersion(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("resolve version: %w", err)
	}

	p := &pass{
		version: version,
		filter:  core.ListFilter{IncludeFiles: o.opts.IncludeFiles, BatchSize: o.opts.BatchSize},
	}
	p.result.Summary.Version = version

	cat, err := o.deps.Registry.List(ctx, version, p.filter)
	if err != nil {
		return p.result, fmt.Errorf("list %s: %w", version, err)
	}
	if len(cat.DataSources) == 0 {
		if cat, err = o.fetch(ctx, p); err != nil {
			return p.result, err
		}
	}
	if len(cat.DataSources) == 0 || len(cat.HeaderSchema) == 0 {
		return p.result, core.Errorf(core.KindNotFound, "pipeline.run", "no data sources registered for %s", version)
	}
	p.headers = cat.HeaderSchema
	p.sources = cat.DataSources

	if core.AllCleaned(p.sources) {
		complete, err := o.complete(ctx, p)
		if err != nil {
			return p.result, err
		}
		if complete {
			logger.Info("version complete, nothing to do", "version", version, "data_sources", len(p.sources))
			p.result.Summary.Complete = true
			p.result.DataSources = p.sources
			return p.result, nil
		}
	}

	logger.Info("pass started", "version", version, "data_sources", len(p.sources))

	for _, stage := range []func(context.Context, *pass) error{o.processStage, o.importStage, o.cleanStage} {
		if err := stage(ctx, p); err != nil {
			p.result.DataSources = p.sources
			return p.result, err
		}
	}

	complete, err := o.complete(ctx, p)
	if err != nil {
		p.result.DataSources = p.sources
		return p.result, err
	}
	p.result.Summary.Complete = complete
	p.result.DataSources = p.sources

	s := p.result.Summary
	logger.Info("pass finished",
		"version", version,
		"processed", s.Processed,
		"imported", s.Imported,
		"cleaned", s.Cleaned,
		"healed", s.Healed,
		"rows", s.Rows,
		"errors", len(p.result.Errors),
		"complete", s.Complete,
	)
	return p.result, nil
}

// complete reports whether every record of the version is cleaned. A capped
// batch says nothing about the records outside it, so those are re-read.
func (o *Orchestrator) complete(ctx context.Context, p *pass) (bool, error) {
	if !core.AllCleaned(p.sources) {
		return false, nil
	}
	if p.filter.BatchSize <= 0 {
		return true, nil
	}
	cat, err := o.deps.Registry.List(ctx, p.version, core.ListFilter{IncludeFiles: p.filter.IncludeFiles})
	if err != nil {
		return false, fmt.Errorf("list %s: %w", p.version, err)
	}
	return core.AllCleaned(cat.DataSources), nil
}

// fetch acquires the version and registers its included files.
func (o *Orchestrator) fetch(ctx context.Context, p *pass) (core.Catalog, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.fetch", trace.WithAttributes(attribute.String("version", p.version)))
	defer span.End()

	start := time.Now()
	fetched, err := o.deps.Source.Fetch(ctx, p.version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.opts.Metrics.Record(StageFetch, metrics.OutcomeError, time.Since(start))
		return core.Catalog{}, fmt.Errorf("fetch %s: %w", p.version, err)
	}
	o.opts.Metrics.Record(StageFetch, metrics.OutcomeOK, time.Since(start))

	var names []string
	for _, name := range fetched.FileNames {
		if p.filter.Includes(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		err := core.Errorf(core.KindNotFound, "pipeline.fetch", "version %s has no matching input files in %s", p.version, fetched.DataDir)
		span.RecordError(err)
		return core.Catalog{}, err
	}

	cat, err := o.deps.Registry.Register(ctx, core.Registration{
		Version:      p.version,
		BaseDir:      fetched.DataDir,
		FileNames:    names,
		HeaderSchema: fetched.HeaderSchema,
		Filter:       p.filter,
	})
	if err != nil {
		return core.Catalog{}, fmt.Errorf("register %s: %w", p.version, err)
	}

	p.result.Summary.Fetched = true
	p.result.Summary.Cached = p.result.Summary.Cached || fetched.Cached
	logging.FromContext(ctx).Info("fetched",
		"version", p.version,
		"files", len(names),
		"cached", fetched.Cached,
	)
	return cat, nil
}

// refetch re-acquires the version once per pass and reloads the records.
func (o *Orchestrator) refetch(ctx context.Context, p *pass) error {
	p.refetched = true
	logging.FromContext(ctx).Warn("source file missing, re-acquiring version", "version", p.version)

	cat, err := o.fetch(ctx, p)
	if err != nil {
		return err
	}
	// Only refresh records already in the working set; the batch stays fixed.
	known := make(map[string]bool, len(p.sources))
	for _, ds := range p.sources {
		known[ds.ID] = true
	}
	p.sources = core.MergeByID(p.sources, core.Select(cat.DataSources, func(ds core.DataSource) bool {
		return known[ds.ID]
	}))
	return nil
}

func (o *Orchestrator) processStage(ctx context.Context, p *pass) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	todo := core.Select(p.sources, core.DataSource.NeedsProcess)
	var done []core.DataSource

	for i, ds := range todo {
		if err := o.pace(ctx, i, o.opts.Waits.Process); err != nil {
			return err
		}

		// Pick up paths refreshed by an earlier refetch in this stage.
		ds = current(p.sources, ds)

		if !fileExists(ds.FilePath) {
			if p.refetched {
				return core.Errorf(core.KindNotFound, "pipeline.process", "source file for %s still missing after re-acquiring %s: %q", ds.ID, p.version, ds.FilePath)
			}
			if err := o.refetch(ctx, p); err != nil {
				return err
			}
			ds = current(p.sources, ds)
			if !fileExists(ds.FilePath) {
				return core.Errorf(core.KindNotFound, "pipeline.process", "source file for %s still missing after re-acquiring %s: %q", ds.ID, p.version, ds.FilePath)
			}
		}

		start := time.Now()
		processed, err := o.deps.Transformer.Process(ctx, ds, p.headers)
		if err != nil {
			o.recordError(ctx, span, p, StageProcess, ds, err, start)
			o.progress(StageProcess, i+1, len(todo))
			continue
		}

		patch := core.Patch{
			Processed:      core.Set(true),
			ValidRows:      core.Set(processed.ValidRows),
			ImportFilePath: core.Set(processed.ImportFilePath),
			ImportFileURL:  optString(processed.ImportFileURL),
		}
		updated, err := o.persist(ctx, StageProcess, ds.ID, patch)
		if err != nil {
			return err
		}

		done = append(done, updated)
		p.result.Summary.Processed++
		o.opts.Metrics.Record(StageProcess, metrics.OutcomeOK, time.Since(start))
		o.opts.Metrics.ValidRows(updated.ValidRows)
		o.progress(StageProcess, i+1, len(todo))
	}

	p.sources = core.MergeByID(p.sources, done)
	span.SetAttributes(attribute.Int("records", len(todo)), attribute.Int("processed", len(done)))
	return nil
}

func (o *Orchestrator) importStage(ctx context.Context, p *pass) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.import")
	defer span.End()

	todo := core.Select(p.sources, core.DataSource.NeedsImport)
	var done []core.DataSource

	for i, ds := range todo {
		if err := o.pace(ctx, i, o.opts.Waits.Import); err != nil {
			return err
		}
		start := time.Now()

		if ds.ImportFilePath != "" && !fileExists(ds.ImportFilePath) {
			logging.WithFields(ctx, "stage", StageImport, "data_source", ds.ID).
				Warn("processed artifact missing, scheduling reprocess", "path", ds.ImportFilePath)

			healed, err := o.persist(ctx, StageImport, ds.ID, core.Patch{
				Processed:      core.Clear[bool](),
				ImportFilePath: core.Clear[string](),
				ImportFileURL:  core.Clear[string](),
			})
			if err != nil {
				return err
			}
			done = append(done, healed)
			p.result.Summary.Healed++
			o.opts.Metrics.Record(StageImport, metrics.OutcomeHealed, time.Since(start))
			o.progress(StageImport, i+1, len(todo))
			continue
		}

		patch := core.Patch{Imported: core.Set(true)}
		if ds.ImportFileURL != "" && o.deps.Publisher != nil {
			// Presigned URLs expire between passes.
			u, err := o.deps.Publisher.URL(ctx, ds)
			if err != nil {
				o.recordError(ctx, span, p, StageImport, ds, err, start)
				o.progress(StageImport, i+1, len(todo))
				continue
			}
			if u != "" {
				ds.ImportFileURL = u
				patch.ImportFileURL = core.Set(u)
			}
		}

		_, rows, err := o.deps.Importer.Import(ctx, ds)
		if err != nil {
			o.recordError(ctx, span, p, StageImport, ds, err, start)
			o.progress(StageImport, i+1, len(todo))
			continue
		}

		updated, err := o.persist(ctx, StageImport, ds.ID, patch)
		if err != nil {
			return err
		}

		done = append(done, updated)
		p.result.Summary.Imported++
		p.result.Summary.Rows += rows
		logging.WithFields(ctx, "stage", StageImport, "data_source", ds.ID).Debug("imported", "rows", rows)
		o.opts.Metrics.Record(StageImport, metrics.OutcomeOK, time.Since(start))
		o.progress(StageImport, i+1, len(todo))
	}

	p.sources = core.MergeByID(p.sources, done)
	span.SetAttributes(attribute.Int("records", len(todo)), attribute.Int("imported", len(done)))
	return nil
}

func (o *Orchestrator) cleanStage(ctx context.Context, p *pass) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.clean")
	defer span.End()

	todo := core.Select(p.sources, core.DataSource.NeedsClean)
	var done []core.DataSource

	for i, ds := range todo {
		if err := o.pace(ctx, i, o.opts.Waits.Clean); err != nil {
			return err
		}
		start := time.Now()

		if err := o.removeArtifacts(ctx, ds); err != nil {
			o.recordError(ctx, span, p, StageClean, ds, err, start)
			o.progress(StageClean, i+1, len(todo))
			continue
		}

		updated, err := o.persist(ctx, StageClean, ds.ID, core.Patch{
			FilePath:       core.Clear[string](),
			ImportFilePath: core.Clear[string](),
			ImportFileURL:  core.Clear[string](),
			Cleaned:        core.Set(true),
		})
		if err != nil {
			return err
		}

		done = append(done, updated)
		p.result.Summary.Cleaned++
		o.opts.Metrics.Record(StageClean, metrics.OutcomeOK, time.Since(start))
		o.progress(StageClean, i+1, len(todo))
	}

	p.sources = core.MergeByID(p.sources, done)
	span.SetAttributes(attribute.Int("records", len(todo)), attribute.Int("cleaned", len(done)))
	return nil
}

// removeArtifacts withdraws the published copy first so a failure leaves
// the local files the record still points at.
func (o *Orchestrator) removeArtifacts(ctx context.Context, ds core.DataSource) error {
	if o.deps.Publisher != nil {
		if err := o.deps.Publisher.Remove(ctx, ds); err != nil {
			return err
		}
	}
	for _, path := range []string{ds.ImportFilePath, ds.FilePath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return core.E(core.KindIO, "pipeline.clean", err)
		}
	}
	return nil
}

// persist writes a stage result. Failure is fatal to the pass.
func (o *Orchestrator) persist(ctx context.Context, stage, id string, patch core.Patch) (core.DataSource, error) {
	updated, err := o.deps.Registry.Update(ctx, id, patch)
	if err != nil {
		return core.DataSource{}, fmt.Errorf("%s %s: persist: %w", stage, id, err)
	}
	return updated, nil
}

func (o *Orchestrator) recordError(ctx context.Context, span trace.Span, p *pass, stage string, ds core.DataSource, err error, start time.Time) {
	recErr := &RecordError{ID: ds.ID, Stage: stage, Err: err}
	p.result.Errors = append(p.result.Errors, recErr)

	span.RecordError(err, trace.WithAttributes(attribute.String("data_source", ds.ID)))
	o.opts.Metrics.Record(stage, metrics.OutcomeError, time.Since(start))
	logging.WithFields(ctx, "stage", stage, "data_source", ds.ID).
		Error("record failed", "error", err, "code", recErr.Code())
}

func (o *Orchestrator) progress(stage string, done, total int) {
	if o.opts.Progress != nil {
		o.opts.Progress(stage, done, total)
	}
}

// pace sleeps d before every record but the first.
func (o *Orchestrator) pace(ctx context.Context, i int, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if i == 0 || d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func current(sources []core.DataSource, ds core.DataSource) core.DataSource {
	for _, s := range sources {
		if s.ID == ds.ID {
			return s
		}
	}
	return ds
}

func optString(v string) core.Opt[string] {
	if v == "" {
		return core.Clear[string]()
	}
	return core.Set(v)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
