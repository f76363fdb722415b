package pipeline_test

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/opennames/internal/acquire"
	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/pipeline"
	"github.com/JonMunkholm/opennames/internal/registry"
	"github.com/JonMunkholm/opennames/internal/transform"
)

const version = "2024-04"

var headerSchema = []string{"ID", "NAME1", "TYPE", "LOCAL_TYPE", "GEOMETRY_X", "GEOMETRY_Y", "COUNTY_UNITARY"}

// sourceFiles are the archive contents served by fakeSource.
var sourceFiles = map[string]string{
	"NN11.csv": "NN1,Northampton,populatedPlace,City,475000,260000,Northamptonshire\n",
	"SZ99.csv": "PO211LE,PO21 1LE,other,Postcode,493786,99056,West Sussex\nPO21R1,Aldwick Road,transportNetwork,Named Road,493000,99000,West Sussex\n",
	"TR04.csv": "TR11AA,TR1 1AA,other,Postcode,182000,44800,Cornwall\nTR11AB,TR1 1AB,other,Postcode,182100,44900,Cornwall\n",
}

// fakeSource extracts sourceFiles into a fresh directory on every Fetch.
type fakeSource struct {
	t       *testing.T
	fetches int
	// skipFiles leaves the data directory empty of these names.
	skipFiles map[string]bool
	err       error
}

func (s *fakeSource) ResolveVersion(context.Context) (string, error) { return version, nil }

func (s *fakeSource) Fetch(_ context.Context, v string) (acquire.Result, error) {
	s.fetches++
	if s.err != nil {
		return acquire.Result{}, s.err
	}

	dir := filepath.Join(s.t.TempDir(), "os", "OpenNames", v, "DATA")
	require.NoError(s.t, os.MkdirAll(dir, 0o755))

	var names []string
	for name, body := range sourceFiles {
		names = append(names, name)
		if s.skipFiles[name] {
			continue
		}
		require.NoError(s.t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	sort.Strings(names)
	return acquire.Result{DataDir: dir, FileNames: names, HeaderSchema: headerSchema, Cached: s.fetches > 1}, nil
}

// placeStore merges artifact rows by id, like MERGE on a unique key.
type placeStore struct {
	mu      sync.Mutex
	places  map[string]int
	failIDs map[string]bool
	// urls holds the artifact URL each record was last loaded from.
	urls map[string]string
}

func newPlaceStore() *placeStore {
	return &placeStore{places: map[string]int{}, failIDs: map[string]bool{}, urls: map[string]string{}}
}

func (s *placeStore) Import(_ context.Context, ds core.DataSource) (core.DataSource, int64, error) {
	if s.failIDs[ds.ID] {
		return ds, 0, core.Errorf(core.KindPersistence, "importer.import", "connection refused")
	}
	s.mu.Lock()
	s.urls[ds.ID] = ds.ImportFileURL
	s.mu.Unlock()

	f, err := os.Open(ds.ImportFilePath)
	if err != nil {
		return ds, 0, core.E(core.KindIO, "importer.import", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return ds, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows[1:] {
		s.places[row[0]]++
	}
	out := ds
	out.Imported = true
	return out, int64(len(rows) - 1), nil
}

func (s *placeStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.places {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// failingTransformer fails the listed ids and delegates the rest.
type failingTransformer struct {
	next    pipeline.Transformer
	failIDs map[string]bool
}

func (f failingTransformer) Process(ctx context.Context, ds core.DataSource, headers []string) (core.DataSource, error) {
	if f.failIDs[ds.ID] {
		return ds, core.Errorf(core.KindValidation, "transform.process", "GEOMETRY_X is not finite")
	}
	return f.next.Process(ctx, ds, headers)
}

// failingRegistry fails Update when fail returns true.
type failingRegistry struct {
	core.Registry
	fail func(id string, patch core.Patch) bool
}

func (r failingRegistry) Update(ctx context.Context, id string, patch core.Patch) (core.DataSource, error) {
	if r.fail(id, patch) {
		return core.DataSource{}, core.Errorf(core.KindPersistence, "registry.update", "write rejected")
	}
	return r.Registry.Update(ctx, id, patch)
}

type failingPublisher struct{ failIDs map[string]bool }

func (failingPublisher) Publish(context.Context, core.DataSource, string) (string, error) {
	return "", nil
}

func (p failingPublisher) Remove(_ context.Context, ds core.DataSource) error {
	if p.failIDs[ds.ID] {
		return core.Errorf(core.KindPersistence, "artifact.remove", "AccessDenied")
	}
	return nil
}

func (failingPublisher) URL(context.Context, core.DataSource) (string, error) {
	return "", nil
}

// signingPublisher hands out a new signed URL on every call.
type signingPublisher struct{ signed int }

func (p *signingPublisher) Publish(ctx context.Context, ds core.DataSource, _ string) (string, error) {
	return p.URL(ctx, ds)
}

func (p *signingPublisher) URL(_ context.Context, ds core.DataSource) (string, error) {
	p.signed++
	return fmt.Sprintf("https://artifacts.s3/%s?sig=%d", ds.ID, p.signed), nil
}

func (*signingPublisher) Remove(context.Context, core.DataSource) error { return nil }

// cleanedFirstRegistry returns capped batches holding only cleaned records.
type cleanedFirstRegistry struct {
	core.Registry
}

func (r cleanedFirstRegistry) List(ctx context.Context, v string, filter core.ListFilter) (core.Catalog, error) {
	if filter.BatchSize <= 0 {
		return r.Registry.List(ctx, v, filter)
	}
	cat, err := r.Registry.List(ctx, v, core.ListFilter{IncludeFiles: filter.IncludeFiles})
	if err != nil {
		return cat, err
	}
	cat.DataSources = core.Select(cat.DataSources, func(ds core.DataSource) bool { return ds.Cleaned })
	if len(cat.DataSources) > filter.BatchSize {
		cat.DataSources = cat.DataSources[:filter.BatchSize]
	}
	return cat, nil
}

type harness struct {
	t         *testing.T
	registry  *registry.Memory
	source    *fakeSource
	store     *placeStore
	importDir string
	deps      pipeline.Deps
	opts      pipeline.Options
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:         t,
		registry:  registry.NewMemory(),
		source:    &fakeSource{t: t, skipFiles: map[string]bool{}},
		store:     newPlaceStore(),
		importDir: t.TempDir(),
	}
	h.deps = pipeline.Deps{
		Registry:    h.registry,
		Source:      h.source,
		Transformer: transform.New(transform.Options{ImportDir: h.importDir}),
		Importer:    h.store,
	}
	return h
}

func (h *harness) run() (pipeline.Result, error) {
	return pipeline.New(h.deps, h.opts).Run(context.Background())
}

func (h *harness) records() map[string]core.DataSource {
	cat, err := h.registry.List(context.Background(), version, core.ListFilter{})
	require.NoError(h.t, err)
	out := make(map[string]core.DataSource, len(cat.DataSources))
	for _, ds := range cat.DataSources {
		out[ds.ID] = ds
	}
	return out
}

func assertInvariants(t *testing.T, sources []core.DataSource) {
	t.Helper()
	for _, ds := range sources {
		if ds.Cleaned {
			assert.Empty(t, ds.FilePath, "%s cleaned with file path", ds.ID)
			assert.Empty(t, ds.ImportFilePath, "%s cleaned with import path", ds.ID)
		}
		if ds.Imported {
			assert.True(t, ds.Processed, "%s imported but not processed", ds.ID)
		}
	}
}

func TestRun_FullPass(t *testing.T) {
	h := newHarness(t)

	var progress []string
	h.opts.Progress = func(stage string, done, total int) {
		progress = append(progress, stage)
	}

	res, err := h.run()
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	s := res.Summary
	assert.Equal(t, version, s.Version)
	assert.True(t, s.Fetched)
	assert.False(t, s.Cached)
	assert.Equal(t, 3, s.Processed)
	assert.Equal(t, 2, s.Imported, "NN11 has no valid rows and is never imported")
	assert.Equal(t, 3, s.Cleaned)
	assert.EqualValues(t, 3, s.Rows)
	assert.True(t, s.Complete)

	assert.Equal(t, []string{"PO211LE", "TR11AA", "TR11AB"}, h.store.ids())
	assert.Equal(t, []string{
		"process", "process", "process",
		"import", "import",
		"clean", "clean", "clean",
	}, progress)

	recs := h.records()
	require.Len(t, recs, 3)
	assert.Zero(t, recs["2024-04/NN11.csv"].ValidRows)
	assert.False(t, recs["2024-04/NN11.csv"].Imported)
	assert.EqualValues(t, 2, recs["2024-04/TR04.csv"].ValidRows)
	for _, ds := range recs {
		assert.True(t, ds.Cleaned)
	}
	assertInvariants(t, res.DataSources)

	entries, err := os.ReadDir(filepath.Join(h.importDir, version))
	require.NoError(t, err)
	assert.Empty(t, entries, "artifacts not removed")
}

func TestRun_CompleteVersionIsNoOp(t *testing.T) {
	h := newHarness(t)
	_, err := h.run()
	require.NoError(t, err)
	before := h.records()

	res, err := h.run()
	require.NoError(t, err)

	assert.True(t, res.Summary.Complete)
	assert.False(t, res.Summary.Fetched)
	assert.Zero(t, res.Summary.Processed+res.Summary.Imported+res.Summary.Cleaned)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, h.source.fetches)
	assert.Equal(t, before, h.records())
}

func TestRun_RecordErrorsDoNotStopThePass(t *testing.T) {
	h := newHarness(t)
	h.deps.Transformer = failingTransformer{
		next:    h.deps.Transformer,
		failIDs: map[string]bool{"2024-04/SZ99.csv": true},
	}
	h.store.failIDs["2024-04/TR04.csv"] = true

	res, err := h.run()
	require.NoError(t, err)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, "2024-04/SZ99.csv", res.Errors[0].ID)
	assert.Equal(t, pipeline.StageProcess, res.Errors[0].Stage)
	assert.Equal(t, "VAL001", res.Errors[0].Code())
	assert.ErrorIs(t, res.Errors[0], core.ErrValidation)

	assert.Equal(t, "2024-04/TR04.csv", res.Errors[1].ID)
	assert.Equal(t, pipeline.StageImport, res.Errors[1].Stage)
	assert.Equal(t, "DB002", res.Errors[1].Code())

	assert.Equal(t, 2, res.Summary.Processed)
	assert.Zero(t, res.Summary.Imported)
	assert.Equal(t, 1, res.Summary.Cleaned)
	assert.False(t, res.Summary.Complete)

	recs := h.records()
	assert.False(t, recs["2024-04/SZ99.csv"].Processed)
	assert.True(t, recs["2024-04/TR04.csv"].Processed)
	assert.False(t, recs["2024-04/TR04.csv"].Imported)
	assert.FileExists(t, recs["2024-04/TR04.csv"].ImportFilePath)
	assert.True(t, recs["2024-04/NN11.csv"].Cleaned)
	assertInvariants(t, res.DataSources)

	// The next pass resumes where this one stopped.
	h.deps.Transformer = transform.New(transform.Options{ImportDir: h.importDir})
	h.store.failIDs = map[string]bool{}

	res, err = h.run()
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Summary.Processed)
	assert.Equal(t, 2, res.Summary.Imported)
	assert.True(t, res.Summary.Complete)
	assert.Equal(t, 1, h.source.fetches)
}

func TestRun_ImportTwiceDoesNotDuplicate(t *testing.T) {
	h := newHarness(t)
	h.opts.IncludeFiles = []string{"TR04.csv"}

	failImport := true
	h.deps.Registry = failingRegistry{Registry: h.registry, fail: func(_ string, patch core.Patch) bool {
		return failImport && patch.Imported.IsSet()
	}}

	// The rows are merged but the imported flag is never persisted.
	_, err := h.run()
	require.ErrorIs(t, err, core.ErrPersistence)
	ds := h.records()["2024-04/TR04.csv"]
	assert.True(t, ds.Processed)
	assert.False(t, ds.Imported)

	failImport = false
	res, err := h.run()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Imported)
	assert.True(t, res.Summary.Complete)

	assert.Equal(t, []string{"TR11AA", "TR11AB"}, h.store.ids())
	assert.Equal(t, 2, h.store.places["TR11AA"], "artifact was loaded twice")
}

func TestRun_IncludeFiles(t *testing.T) {
	h := newHarness(t)
	h.opts.IncludeFiles = []string{"TR04.csv"}

	res, err := h.run()
	require.NoError(t, err)
	require.Len(t, res.DataSources, 1)
	assert.Equal(t, "2024-04/TR04.csv", res.DataSources[0].ID)
	assert.Len(t, h.records(), 1)

	// Registering the remaining files leaves the included subset isolated.
	_, err = h.registry.Register(context.Background(), core.Registration{
		Version: version, BaseDir: t.TempDir(), FileNames: []string{"NN11.csv", "SZ99.csv"}, HeaderSchema: headerSchema,
	})
	require.NoError(t, err)

	cat, err := h.registry.List(context.Background(), version, core.ListFilter{IncludeFiles: []string{"TR04.csv"}})
	require.NoError(t, err)
	require.Len(t, cat.DataSources, 1)
	assert.Equal(t, "TR04.csv", cat.DataSources[0].FileName)
}

func TestRun_IncludeFilesMatchesNothing(t *testing.T) {
	h := newHarness(t)
	h.opts.IncludeFiles = []string{"HP40.csv"}

	_, err := h.run()
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, h.records())
}

func TestRun_BatchSize(t *testing.T) {
	h := newHarness(t)
	h.opts.BatchSize = 2

	res, err := h.run()
	require.NoError(t, err)
	assert.Len(t, res.DataSources, 2)
	assert.False(t, res.Summary.Complete)
	assert.Len(t, h.records(), 3)

	res, err = h.run()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Processed, "second pass picks up the pending record first")

	res, err = h.run()
	require.NoError(t, err)
	assert.True(t, res.Summary.Complete)
}

func TestRun_BatchSizeReachesUncleanedRecord(t *testing.T) {
	h := newHarness(t)
	h.opts.BatchSize = 1
	pub := failingPublisher{failIDs: map[string]bool{"2024-04/SZ99.csv": true}}
	h.deps.Publisher = pub

	// NN11, then SZ99 (clean fails), then TR04.
	for i := 0; i < 3; i++ {
		res, err := h.run()
		require.NoError(t, err)
		assert.False(t, res.Summary.Complete, "pass %d", i+1)
	}
	ds := h.records()["2024-04/SZ99.csv"]
	require.True(t, ds.Imported)
	require.False(t, ds.Cleaned)

	// NN11 is finished without an import; it must not shadow SZ99.
	delete(pub.failIDs, "2024-04/SZ99.csv")
	res, err := h.run()
	require.NoError(t, err)
	require.Len(t, res.DataSources, 1)
	assert.Equal(t, "2024-04/SZ99.csv", res.DataSources[0].ID)
	assert.Equal(t, 1, res.Summary.Cleaned)
	assert.True(t, res.Summary.Complete)
	for id, ds := range h.records() {
		assert.True(t, ds.Cleaned, id)
	}
}

func TestRun_CappedCleanedBatchIsNotComplete(t *testing.T) {
	h := newHarness(t)
	h.opts.BatchSize = 1

	_, err := h.run()
	require.NoError(t, err)
	require.True(t, h.records()["2024-04/NN11.csv"].Cleaned)

	h.deps.Registry = cleanedFirstRegistry{Registry: h.registry}
	res, err := h.run()
	require.NoError(t, err)
	assert.False(t, res.Summary.Complete)
	assert.Equal(t, 1, h.source.fetches)
}

func TestRun_ImportRefreshesPublishedURL(t *testing.T) {
	h := newHarness(t)
	h.opts.IncludeFiles = []string{"TR04.csv"}
	pub := &signingPublisher{}
	h.deps.Publisher = pub
	h.deps.Transformer = transform.New(transform.Options{ImportDir: h.importDir, Publisher: pub})
	h.store.failIDs["2024-04/TR04.csv"] = true

	res, err := h.run()
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "https://artifacts.s3/2024-04/TR04.csv?sig=1", h.records()["2024-04/TR04.csv"].ImportFileURL)

	delete(h.store.failIDs, "2024-04/TR04.csv")
	res, err = h.run()
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Summary.Imported)
	assert.EqualValues(t, 2, res.Summary.Rows)
	assert.Equal(t, "https://artifacts.s3/2024-04/TR04.csv?sig=3", h.store.urls["2024-04/TR04.csv"])
}

func TestRun_MissingSourceFileRefetchesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, core.Registration{
		Version:      version,
		BaseDir:      filepath.Join(t.TempDir(), "moved"),
		FileNames:    []string{"NN11.csv", "SZ99.csv", "TR04.csv"},
		HeaderSchema: headerSchema,
	})
	require.NoError(t, err)

	res, err := h.run()
	require.NoError(t, err)
	assert.Equal(t, 1, h.source.fetches)
	assert.True(t, res.Summary.Fetched)
	assert.Equal(t, 3, res.Summary.Processed)
	assert.True(t, res.Summary.Complete)
}

func TestRun_MissingSourceFileAfterRefetchAborts(t *testing.T) {
	h := newHarness(t)
	h.source.skipFiles["SZ99.csv"] = true

	_, err := h.registry.Register(context.Background(), core.Registration{
		Version:      version,
		BaseDir:      filepath.Join(t.TempDir(), "moved"),
		FileNames:    []string{"NN11.csv", "SZ99.csv", "TR04.csv"},
		HeaderSchema: headerSchema,
	})
	require.NoError(t, err)

	_, err = h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Contains(t, err.Error(), "SZ99.csv")
	assert.Equal(t, 1, h.source.fetches)

	// NN11 sorts first and was processed before the abort.
	assert.True(t, h.records()["2024-04/NN11.csv"].Processed)
}

func TestRun_RefetchFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	_, err := h.registry.Register(context.Background(), core.Registration{
		Version: version, BaseDir: "/nonexistent", FileNames: []string{"TR04.csv"}, HeaderSchema: headerSchema,
	})
	require.NoError(t, err)
	h.source.err = core.Errorf(core.KindUpstream, "acquire.fetch", "status 503")

	_, err = h.run()
	assert.ErrorIs(t, err, core.ErrUpstream)
	assert.Equal(t, 1, h.source.fetches)
}

func TestRun_MissingArtifactClearsProcessed(t *testing.T) {
	h := newHarness(t)
	h.opts.IncludeFiles = []string{"TR04.csv"}
	ctx := context.Background()

	res, err := h.source.Fetch(ctx, version)
	require.NoError(t, err)
	h.source.fetches = 0
	_, err = h.registry.Register(ctx, core.Registration{
		Version: version, BaseDir: res.DataDir, FileNames: []string{"TR04.csv"}, HeaderSchema: headerSchema,
	})
	require.NoError(t, err)
	_, err = h.registry.Update(ctx, "2024-04/TR04.csv", core.Patch{
		Processed:      core.Set(true),
		ValidRows:      core.Set(int64(2)),
		ImportFilePath: core.Set(filepath.Join(h.importDir, version, "TR04.csv")),
	})
	require.NoError(t, err)

	out, err := h.run()
	require.NoError(t, err)
	assert.Empty(t, out.Errors)
	assert.Equal(t, 1, out.Summary.Healed)
	assert.Zero(t, out.Summary.Imported)
	assert.Empty(t, h.store.ids())

	ds := h.records()["2024-04/TR04.csv"]
	assert.False(t, ds.Processed)
	assert.Empty(t, ds.ImportFilePath)
	assert.True(t, ds.NeedsProcess())

	out, err = h.run()
	require.NoError(t, err)
	assert.Equal(t, 1, out.Summary.Processed)
	assert.Equal(t, 1, out.Summary.Imported)
	assert.True(t, out.Summary.Complete)
	assert.Zero(t, h.source.fetches)
}

func TestRun_PersistFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.deps.Registry = failingRegistry{Registry: h.registry, fail: func(id string, _ core.Patch) bool {
		return id == "2024-04/SZ99.csv"
	}}

	res, err := h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)
	assert.Contains(t, err.Error(), "process 2024-04/SZ99.csv")
	assert.Empty(t, res.Errors)

	recs := h.records()
	assert.True(t, recs["2024-04/NN11.csv"].Processed)
	assert.False(t, recs["2024-04/TR04.csv"].Processed, "pass stopped at the failed write")
}

func TestRun_CleanFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.deps.Publisher = failingPublisher{failIDs: map[string]bool{"2024-04/TR04.csv": true}}

	res, err := h.run()
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, pipeline.StageClean, res.Errors[0].Stage)
	assert.Equal(t, 2, res.Summary.Cleaned)
	assert.False(t, res.Summary.Complete)

	ds := h.records()["2024-04/TR04.csv"]
	assert.True(t, ds.Imported)
	assert.False(t, ds.Cleaned)
	assert.FileExists(t, ds.FilePath)
	assert.FileExists(t, ds.ImportFilePath)
	assertInvariants(t, res.DataSources)
}

func TestRun_FetchFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.source.err = core.Errorf(core.KindIntegrity, "acquire.acquire", "md5 mismatch")

	_, err := h.run()
	assert.ErrorIs(t, err, core.ErrIntegrity)
	assert.True(t, strings.HasPrefix(err.Error(), "fetch 2024-04"))
	assert.Empty(t, h.records())
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.New(h.deps, h.opts).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
