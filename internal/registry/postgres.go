package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/opennames/internal/core"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var dataSourceColumns = []string{
	"id", "version", "file_name", "file_path", "import_file_path", "import_file_url",
	"processed", "valid_rows", "imported", "cleaned",
}

// columnFor maps patch property names to data_sources columns.
var columnFor = map[string]string{
	core.PropFilePath:       "file_path",
	core.PropImportFilePath: "import_file_path",
	core.PropImportFileURL:  "import_file_url",
	core.PropProcessed:      "processed",
	core.PropValidRows:      "valid_rows",
	core.PropImported:       "imported",
	core.PropCleaned:        "cleaned",
}

// boolColumns are NOT NULL; clearing them resets to false.
var boolColumns = map[string]bool{
	"processed": true,
	"imported":  true,
	"cleaned":   true,
}

// PostgresSchema creates the tables used by the Postgres registry and importer.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS data_source_versions (
    version     TEXT PRIMARY KEY,
    product_id  TEXT NOT NULL,
    headers     TEXT[] NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS data_sources (
    id                TEXT PRIMARY KEY,
    version           TEXT NOT NULL REFERENCES data_source_versions (version),
    file_name         TEXT NOT NULL,
    file_path         TEXT,
    import_file_path  TEXT,
    import_file_url   TEXT,
    processed         BOOLEAN NOT NULL DEFAULT false,
    valid_rows        BIGINT NOT NULL DEFAULT 0,
    imported          BOOLEAN NOT NULL DEFAULT false,
    cleaned           BOOLEAN NOT NULL DEFAULT false,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS data_sources_version_idx ON data_sources (version);

CREATE TABLE IF NOT EXISTS places (
    id     TEXT PRIMARY KEY,
    name   TEXT,
    type   TEXT,
    lat    DOUBLE PRECISION,
    lng    DOUBLE PRECISION,
    extra  JSONB NOT NULL DEFAULT '{}'::jsonb
);
`

// Postgres stores DataSource rows in the data_sources table.
type Postgres struct {
	db        core.TxDB
	productID string
}

// NewPostgres returns a registry scoped to one upstream product.
func NewPostgres(db core.TxDB, productID string) *Postgres {
	return &Postgres{db: db, productID: productID}
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, PostgresSchema); err != nil {
		return core.E(core.KindPersistence, "registry.schema", err)
	}
	return nil
}

func listQuery(productID, version string, filter core.ListFilter) (string, []any, error) {
	q := psql.Select(prefixed("d", dataSourceColumns)...).
		From("data_sources d").
		Join("data_source_versions v ON v.version = d.version").
		Where(squirrel.Eq{"d.version": version, "v.product_id": productID}).
		OrderBy("d.cleaned", "d.processed", "d.imported", "d.id")

	if len(filter.IncludeFiles) > 0 {
		q = q.Where(squirrel.Eq{"d.file_name": filter.IncludeFiles})
	}
	if filter.BatchSize > 0 {
		q = q.Limit(uint64(filter.BatchSize))
	}
	return q.ToSql()
}

func headersQuery(productID, version string) (string, []any, error) {
	return psql.Select("headers").
		From("data_source_versions").
		Where(squirrel.Eq{"version": version, "product_id": productID}).
		ToSql()
}

// List implements core.Registry.
func (p *Postgres) List(ctx context.Context, version string, filter core.ListFilter) (core.Catalog, error) {
	if err := requireVersion(opList, version); err != nil {
		return core.Catalog{}, err
	}
	return p.list(ctx, p.db, opList, version, filter)
}

func (p *Postgres) list(ctx context.Context, db core.DBTX, op, version string, filter core.ListFilter) (core.Catalog, error) {
	sql, args, err := listQuery(p.productID, version, filter)
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, op, err)
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, op, err)
	}
	sources, err := pgx.CollectRows(rows, scanDataSource)
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, op, err)
	}
	if len(sources) == 0 {
		return core.Catalog{}, nil
	}

	sql, args, err = headersQuery(p.productID, version)
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, op, err)
	}
	var headers []string
	if err := db.QueryRow(ctx, sql, args...).Scan(&headers); err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, op, err)
	}
	return core.Catalog{DataSources: sources, HeaderSchema: headers}, nil
}

func upsertVersionQuery(productID string, reg core.Registration) (string, []any, error) {
	return psql.Insert("data_source_versions").
		Columns("version", "product_id", "headers").
		Values(reg.Version, productID, reg.HeaderSchema).
		Suffix("ON CONFLICT (version) DO UPDATE SET headers = EXCLUDED.headers, updated_at = now()").
		ToSql()
}

func upsertSourcesQuery(reg core.Registration) (string, []any, error) {
	baseDir := strings.TrimRight(reg.BaseDir, "/")
	q := psql.Insert("data_sources").Columns("id", "version", "file_name", "file_path")
	for _, name := range reg.FileNames {
		q = q.Values(core.DataSourceID(reg.Version, name), reg.Version, name, baseDir+"/"+name)
	}
	return q.Suffix(`ON CONFLICT (id) DO UPDATE SET
    file_path = CASE WHEN data_sources.cleaned THEN NULL ELSE EXCLUDED.file_path END,
    updated_at = now()`).ToSql()
}

// Register implements core.Registry. The version row and all file rows are
// written in one transaction.
func (p *Postgres) Register(ctx context.Context, reg core.Registration) (core.Catalog, error) {
	if err := reg.Validate(); err != nil {
		return core.Catalog{}, err
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, opRegister, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	for _, build := range []func() (string, []any, error){
		func() (string, []any, error) { return upsertVersionQuery(p.productID, reg) },
		func() (string, []any, error) { return upsertSourcesQuery(reg) },
	} {
		sql, args, err := build()
		if err != nil {
			return core.Catalog{}, core.E(core.KindPersistence, opRegister, err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return core.Catalog{}, core.E(core.KindPersistence, opRegister, err)
		}
	}

	catalog, err := p.list(ctx, tx, opRegister, reg.Version, reg.Filter)
	if err != nil {
		return core.Catalog{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, opRegister, fmt.Errorf("commit: %w", err))
	}
	return catalog, nil
}

func updateQuery(id string, patch core.Patch) (string, []any, error) {
	set := make(map[string]any)
	for prop, value := range patch.Properties() {
		col := columnFor[prop]
		if value == nil && boolColumns[col] {
			value = false
		}
		set[col] = value
	}
	set["updated_at"] = squirrel.Expr("now()")

	return psql.Update("data_sources").
		SetMap(set).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(dataSourceColumns, ", ")).
		ToSql()
}

// Update implements core.Registry.
func (p *Postgres) Update(ctx context.Context, id string, patch core.Patch) (core.DataSource, error) {
	if err := validateUpdate(id, patch); err != nil {
		return core.DataSource{}, err
	}

	sql, args, err := updateQuery(id, patch)
	if err != nil {
		return core.DataSource{}, core.E(core.KindPersistence, opUpdate, err)
	}
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return core.DataSource{}, core.E(core.KindPersistence, opUpdate, err)
	}
	ds, err := pgx.CollectOneRow(rows, scanDataSource)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.DataSource{}, core.Errorf(core.KindNotFound, opUpdate, "no data source with id %q", id)
	}
	if err != nil {
		return core.DataSource{}, core.E(core.KindPersistence, opUpdate, err)
	}
	return ds, nil
}

// Delete implements core.Registry.
func (p *Postgres) Delete(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, core.Errorf(core.KindValidation, opDelete, "id is required")
	}

	sql, args, err := psql.Delete("data_sources").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return 0, core.E(core.KindPersistence, opDelete, err)
	}
	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, core.E(core.KindPersistence, opDelete, err)
	}
	return int(tag.RowsAffected()), nil
}

func scanDataSource(row pgx.CollectableRow) (core.DataSource, error) {
	var (
		ds                              core.DataSource
		filePath, importPath, importURL *string
	)
	err := row.Scan(
		&ds.ID, &ds.Version, &ds.FileName, &filePath, &importPath, &importURL,
		&ds.Processed, &ds.ValidRows, &ds.Imported, &ds.Cleaned,
	)
	if err != nil {
		return core.DataSource{}, err
	}
	ds.FilePath = deref(filePath)
	ds.ImportFilePath = deref(importPath)
	ds.ImportFileURL = deref(importURL)
	return ds, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func prefixed(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return out
}
