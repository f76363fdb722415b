package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/logging"
)

// placeColumns are stored as typed columns; any other artifact column goes
// into places.extra.
var placeColumns = []string{"id", "name", "type", "lat", "lng"}

const createStaging = `CREATE TEMP TABLE places_load (
    id     TEXT,
    name   TEXT,
    type   TEXT,
    lat    DOUBLE PRECISION,
    lng    DOUBLE PRECISION,
    extra  JSONB
) ON COMMIT DROP`

// Later rows win when an artifact repeats an id.
const upsertPlaces = `INSERT INTO places (id, name, type, lat, lng, extra)
SELECT DISTINCT ON (id) id, name, type, lat, lng, COALESCE(extra, '{}'::jsonb)
FROM (SELECT *, row_number() OVER () AS n FROM places_load) l
ORDER BY id, n DESC
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    type = EXCLUDED.type,
    lat = EXCLUDED.lat,
    lng = EXCLUDED.lng,
    extra = EXCLUDED.extra`

// Postgres loads artifacts into the places table with COPY and an upsert.
type Postgres struct {
	db     core.TxDB
	client *http.Client
}

// NewPostgres returns a Postgres importer. client fetches artifacts that only
// have a URL; nil uses http.DefaultClient.
func NewPostgres(db core.TxDB, client *http.Client) *Postgres {
	if client == nil {
		client = http.DefaultClient
	}
	return &Postgres{db: db, client: client}
}

// Import implements the import stage for PostgreSQL.
func (p *Postgres) Import(ctx context.Context, ds core.DataSource) (core.DataSource, int64, error) {
	src, err := p.open(ctx, ds)
	if err != nil {
		return ds, 0, err
	}
	defer src.Close()

	r := csv.NewReader(src)
	header, err := r.Read()
	if err != nil {
		return ds, 0, core.E(core.KindParse, op, fmt.Errorf("read artifact header: %w", err))
	}
	rows, err := newCopySource(r, header)
	if err != nil {
		return ds, 0, err
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return ds, 0, core.E(core.KindPersistence, op, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createStaging); err != nil {
		return ds, 0, core.E(core.KindPersistence, op, err)
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"places_load"}, append(slices.Clone(placeColumns), "extra"), pgx.CopyFromFunc(rows.next))
	if err != nil {
		if k := core.KindOf(err); k == core.KindParse || k == core.KindValidation {
			return ds, 0, err
		}
		return ds, 0, core.E(core.KindPersistence, op, fmt.Errorf("copy %s: %w", ds.ID, err))
	}
	tag, err := tx.Exec(ctx, upsertPlaces)
	if err != nil {
		return ds, 0, core.E(core.KindPersistence, op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ds, 0, core.E(core.KindPersistence, op, fmt.Errorf("commit: %w", err))
	}

	logging.WithFields(ctx, "stage", "import", "data_source", ds.ID).
		Info("imported", "copied", copied, "count", tag.RowsAffected())

	out := ds
	out.Imported = true
	return out, tag.RowsAffected(), nil
}

func (p *Postgres) open(ctx context.Context, ds core.DataSource) (io.ReadCloser, error) {
	switch {
	case ds.ImportFilePath != "":
		f, err := os.Open(ds.ImportFilePath)
		if err != nil {
			return nil, core.E(core.KindIO, op, err)
		}
		return f, nil
	case ds.ImportFileURL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ds.ImportFileURL, nil)
		if err != nil {
			return nil, core.E(core.KindValidation, op, err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, core.E(core.KindIO, op, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, core.Errorf(core.KindIO, op, "fetch %s: status %d", ds.ImportFileURL, resp.StatusCode)
		}
		return resp.Body, nil
	default:
		return nil, core.Errorf(core.KindValidation, op, "%s has no import file", ds.ID)
	}
}

// copySource turns artifact rows into COPY rows.
type copySource struct {
	r     *csv.Reader
	index map[string]int
	extra []string
}

func newCopySource(r *csv.Reader, header []string) (*copySource, error) {
	s := &copySource{r: r, index: make(map[string]int, len(header))}
	for i, h := range header {
		s.index[h] = i
		if !slices.Contains(placeColumns, h) {
			s.extra = append(s.extra, h)
		}
	}
	if _, ok := s.index["id"]; !ok {
		return nil, core.Errorf(core.KindParse, op, "artifact has no id column")
	}
	r.FieldsPerRecord = len(header)
	return s, nil
}

func (s *copySource) next() ([]any, error) {
	rec, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, core.E(core.KindParse, op, err)
	}

	lat, err := s.float(rec, "lat")
	if err != nil {
		return nil, err
	}
	lng, err := s.float(rec, "lng")
	if err != nil {
		return nil, err
	}

	var extra []byte
	if len(s.extra) > 0 {
		m := make(map[string]any, len(s.extra))
		for _, col := range s.extra {
			if v := rec[s.index[col]]; v != "" {
				m[col] = v
			} else {
				m[col] = nil
			}
		}
		if extra, err = json.Marshal(m); err != nil {
			return nil, core.E(core.KindValidation, op, err)
		}
	}

	return []any{s.text(rec, "id"), s.text(rec, "name"), s.text(rec, "type"), lat, lng, extra}, nil
}

func (s *copySource) text(rec []string, col string) *string {
	i, ok := s.index[col]
	if !ok || rec[i] == "" {
		return nil
	}
	return &rec[i]
}

func (s *copySource) float(rec []string, col string) (*float64, error) {
	v := s.text(rec, col)
	if v == nil {
		return nil, nil
	}
	f, err := strconv.ParseFloat(*v, 64)
	if err != nil {
		return nil, core.E(core.KindValidation, op, fmt.Errorf("%s %q: %w", col, *v, err))
	}
	return &f, nil
}
