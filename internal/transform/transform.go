// Package transform converts one OS Open Names source file into the
// normalized place CSV consumed by the import stage.
package transform

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/JonMunkholm/opennames/internal/artifact"
	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/geo"
	"github.com/JonMunkholm/opennames/internal/logging"
)

const op = "transform.process"

// Default row selection.
var (
	DefaultTypes      = []string{"populatedPlace", "other"}
	DefaultLocalTypes = []string{"Postcode"}
)

// Output columns written for every valid row before hooks run.
var DefaultHeaders = []string{"id", "name", "type", "lat", "lng"}

// RequiredColumns must be present in the header schema.
var RequiredColumns = []string{"ID", "NAME1", "TYPE", "LOCAL_TYPE", "GEOMETRY_X", "GEOMETRY_Y"}

// sourceRow holds the columns the default mapping reads. Coordinates stay
// strings so a bad value is reported as a validation failure.
type sourceRow struct {
	ID        string `csv:"ID"`
	Name      string `csv:"NAME1"`
	Type      string `csv:"TYPE"`
	LocalType string `csv:"LOCAL_TYPE"`
	X         string `csv:"GEOMETRY_X"`
	Y         string `csv:"GEOMETRY_Y"`
}

// Options configures a Processor.
type Options struct {
	// ImportDir is the root for artifacts: {ImportDir}/{version}/{fileName}.
	ImportDir string

	// Publisher decides ImportFileURL. Nil leaves it empty.
	Publisher artifact.Publisher

	Hooks core.Hooks

	// Types and LocalTypes override the default row selection when set.
	Types      []string
	LocalTypes []string
}

// Processor runs the transform stage.
type Processor struct {
	opts       Options
	types      []string
	localTypes []string
}

// New returns a Processor for opts.
func New(opts Options) *Processor {
	p := &Processor{opts: opts, types: DefaultTypes, localTypes: DefaultLocalTypes}
	if len(opts.Types) > 0 {
		p.types = opts.Types
	}
	if len(opts.LocalTypes) > 0 {
		p.localTypes = opts.LocalTypes
	}
	return p
}

// ArtifactPath is where the processed file for ds is written.
func (p *Processor) ArtifactPath(ds core.DataSource) string {
	return filepath.Join(p.opts.ImportDir, ds.Version, ds.FileName)
}

// Process transforms ds.FilePath and returns ds with Processed, ValidRows,
// ImportFilePath and ImportFileURL set. On error nothing is written and ds
// is returned unchanged.
func (p *Processor) Process(ctx context.Context, ds core.DataSource, headers []string) (core.DataSource, error) {
	logger := logging.WithFields(ctx, "stage", "process", "data_source", ds.ID)

	if err := checkSchema(headers); err != nil {
		return ds, err
	}
	if ds.FilePath == "" {
		return ds, core.Errorf(core.KindIO, op, "%s has no source file", ds.ID)
	}
	src, err := os.Open(ds.FilePath)
	if err != nil {
		return ds, core.E(core.KindIO, op, err)
	}
	defer src.Close()

	var total int64
	if info, err := src.Stat(); err == nil {
		total = info.Size()
	}

	dest := p.ArtifactPath(ds)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ds, core.E(core.KindIO, op, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return ds, core.E(core.KindIO, op, err)
	}
	defer os.Remove(tmp.Name())

	reader := core.NewSourceReader(src, total)
	validRows, err := p.writeRows(ctx, reader, tmp, headers)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = core.E(core.KindIO, op, closeErr)
	}
	if err != nil {
		return ds, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return ds, core.E(core.KindIO, op, err)
	}

	var importURL string
	if p.opts.Publisher != nil {
		importURL, err = p.opts.Publisher.Publish(ctx, ds, dest)
		if err != nil {
			os.Remove(dest)
			return ds, err
		}
	}

	logger.Info("processed", "valid_rows", validRows, "bytes_read", reader.BytesRead, "percent", reader.Progress(), "artifact", dest)

	out := ds
	out.Processed = true
	out.ValidRows = validRows
	out.ImportFilePath = dest
	out.ImportFileURL = importURL
	return out, nil
}

func (p *Processor) writeRows(ctx context.Context, in *core.SourceReader, out io.Writer, headers []string) (int64, error) {
	hooks := p.opts.Hooks
	needSource := hooks.RowValidate != nil || hooks.RowExtend != nil

	r := csv.NewReader(in)
	r.FieldsPerRecord = len(headers)
	r.ReuseRecord = true

	dec, err := csvutil.NewDecoder(r, headers...)
	if err != nil {
		return 0, core.E(core.KindParse, op, err)
	}
	dec.DisallowMissingColumns = true

	outHeaders := hooks.ExtendHeaders(DefaultHeaders)
	w := csv.NewWriter(out)
	if err := w.Write(outHeaders); err != nil {
		return 0, core.E(core.KindIO, op, err)
	}

	var (
		row    sourceRow
		line   int
		valid  int64
		record = make([]string, len(outHeaders))
	)
	for {
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, core.E(core.KindParse, op, err)
		}
		line++
		if line%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			hooks.Debug(ctx, "rows read", "rows", line, "percent", in.Progress())
		}

		var source core.Row
		if needSource {
			source = rowMap(headers, dec.Record())
		}

		ok := slices.Contains(p.types, row.Type) && slices.Contains(p.localTypes, row.LocalType)
		if !hooks.Validate(ok, source) {
			continue
		}

		mapped, err := mapRow(row)
		if err != nil {
			return 0, core.E(core.KindValidation, op, fmt.Errorf("line %d (%s): %w", line, row.ID, err))
		}
		mapped = hooks.Extend(mapped, source)

		for i, h := range outHeaders {
			record[i] = mapped[h]
		}
		if err := w.Write(record); err != nil {
			return 0, core.E(core.KindIO, op, err)
		}
		valid++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, core.E(core.KindIO, op, err)
	}
	hooks.Debug(ctx, "rows streamed", "rows", line, "valid_rows", valid)
	return valid, nil
}

// coordDecimals keeps coordinates to about 0.1 m, well inside the accuracy
// of the OSGB36 Helmert shift.
const coordDecimals = 6

// progressEvery is the row interval for cancellation checks and progress
// tracing.
const progressEvery = 1000

// mapRow projects a source row onto the default output columns.
func mapRow(row sourceRow) (core.Row, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(row.X), 64)
	if err != nil {
		return nil, fmt.Errorf("GEOMETRY_X %q: %w", row.X, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(row.Y), 64)
	if err != nil {
		return nil, fmt.Errorf("GEOMETRY_Y %q: %w", row.Y, err)
	}
	lat, lng, err := geo.OSGB36ToWGS84(x, y)
	if err != nil {
		return nil, err
	}

	return core.Row{
		"id":   row.ID,
		"name": row.Name,
		"type": row.LocalType,
		"lat":  strconv.FormatFloat(lat, 'f', coordDecimals, 64),
		"lng":  strconv.FormatFloat(lng, 'f', coordDecimals, 64),
	}, nil
}

func rowMap(headers, record []string) core.Row {
	m := make(core.Row, len(headers))
	for i, h := range headers {
		if i < len(record) {
			m[h] = record[i]
		}
	}
	return m
}

func checkSchema(headers []string) error {
	if len(headers) == 0 {
		return core.Errorf(core.KindParse, op, "header schema is empty")
	}
	var missing []string
	for _, col := range RequiredColumns {
		if !slices.Contains(headers, col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return core.Errorf(core.KindParse, op, "header schema is missing %s", strings.Join(missing, ", "))
	}
	return nil
}
