package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/graph"
	"github.com/JonMunkholm/opennames/internal/logging"
)

const op = "importer.import"

// Options configures an importer.
type Options struct {
	// ImportDir is the directory the store reads file:/// sources from.
	ImportDir string

	// Rewrite customises the Cypher statement. Ignored by Postgres.
	Rewrite Rewrite
}

// Neo4j loads artifacts with LOAD CSV.
type Neo4j struct {
	runner    graph.Runner
	importDir string
	cypher    string
}

// NewNeo4j renders the import statement once for the lifetime of the importer.
func NewNeo4j(runner graph.Runner, opts Options) *Neo4j {
	return &Neo4j{
		runner:    runner,
		importDir: opts.ImportDir,
		cypher:    Build(opts.Rewrite),
	}
}

// Statement returns the rendered Cypher.
func (n *Neo4j) Statement() string { return n.cypher }

// Source is the LOAD CSV location for ds: its URL when published, else a
// file:/// reference relative to the import directory.
func (n *Neo4j) Source(ds core.DataSource) (string, error) {
	if ds.ImportFileURL != "" {
		return ds.ImportFileURL, nil
	}
	if ds.ImportFilePath == "" {
		return "", core.Errorf(core.KindValidation, op, "%s has no import file", ds.ID)
	}

	rel, err := filepath.Rel(n.importDir, ds.ImportFilePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", core.Errorf(core.KindValidation, op, "%s is outside the import directory %s", ds.ImportFilePath, n.importDir)
	}
	return "file:///" + filepath.ToSlash(rel), nil
}

// Import merges the artifact's rows into Place nodes keyed by id and returns
// ds marked imported along with the merged row count.
func (n *Neo4j) Import(ctx context.Context, ds core.DataSource) (core.DataSource, int64, error) {
	source, err := n.Source(ds)
	if err != nil {
		return ds, 0, err
	}

	records, err := n.runner.Run(ctx, n.cypher, map[string]any{"source": source})
	if err != nil {
		return ds, 0, core.E(core.KindPersistence, op, fmt.Errorf("load %s: %w", source, err))
	}

	var count int64
	if len(records) > 0 {
		count, _, err = graph.Value[int64](records[0], "count")
		if err != nil {
			return ds, 0, core.E(core.KindPersistence, op, err)
		}
	}

	logging.WithFields(ctx, "stage", "import", "data_source", ds.ID).
		Info("imported", "source", source, "count", count)

	out := ds
	out.Imported = true
	return out, count, nil
}
