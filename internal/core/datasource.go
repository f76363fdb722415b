package core

import (
	"context"
	"strings"
)

// DataSource tracks one input file of one dataset version through
// fetch, process, import and clean.
//
// Empty strings mean "unset" for the path fields; the boolean flags are
// false until the stage that owns them completes.
type DataSource struct {
	ID             string `json:"id"`
	Version        string `json:"version"`
	FileName       string `json:"fileName"`
	FilePath       string `json:"filePath,omitempty"`
	ImportFilePath string `json:"importFilePath,omitempty"`
	ImportFileURL  string `json:"importFileUrl,omitempty"`
	Processed      bool   `json:"processed"`
	ValidRows      int64  `json:"validRows"`
	Imported       bool   `json:"imported"`
	Cleaned        bool   `json:"cleaned"`
}

// DataSourceID returns the stable key for a file within a version.
func DataSourceID(version, fileName string) string {
	return version + "/" + fileName
}

// HasImportSource reports whether the record points at a processed artifact.
func (d DataSource) HasImportSource() bool {
	return d.ImportFilePath != "" || d.ImportFileURL != ""
}

// NeedsProcess reports whether the transform stage applies. Cleaned records
// have had their paths cleared on purpose and are never reprocessed.
func (d DataSource) NeedsProcess() bool {
	return !d.Cleaned && (!d.Processed || d.ImportFilePath == "")
}

// NeedsImport reports whether the import stage applies.
func (d DataSource) NeedsImport() bool {
	return d.HasImportSource() && !d.Imported && d.ValidRows > 0
}

// NeedsClean reports whether intermediate artifacts can be deleted.
func (d DataSource) NeedsClean() bool {
	return d.Processed && (d.Imported || d.ValidRows == 0) && !d.Cleaned
}

// Select returns the records for which keep returns true, preserving order.
func Select(sources []DataSource, keep func(DataSource) bool) []DataSource {
	var out []DataSource
	for _, ds := range sources {
		if keep(ds) {
			out = append(out, ds)
		}
	}
	return out
}

// MergeByID replaces records in base with updates that share their ID.
// Updates with unknown IDs are appended. Later updates win.
func MergeByID(base, updates []DataSource) []DataSource {
	merged := make([]DataSource, len(base))
	copy(merged, base)

	index := make(map[string]int, len(merged))
	for i, ds := range merged {
		index[ds.ID] = i
	}
	for _, u := range updates {
		if i, ok := index[u.ID]; ok {
			merged[i] = u
			continue
		}
		index[u.ID] = len(merged)
		merged = append(merged, u)
	}
	return merged
}

// AllCleaned reports whether every record has reached the terminal state.
// An empty set is not complete.
func AllCleaned(sources []DataSource) bool {
	if len(sources) == 0 {
		return false
	}
	for _, ds := range sources {
		if !ds.Cleaned {
			return false
		}
	}
	return true
}

// Catalog is the record set of one version plus its header schema.
type Catalog struct {
	DataSources  []DataSource `json:"dataSources"`
	HeaderSchema []string     `json:"headerSchema"`
}

// ListFilter restricts which records a List call returns.
type ListFilter struct {
	// IncludeFiles keeps only records whose FileName is listed.
	IncludeFiles []string
	// BatchSize caps the result to the first N records; 0 means no cap.
	BatchSize int
}

// Includes reports whether fileName passes the IncludeFiles restriction.
func (f ListFilter) Includes(fileName string) bool {
	if len(f.IncludeFiles) == 0 {
		return true
	}
	for _, name := range f.IncludeFiles {
		if name == fileName {
			return true
		}
	}
	return false
}

// Registration is the input to Registry.Register.
type Registration struct {
	Version      string
	BaseDir      string
	FileNames    []string
	HeaderSchema []string
	Filter       ListFilter
}

// Validate rejects registrations with any required part missing.
func (r Registration) Validate() error {
	var missing []string
	if r.Version == "" {
		missing = append(missing, "version")
	}
	if r.BaseDir == "" {
		missing = append(missing, "baseDir")
	}
	if len(r.FileNames) == 0 {
		missing = append(missing, "fileNames")
	}
	if len(r.HeaderSchema) == 0 {
		missing = append(missing, "headerSchema")
	}
	if len(missing) > 0 {
		return Errorf(KindValidation, "registry.register", "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Registry is the durable catalog of DataSource records. Implementations
// make one round-trip per call and never cache.
type Registry interface {
	// List returns the records of a version, pending records first, then by ID.
	// An unknown version yields an empty catalog.
	List(ctx context.Context, version string, filter ListFilter) (Catalog, error)

	// Register upserts one record per file name and stores the header schema.
	Register(ctx context.Context, reg Registration) (Catalog, error)

	// Update merges patch into the record and returns the updated view.
	Update(ctx context.Context, id string, patch Patch) (DataSource, error)

	// Delete removes a record and returns the number removed (0 or 1).
	Delete(ctx context.Context, id string) (int, error)
}
