package registry

import (
	"context"
	"path"
	"sync"

	"github.com/JonMunkholm/opennames/internal/core"
)

// Memory is a process-local Registry. It backs tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]core.DataSource
	headers map[string][]string
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]core.DataSource),
		headers: make(map[string][]string),
	}
}

// List implements core.Registry.
func (m *Memory) List(_ context.Context, version string, filter core.ListFilter) (core.Catalog, error) {
	if err := requireVersion(opList, version); err != nil {
		return core.Catalog{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog(version, filter), nil
}

func (m *Memory) catalog(version string, filter core.ListFilter) core.Catalog {
	var sources []core.DataSource
	for _, ds := range m.records {
		if ds.Version == version {
			sources = append(sources, ds)
		}
	}
	sources = applyFilter(sources, filter)
	if len(sources) == 0 {
		return core.Catalog{}
	}
	return core.Catalog{
		DataSources:  sources,
		HeaderSchema: append([]string(nil), m.headers[version]...),
	}
}

// Register implements core.Registry.
func (m *Memory) Register(_ context.Context, reg core.Registration) (core.Catalog, error) {
	if err := reg.Validate(); err != nil {
		return core.Catalog{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.headers[reg.Version] = append([]string(nil), reg.HeaderSchema...)
	for _, name := range reg.FileNames {
		id := core.DataSourceID(reg.Version, name)
		ds, ok := m.records[id]
		if !ok {
			ds = core.DataSource{ID: id, Version: reg.Version, FileName: name}
		}
		if !ds.Cleaned {
			ds.FilePath = path.Join(reg.BaseDir, name)
		}
		m.records[id] = ds
	}
	return m.catalog(reg.Version, reg.Filter), nil
}

// Update implements core.Registry.
func (m *Memory) Update(_ context.Context, id string, patch core.Patch) (core.DataSource, error) {
	if err := validateUpdate(id, patch); err != nil {
		return core.DataSource{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.records[id]
	if !ok {
		return core.DataSource{}, core.Errorf(core.KindNotFound, opUpdate, "no data source with id %q", id)
	}
	ds = patch.Apply(ds)
	m.records[id] = ds
	return ds, nil
}

// Delete implements core.Registry.
func (m *Memory) Delete(_ context.Context, id string) (int, error) {
	if id == "" {
		return 0, core.Errorf(core.KindValidation, opDelete, "id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return 0, nil
	}
	delete(m.records, id)
	return 1, nil
}
