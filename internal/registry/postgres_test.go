package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/opennames/internal/core"
)

func TestListQuery(t *testing.T) {
	sql, args, err := listQuery("OpenNames", "2024-04", core.ListFilter{
		IncludeFiles: []string{"TR04.csv", "SU88.csv"},
		BatchSize:    10,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM data_sources d JOIN data_source_versions v ON v.version = d.version")
	assert.Contains(t, sql, "d.file_name IN ($3,$4)")
	assert.Contains(t, sql, "ORDER BY d.cleaned, d.processed, d.imported, d.id")
	assert.Contains(t, sql, "LIMIT 10")
	assert.Equal(t, []any{"2024-04", "OpenNames", "TR04.csv", "SU88.csv"}, args)
}

func TestListQuery_NoFilter(t *testing.T) {
	sql, args, err := listQuery("OpenNames", "2024-04", core.ListFilter{})
	require.NoError(t, err)
	assert.NotContains(t, sql, "IN (")
	assert.NotContains(t, sql, "LIMIT")
	assert.Len(t, args, 2)
}

func TestUpsertSourcesQuery(t *testing.T) {
	sql, args, err := upsertSourcesQuery(testRegistration())
	require.NoError(t, err)

	assert.Contains(t, sql, "INSERT INTO data_sources (id,version,file_name,file_path)")
	assert.Contains(t, sql, "ON CONFLICT (id) DO UPDATE")
	assert.Contains(t, sql, "WHEN data_sources.cleaned THEN NULL")
	require.Len(t, args, 12)
	assert.Equal(t, "2024-04/TR04.csv", args[0])
	assert.Equal(t, "/cache/os/OpenNames/2024-04/opname_csv_gb/Data/TR04.csv", args[3])
}

func TestUpdateQuery(t *testing.T) {
	sql, args, err := updateQuery("2024-04/TR04.csv", core.Patch{
		Processed:      core.Clear[bool](),
		ImportFilePath: core.Clear[string](),
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "UPDATE data_sources SET import_file_path = $1, processed = $2, updated_at = now()")
	assert.Contains(t, sql, "WHERE id = $3")
	assert.Contains(t, sql, "RETURNING id, version, file_name")
	assert.Equal(t, []any{nil, false, "2024-04/TR04.csv"}, args)
}
