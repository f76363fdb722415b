package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/graph"
)

// Neo4j stores DataSource nodes under
// (:OsProduct)-[:HAS_VERSION]->(:OsVersion)-[:HAS_FILE]->(:DataSource).
type Neo4j struct {
	runner    graph.Runner
	productID string
}

// NewNeo4j returns a registry scoped to one upstream product.
func NewNeo4j(runner graph.Runner, productID string) *Neo4j {
	return &Neo4j{runner: runner, productID: productID}
}

// orderPending sorts uncleaned records first. Cleared flags are absent
// properties, so they are read as false.
const orderPending = "WITH v, d ORDER BY coalesce(d.cleaned, false), coalesce(d.processed, false), coalesce(d.imported, false), d.id\n"

// catalogReturn orders, collects and optionally slices the matched d nodes
// of version v.
func catalogReturn(filter core.ListFilter) string {
	var b strings.Builder
	if len(filter.IncludeFiles) > 0 {
		b.WriteString("WHERE d.fileName IN $includeFiles\n")
	}
	b.WriteString(orderPending)
	b.WriteString("WITH v, collect(d {.*}) AS dataSources\n")
	if filter.BatchSize > 0 {
		b.WriteString("RETURN v.headers AS headers, dataSources[0..$batchSize] AS dataSources")
	} else {
		b.WriteString("RETURN v.headers AS headers, dataSources")
	}
	return b.String()
}

func filterParams(params map[string]any, filter core.ListFilter) map[string]any {
	if len(filter.IncludeFiles) > 0 {
		params["includeFiles"] = filter.IncludeFiles
	}
	if filter.BatchSize > 0 {
		params["batchSize"] = filter.BatchSize
	}
	return params
}

// List implements core.Registry.
func (n *Neo4j) List(ctx context.Context, version string, filter core.ListFilter) (core.Catalog, error) {
	if err := requireVersion(opList, version); err != nil {
		return core.Catalog{}, err
	}

	cypher := "MATCH (:OsProduct {id: $productId})-[:HAS_VERSION]->(v:OsVersion {id: $version})-[:HAS_FILE]->(d:DataSource)\n" +
		catalogReturn(filter)
	params := filterParams(map[string]any{
		"productId": n.productID,
		"version":   version,
	}, filter)

	records, err := n.runner.Run(ctx, cypher, params)
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, opList, err)
	}
	return decodeCatalog(opList, records)
}

const registerCypher = `MERGE (p:OsProduct {id: $productId})
MERGE (v:OsVersion {id: $version})
SET v.headers = $headers, v.updatedAt = timestamp()
MERGE (p)-[:HAS_VERSION]->(v)
WITH v
UNWIND $fileNames AS fileName
MERGE (d:DataSource {id: $version + "/" + fileName})
ON CREATE SET d.createdAt = timestamp()
SET d.version = $version,
    d.fileName = fileName,
    d.filePath = CASE WHEN d.cleaned THEN null ELSE $dataDir + "/" + fileName END,
    d.updatedAt = timestamp()
MERGE (v)-[:HAS_FILE]->(d)
WITH DISTINCT v
MATCH (v)-[:HAS_FILE]->(d:DataSource)
`

// Register implements core.Registry. Cleaned records keep their cleared
// filePath.
func (n *Neo4j) Register(ctx context.Context, reg core.Registration) (core.Catalog, error) {
	if err := reg.Validate(); err != nil {
		return core.Catalog{}, err
	}

	params := filterParams(map[string]any{
		"productId": n.productID,
		"version":   reg.Version,
		"headers":   reg.HeaderSchema,
		"fileNames": reg.FileNames,
		"dataDir":   strings.TrimRight(reg.BaseDir, "/"),
	}, reg.Filter)

	records, err := n.runner.Run(ctx, registerCypher+catalogReturn(reg.Filter), params)
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, opRegister, err)
	}
	return decodeCatalog(opRegister, records)
}

const updateCypher = `MATCH (d:DataSource {id: $id})
SET d += $properties, d.updatedAt = timestamp()
RETURN d {.*} AS dataSource`

// Update implements core.Registry. Cleared fields are removed from the node.
func (n *Neo4j) Update(ctx context.Context, id string, patch core.Patch) (core.DataSource, error) {
	if err := validateUpdate(id, patch); err != nil {
		return core.DataSource{}, err
	}

	records, err := n.runner.Run(ctx, updateCypher, map[string]any{
		"id":         id,
		"properties": patch.Properties(),
	})
	if err != nil {
		return core.DataSource{}, core.E(core.KindPersistence, opUpdate, err)
	}
	if len(records) == 0 {
		return core.DataSource{}, core.Errorf(core.KindNotFound, opUpdate, "no data source with id %q", id)
	}

	props, _, err := graph.Value[map[string]any](records[0], "dataSource")
	if err != nil {
		return core.DataSource{}, core.E(core.KindPersistence, opUpdate, err)
	}
	return decodeDataSource(props), nil
}

const deleteCypher = `MATCH (d:DataSource {id: $id})
DETACH DELETE d
RETURN count(*) AS count`

// Delete implements core.Registry.
func (n *Neo4j) Delete(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, core.Errorf(core.KindValidation, opDelete, "id is required")
	}

	records, err := n.runner.Run(ctx, deleteCypher, map[string]any{"id": id})
	if err != nil {
		return 0, core.E(core.KindPersistence, opDelete, err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	count, _, err := graph.Value[int64](records[0], "count")
	if err != nil {
		return 0, core.E(core.KindPersistence, opDelete, err)
	}
	return int(count), nil
}

func decodeCatalog(op string, records []*neo4j.Record) (core.Catalog, error) {
	if len(records) == 0 {
		return core.Catalog{}, nil
	}
	rec := records[0]

	rawHeaders, _, err := graph.Value[[]any](rec, "headers")
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, op, err)
	}
	rawSources, _, err := graph.Value[[]any](rec, "dataSources")
	if err != nil {
		return core.Catalog{}, core.E(core.KindPersistence, op, err)
	}

	var catalog core.Catalog
	for _, h := range rawHeaders {
		catalog.HeaderSchema = append(catalog.HeaderSchema, fmt.Sprint(h))
	}
	for _, raw := range rawSources {
		props, ok := raw.(map[string]any)
		if !ok {
			return core.Catalog{}, core.Errorf(core.KindPersistence, op, "unexpected data source value %T", raw)
		}
		catalog.DataSources = append(catalog.DataSources, decodeDataSource(props))
	}
	return catalog, nil
}

// decodeDataSource maps node properties onto a DataSource. Absent
// properties stay at their zero value.
func decodeDataSource(props map[string]any) core.DataSource {
	str := func(key string) string {
		s, _ := props[key].(string)
		return s
	}
	flag := func(key string) bool {
		b, _ := props[key].(bool)
		return b
	}

	ds := core.DataSource{
		ID:             str("id"),
		Version:        str("version"),
		FileName:       str("fileName"),
		FilePath:       str(core.PropFilePath),
		ImportFilePath: str(core.PropImportFilePath),
		ImportFileURL:  str(core.PropImportFileURL),
		Processed:      flag(core.PropProcessed),
		Imported:       flag(core.PropImported),
		Cleaned:        flag(core.PropCleaned),
	}
	switch v := props[core.PropValidRows].(type) {
	case int64:
		ds.ValidRows = v
	case float64:
		ds.ValidRows = int64(v)
	}
	return ds
}
