// Package graph wraps the Neo4j driver behind a small Runner interface so
// the registry and importer can be tested without a database.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Runner executes one parameterized statement in its own managed
// transaction and returns the records eagerly.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)
}

// Options configures a driver connection.
type Options struct {
	URI      string
	User     string
	Password string
	Database string
}

// Client is a Runner backed by a live driver.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// Connect opens a driver and verifies the server is reachable.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity at %s: %w", opts.URI, err)
	}

	slog.Info("neo4j connected", "uri", opts.URI, "database", opts.Database)
	return &Client{driver: driver, database: opts.Database}, nil
}

// Run implements Runner.
func (c *Client) Run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	configurers := []neo4j.ExecuteQueryConfigurationOption{}
	if c.database != "" {
		configurers = append(configurers, neo4j.ExecuteQueryWithDatabase(c.database))
	}

	result, err := neo4j.ExecuteQuery(ctx, c.driver, cypher, params, neo4j.EagerResultTransformer, configurers...)
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// schemaStatements are applied by EnsureSchema. Each is idempotent.
var schemaStatements = []string{
	"CREATE CONSTRAINT data_source_id IF NOT EXISTS FOR (d:DataSource) REQUIRE d.id IS UNIQUE",
	"CREATE CONSTRAINT place_id IF NOT EXISTS FOR (p:Place) REQUIRE p.id IS UNIQUE",
	"CREATE CONSTRAINT os_version_id IF NOT EXISTS FOR (v:OsVersion) REQUIRE v.id IS UNIQUE",
}

// EnsureSchema creates the uniqueness constraints the pipeline relies on for
// upsert-by-key.
func EnsureSchema(ctx context.Context, r Runner) error {
	for _, stmt := range schemaStatements {
		if _, err := r.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Value reads key from record as T. A missing key or null value yields the
// zero value and ok == false.
func Value[T any](record *neo4j.Record, key string) (v T, ok bool, err error) {
	raw, found := record.Get(key)
	if !found || raw == nil {
		return v, false, nil
	}
	v, ok = raw.(T)
	if !ok {
		return v, false, fmt.Errorf("field %q: want %T, got %T", key, v, raw)
	}
	return v, true, nil
}
