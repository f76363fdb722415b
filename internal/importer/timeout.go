package importer

import (
	"context"
	"time"

	"github.com/JonMunkholm/opennames/internal/core"
)

// Loader is implemented by Neo4j and Postgres.
type Loader interface {
	Import(ctx context.Context, ds core.DataSource) (core.DataSource, int64, error)
}

type timeout struct {
	next Loader
	d    time.Duration
}

// WithTimeout bounds each bulk load by d. A non-positive d returns next
// unchanged.
func WithTimeout(next Loader, d time.Duration) Loader {
	if d <= 0 {
		return next
	}
	return timeout{next: next, d: d}
}

func (t timeout) Import(ctx context.Context, ds core.DataSource) (core.DataSource, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Import(ctx, ds)
}
