package registry

import (
	"context"
	"time"

	"github.com/JonMunkholm/opennames/internal/core"
)

// timeout bounds each round-trip of the wrapped Registry.
type timeout struct {
	next core.Registry
	d    time.Duration
}

// WithTimeout wraps next so every call gets its own deadline. A
// non-positive d returns next unchanged.
func WithTimeout(next core.Registry, d time.Duration) core.Registry {
	if d <= 0 {
		return next
	}
	return &timeout{next: next, d: d}
}

func (t *timeout) List(ctx context.Context, version string, filter core.ListFilter) (core.Catalog, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.List(ctx, version, filter)
}

func (t *timeout) Register(ctx context.Context, reg core.Registration) (core.Catalog, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Register(ctx, reg)
}

func (t *timeout) Update(ctx context.Context, id string, patch core.Patch) (core.DataSource, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Update(ctx, id, patch)
}

func (t *timeout) Delete(ctx context.Context, id string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Delete(ctx, id)
}
