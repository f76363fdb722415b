// Package artifact publishes processed CSV files where the import target
// can read them.
package artifact

import (
	"context"
	"net/url"
	"strings"

	"github.com/JonMunkholm/opennames/internal/core"
)

// Publisher makes a processed artifact reachable by the store.
type Publisher interface {
	// Publish returns the URL the store should load the artifact from, or
	// "" when the store reads the local import directory directly.
	Publish(ctx context.Context, ds core.DataSource, localPath string) (string, error)

	// URL returns a fresh location for an artifact Publish already made
	// available, or "" when the store reads the import directory.
	URL(ctx context.Context, ds core.DataSource) (string, error)

	// Remove withdraws whatever Publish made available for ds.
	Remove(ctx context.Context, ds core.DataSource) error
}

// Local serves artifacts from the import directory. With a BaseURL they are
// exposed through the /imports file server; without one the store is
// expected to share the directory.
type Local struct {
	BaseURL string
}

// Publish implements Publisher.
func (l Local) Publish(ctx context.Context, ds core.DataSource, _ string) (string, error) {
	return l.URL(ctx, ds)
}

// URL implements Publisher.
func (l Local) URL(_ context.Context, ds core.DataSource) (string, error) {
	if l.BaseURL == "" {
		return "", nil
	}
	u, err := url.JoinPath(strings.TrimRight(l.BaseURL, "/"), ds.Version, ds.FileName)
	if err != nil {
		return "", core.E(core.KindValidation, "artifact.publish", err)
	}
	return u, nil
}

// Remove implements Publisher. The file itself is deleted by cleanup.
func (Local) Remove(context.Context, core.DataSource) error { return nil }
