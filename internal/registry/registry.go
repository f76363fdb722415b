// Package registry implements core.Registry over Neo4j, PostgreSQL and
// process memory.
//
// All implementations share the same delivery order: uncleaned records
// come first, then records with unset processed and imported flags, then
// records are ordered by id. A pass that is capped by BatchSize therefore
// always picks up pending work before revisiting finished records. A record
// with no valid rows is finished while still unimported, so cleaned sorts
// ahead of the other flags.
package registry

import (
	"cmp"
	"slices"

	"github.com/JonMunkholm/opennames/internal/core"
)

// Operation names used in classified errors.
const (
	opList     = "registry.list"
	opRegister = "registry.register"
	opUpdate   = "registry.update"
	opDelete   = "registry.delete"
)

func requireVersion(op, version string) error {
	if version == "" {
		return core.Errorf(core.KindValidation, op, "version is required")
	}
	return nil
}

func validateUpdate(id string, patch core.Patch) error {
	if id == "" {
		return core.Errorf(core.KindValidation, opUpdate, "id is required")
	}
	if patch.IsEmpty() {
		return core.Errorf(core.KindValidation, opUpdate, "no fields to update for %q", id)
	}
	return nil
}

// pendingFirst orders uncleaned records first, then unset flags before set
// ones.
func pendingFirst(a, b core.DataSource) int {
	if c := cmpFlag(a.Cleaned, b.Cleaned); c != 0 {
		return c
	}
	if c := cmpFlag(a.Processed, b.Processed); c != 0 {
		return c
	}
	if c := cmpFlag(a.Imported, b.Imported); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func cmpFlag(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// applyFilter restricts, orders and caps sources in place.
func applyFilter(sources []core.DataSource, filter core.ListFilter) []core.DataSource {
	out := core.Select(sources, func(ds core.DataSource) bool {
		return filter.Includes(ds.FileName)
	})
	slices.SortFunc(out, pendingFirst)
	if filter.BatchSize > 0 && len(out) > filter.BatchSize {
		out = out[:filter.BatchSize]
	}
	return out
}
