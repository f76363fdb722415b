// Package core holds the domain model of the OpenNames import pipeline.
//
// It has no store, network or UI dependencies and is shared by every stage
// and by the HTTP and CLI front ends.
//
// # DataSource lifecycle
//
// Each input file of a dataset version is tracked by a [DataSource] whose
// ID is "{version}/{fileName}". Four independent gates move it through the
// pipeline:
//
//	fetched -> processed -> imported -> cleaned
//
// [DataSource.NeedsProcess], [DataSource.NeedsImport] and
// [DataSource.NeedsClean] implement the per-pass selection rules, and
// [MergeByID] folds stage results back into the working set.
//
// # Registry
//
// [Registry] is the durable catalog. Every mutation goes through
// [Registry.Update] with a [Patch], so the store stays the single source of
// truth and a pass interrupted at any point can simply be re-run.
//
// # Error Handling
//
// Failures carry a [Kind] ([KindUpstream], [KindIntegrity], ...). Use
// errors.Is against the sentinels ([ErrNotFound], ...) or [KindOf].
// [MapError] turns any error into a [UserMessage] with a support code.
//
// # Concurrency
//
// Passes are not safe to run concurrently against one version. [RunLimiter]
// serialises them within a process and [Schedule] re-invokes them
// periodically.
package core
