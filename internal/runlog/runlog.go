// Package runlog keeps a capped history of finished pipeline passes.
package runlog

import (
	"context"
	"sync"
	"time"
)

// RecordError is one per-record failure of a pass.
type RecordError struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Entry summarises one pass.
type Entry struct {
	RunID      string        `json:"runId"`
	Trigger    string        `json:"trigger"`
	Version    string        `json:"version,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Fetched    bool          `json:"fetched"`
	Cached     bool          `json:"cached"`
	Processed  int           `json:"processed"`
	Imported   int           `json:"imported"`
	Cleaned    int           `json:"cleaned"`
	Complete   bool          `json:"complete"`
	Errors     []RecordError `json:"errors,omitempty"`
}

// Log stores entries newest first.
type Log interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, n int) ([]Entry, error)
}

// DefaultMaxEntries caps a log created with max <= 0.
const DefaultMaxEntries = 100

// Memory is an in-process Log.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

// NewMemory returns a Memory log keeping at most max entries.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Memory{max: max}
}

// Append implements Log.
func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append([]Entry{e}, m.entries...)
	if len(m.entries) > m.max {
		m.entries = m.entries[:m.max]
	}
	return nil
}

// Recent implements Log. n <= 0 returns every entry.
func (m *Memory) Recent(_ context.Context, n int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]Entry, n)
	copy(out, m.entries)
	return out, nil
}
