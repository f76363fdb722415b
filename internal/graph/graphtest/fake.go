// Package graphtest provides an in-process graph.Runner for tests.
package graphtest

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Call is one statement received by a Runner.
type Call struct {
	Cypher string
	Params map[string]any
}

// Runner records every statement and answers with Respond.
type Runner struct {
	mu    sync.Mutex
	Calls []Call

	// Respond returns the records for a statement. Nil means no records.
	Respond func(cypher string, params map[string]any) ([]*neo4j.Record, error)
}

// Run implements graph.Runner.
func (r *Runner) Run(_ context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Cypher: cypher, Params: params})
	respond := r.Respond
	r.mu.Unlock()

	if respond == nil {
		return nil, nil
	}
	return respond(cypher, params)
}

// Last returns the most recent call.
func (r *Runner) Last() Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Calls) == 0 {
		return Call{}
	}
	return r.Calls[len(r.Calls)-1]
}

// Record builds a result record from alternating key/value pairs.
func Record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}
