// Package importer bulk-loads processed place artifacts into the store.
package importer

import (
	"strings"
)

// Assignment is one `p.<Property> = <Expr>` item of the place SET clause.
type Assignment struct {
	Property string
	Expr     string
}

// Statement builds the LOAD CSV import. Callers extend it through the named
// insertion points rather than editing the text.
type Statement struct {
	// PlaceProperties are written in order after MERGE.
	PlaceProperties []Assignment

	// AfterMerge clauses follow the SET, e.g. relationship merges.
	AfterMerge []string

	// BeforeReturn clauses are placed just before RETURN.
	BeforeReturn []string
}

// Rewrite customises the statement before it is rendered.
type Rewrite func(s *Statement)

// DefaultStatement returns the builder for the default place columns.
func DefaultStatement() *Statement {
	return &Statement{
		PlaceProperties: []Assignment{
			{"name", "place.name"},
			{"type", "place.type"},
			{"lat", "toFloat(place.lat)"},
			{"lng", "toFloat(place.lng)"},
			{"location", "point({latitude: toFloat(place.lat), longitude: toFloat(place.lng)})"},
		},
	}
}

// Set replaces the assignment for prop or appends it.
func (s *Statement) Set(prop, expr string) {
	for i := range s.PlaceProperties {
		if s.PlaceProperties[i].Property == prop {
			s.PlaceProperties[i].Expr = expr
			return
		}
	}
	s.PlaceProperties = append(s.PlaceProperties, Assignment{prop, expr})
}

// Cypher renders the statement. $source is the only parameter.
func (s *Statement) Cypher() string {
	var b strings.Builder
	b.WriteString("LOAD CSV WITH HEADERS FROM $source AS place\n")
	b.WriteString("MERGE (p:Place {id: place.id})\n")

	if len(s.PlaceProperties) > 0 {
		sets := make([]string, len(s.PlaceProperties))
		for i, a := range s.PlaceProperties {
			sets[i] = "p." + a.Property + " = " + a.Expr
		}
		b.WriteString("SET ")
		b.WriteString(strings.Join(sets, ",\n    "))
		b.WriteString("\n")
	}
	for _, clause := range s.AfterMerge {
		b.WriteString(clause)
		b.WriteString("\n")
	}
	for _, clause := range s.BeforeReturn {
		b.WriteString(clause)
		b.WriteString("\n")
	}
	b.WriteString("RETURN count(p) AS count")
	return b.String()
}

// Build renders the default statement after applying rewrite.
func Build(rewrite Rewrite) string {
	s := DefaultStatement()
	if rewrite != nil {
		rewrite(s)
	}
	return s.Cypher()
}
