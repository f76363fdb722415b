// Package profile loads the YAML customisation profile and turns it into
// transform hooks and an import statement rewrite.
//
// Example:
//
//	allowedTypes: [populatedPlace, other]
//	allowedLocalTypes: [Postcode, Hamlet]
//	columns:
//	  - name: county
//	    source: COUNTY_UNITARY
//	    emptyAsNull: true
//	properties:
//	  - name: county
//	clauses:
//	  - MERGE (c:County {name: coalesce(place.county, 'unknown')}) MERGE (p)-[:IN_COUNTY]->(c)
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/importer"
	"github.com/JonMunkholm/opennames/internal/transform"
)

// Column adds one output column copied from a source column.
type Column struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`

	// Default replaces an empty source value unless EmptyAsNull is set.
	Default     string `yaml:"default"`
	EmptyAsNull bool   `yaml:"emptyAsNull"`
}

// Property adds one `p.<name> = ...` assignment to the import statement.
type Property struct {
	Name string `yaml:"name"`

	// Column defaults to Name.
	Column string `yaml:"column"`

	// Type converts the CSV string: string (default), float, integer or boolean.
	Type string `yaml:"type"`
}

// Profile is the parsed customisation file.
type Profile struct {
	AllowedTypes      []string   `yaml:"allowedTypes"`
	AllowedLocalTypes []string   `yaml:"allowedLocalTypes"`
	Columns           []Column   `yaml:"columns"`
	Properties        []Property `yaml:"properties"`
	Clauses           []string   `yaml:"clauses"`
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var converters = map[string]string{
	"":        "%s",
	"string":  "%s",
	"float":   "toFloat(%s)",
	"integer": "toInteger(%s)",
	"boolean": "toBoolean(%s)",
}

// Load reads a profile from path. An empty path yields an empty profile.
func Load(path string) (*Profile, error) {
	if path == "" {
		return &Profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.E(core.KindIO, "profile.load", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile. Unknown keys are rejected.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, core.E(core.KindParse, "profile.parse", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks names and references, collecting every problem.
func (p *Profile) Validate() error {
	var errs []string

	outputs := slices.Clone(transform.DefaultHeaders)
	for i, c := range p.Columns {
		switch {
		case !identifier.MatchString(c.Name):
			errs = append(errs, fmt.Sprintf("columns[%d]: invalid name %q", i, c.Name))
		case slices.Contains(outputs, c.Name):
			errs = append(errs, fmt.Sprintf("columns[%d]: duplicate column %q", i, c.Name))
		default:
			outputs = append(outputs, c.Name)
		}
		if c.Source == "" {
			errs = append(errs, fmt.Sprintf("columns[%d]: source is required", i))
		}
	}

	for i, prop := range p.Properties {
		if !identifier.MatchString(prop.Name) {
			errs = append(errs, fmt.Sprintf("properties[%d]: invalid name %q", i, prop.Name))
		}
		if col := prop.column(); !slices.Contains(outputs, col) {
			errs = append(errs, fmt.Sprintf("properties[%d]: unknown column %q", i, col))
		}
		if _, ok := converters[prop.Type]; !ok {
			errs = append(errs, fmt.Sprintf("properties[%d]: unsupported type %q", i, prop.Type))
		}
	}

	for i, clause := range p.Clauses {
		if strings.TrimSpace(clause) == "" {
			errs = append(errs, fmt.Sprintf("clauses[%d]: empty clause", i))
		}
	}

	if len(errs) > 0 {
		return core.Errorf(core.KindValidation, "profile.validate", "%s", strings.Join(errs, "; "))
	}
	return nil
}

func (prop Property) column() string {
	if prop.Column != "" {
		return prop.Column
	}
	return prop.Name
}

// Hooks returns the transform hooks for the profile. An empty profile yields
// identity hooks.
func (p *Profile) Hooks() core.Hooks {
	var h core.Hooks

	if len(p.AllowedTypes) > 0 || len(p.AllowedLocalTypes) > 0 {
		types, localTypes := p.AllowedTypes, p.AllowedLocalTypes
		h.RowValidate = func(valid bool, src core.Row) bool {
			if len(types) > 0 && !slices.Contains(types, src["TYPE"]) {
				return false
			}
			if len(localTypes) > 0 && !slices.Contains(localTypes, src["LOCAL_TYPE"]) {
				return false
			}
			return true
		}
	}

	if len(p.Columns) > 0 {
		columns := slices.Clone(p.Columns)
		h.HeaderExtend = func(headers []string) []string {
			for _, c := range columns {
				headers = append(headers, c.Name)
			}
			return headers
		}
		h.RowExtend = func(mapped, src core.Row) core.Row {
			for _, c := range columns {
				v := strings.TrimSpace(src[c.Source])
				if v == "" && !c.EmptyAsNull {
					v = c.Default
				}
				mapped[c.Name] = v
			}
			return mapped
		}
	}

	return h
}

// Rewrite returns the import statement rewrite for the profile, or nil when
// the profile adds nothing to the statement.
func (p *Profile) Rewrite() importer.Rewrite {
	if len(p.Properties) == 0 && len(p.Clauses) == 0 {
		return nil
	}
	props := slices.Clone(p.Properties)
	clauses := slices.Clone(p.Clauses)
	return func(s *importer.Statement) {
		for _, prop := range props {
			s.Set(prop.Name, fmt.Sprintf(converters[prop.Type], "place."+prop.column()))
		}
		s.AfterMerge = append(s.AfterMerge, clauses...)
	}
}
