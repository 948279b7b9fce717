// Package schemafile reads schema elements from a hand-written YAML file,
// for stores whose catalog is unavailable or needs richer descriptions.
package schemafile

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/usecase/schemaindex"
)

// Document is the file layout.
//
//	tables:
//	  - name: customers
//	    description: registered customers
//	    columns:
//	      - {name: id, type: integer}
//	labels:
//	  - name: Person
//	    properties:
//	      - {name: name, type: String}
type Document struct {
	Tables        []Source `yaml:"tables"`
	Views         []Source `yaml:"views"`
	Labels        []Source `yaml:"labels"`
	Relationships []Source `yaml:"relationships"`
}

// Source is one table, view, label or relationship type.
type Source struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Columns     []Attribute `yaml:"columns"`
	Properties  []Attribute `yaml:"properties"`
}

// Attribute is a column or property.
type Attribute struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// FileSource serves a parsed document.
type FileSource struct {
	elements []schema.Element
}

// Load reads and parses path.
func Load(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds a source from YAML bytes. Names must be unique per kind.
func Parse(data []byte) (*FileSource, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}

	var out []schema.Element
	seen := make(map[string]bool)
	groups := []struct {
		key   string
		kind  schema.Kind
		attr  schema.Kind
		items []Source
	}{
		{"tables", schema.KindTable, schema.KindColumn, doc.Tables},
		{"views", schema.KindView, schema.KindColumn, doc.Views},
		{"labels", schema.KindNodeLabel, schema.KindProperty, doc.Labels},
		{"relationships", schema.KindRelationshipType, schema.KindProperty, doc.Relationships},
	}
	for _, g := range groups {
		for i, src := range g.items {
			if src.Name == "" {
				return nil, fmt.Errorf("schema file: %s[%d].name is required", g.key, i)
			}
			if seen[src.Name] {
				return nil, fmt.Errorf("schema file: %s[%d].name %q is duplicated", g.key, i, src.Name)
			}
			seen[src.Name] = true
			out = append(out, schema.New(g.kind, src.Name, "", src.Description))

			attrs := append(append([]Attribute(nil), src.Columns...), src.Properties...)
			for j, a := range attrs {
				if a.Name == "" {
					return nil, fmt.Errorf("schema file: %s[%d] attribute %d has no name", g.key, i, j)
				}
				out = append(out, schema.NewColumn(g.attr, src.Name, a.Name, a.Type, a.Description))
			}
		}
	}
	return &FileSource{elements: out}, nil
}

// ListElements returns the elements in file order.
func (f *FileSource) ListElements(context.Context) ([]schema.Element, error) {
	out := make([]schema.Element, len(f.elements))
	copy(out, f.elements)
	return out, nil
}

// Describe returns the written description or a structural one.
func (f *FileSource) Describe(e schema.Element) string { return schemaindex.Describe(e) }
