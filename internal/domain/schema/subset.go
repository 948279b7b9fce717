package schema

import (
	"sort"
	"strings"
)

// Column is an attribute of a Source inside a Subset.
type Column struct {
	Name        string
	DataType    string
	Description string
}

// Source is a table, view, node label or relationship type with its known attributes.
type Source struct {
	Name        string
	Kind        Kind
	Description string
	Columns     []Column
}

// HasColumn reports whether the source declares a column (case-insensitive).
func (s *Source) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// Subset is the part of the schema visible to prompt assembly and validation.
// Lookups are case-insensitive.
type Subset struct {
	sources map[string]*Source
}

// NewSubset builds a subset from elements. Attributes whose parent is not
// among the elements create a bare parent source.
func NewSubset(elements ...Element) Subset {
	s := Subset{sources: make(map[string]*Source)}
	for _, e := range elements {
		if e.Kind().IsAttribute() {
			continue
		}
		s.addSource(e.QualifiedName(), e.Kind(), e.Description())
	}
	for _, e := range elements {
		if !e.Kind().IsAttribute() || e.Parent() == "" {
			continue
		}
		src := s.addSource(e.Parent(), parentKind(e.Kind()), "")
		if src.HasColumn(e.Name()) {
			continue
		}
		src.Columns = append(src.Columns, Column{
			Name:        e.Name(),
			DataType:    e.DataType(),
			Description: e.Description(),
		})
	}
	for _, src := range s.sources {
		sort.Slice(src.Columns, func(i, j int) bool { return src.Columns[i].Name < src.Columns[j].Name })
	}
	return s
}

func parentKind(k Kind) Kind {
	if k == KindProperty {
		return KindNodeLabel
	}
	return KindTable
}

func (s *Subset) addSource(name string, kind Kind, description string) *Source {
	key := strings.ToLower(name)
	if src, ok := s.sources[key]; ok {
		if src.Description == "" {
			src.Description = description
		}
		return src
	}
	src := &Source{Name: name, Kind: kind, Description: description}
	s.sources[key] = src
	return src
}

// Len returns the number of sources.
func (s Subset) Len() int { return len(s.sources) }

// Source resolves a source by qualified name, falling back to a unique match on
// the last name segment (so "orders" resolves "sales.orders").
func (s Subset) Source(name string) (*Source, bool) {
	key := strings.ToLower(name)
	if src, ok := s.sources[key]; ok {
		return src, true
	}
	var found *Source
	for k, src := range s.sources {
		if i := strings.LastIndexByte(k, '.'); i >= 0 && k[i+1:] == key {
			if found != nil {
				return nil, false
			}
			found = src
		}
	}
	return found, found != nil
}

// HasSource reports whether name resolves to a source.
func (s Subset) HasSource(name string) bool {
	_, ok := s.Source(name)
	return ok
}

// Sources returns all sources sorted by name.
func (s Subset) Sources() []*Source {
	out := make([]*Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Render writes the subset as prompt-ready text, one source per block.
func (s Subset) Render() string {
	var b strings.Builder
	for i, src := range s.Sources() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(src.Kind))
		b.WriteString(" ")
		b.WriteString(src.Name)
		if src.Description != "" {
			b.WriteString(": ")
			b.WriteString(src.Description)
		}
		b.WriteString("\n")
		for _, c := range src.Columns {
			b.WriteString("  - ")
			b.WriteString(c.Name)
			if c.DataType != "" {
				b.WriteString(" (")
				b.WriteString(c.DataType)
				b.WriteString(")")
			}
			if c.Description != "" {
				b.WriteString(": ")
				b.WriteString(c.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
