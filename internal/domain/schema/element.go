package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind is the structural role of a schema element.
type Kind string

const (
	// KindTable is a relational table.
	KindTable Kind = "TABLE"
	// KindView is a relational view.
	KindView Kind = "VIEW"
	// KindColumn is a table or view column.
	KindColumn Kind = "COLUMN"
	// KindNodeLabel is a graph node label.
	KindNodeLabel Kind = "NODE_LABEL"
	// KindRelationshipType is a graph relationship type.
	KindRelationshipType Kind = "RELATIONSHIP_TYPE"
	// KindProperty is a node or relationship property.
	KindProperty Kind = "PROPERTY"
)

// ParseKind converts a string (any case) into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindTable, KindView, KindColumn, KindNodeLabel, KindRelationshipType, KindProperty:
		return k, nil
	default:
		return "", fmt.Errorf("unknown schema element kind %q", s)
	}
}

// IsSource reports whether the kind can appear in a FROM clause or a MATCH pattern.
func (k Kind) IsSource() bool {
	switch k {
	case KindTable, KindView, KindNodeLabel, KindRelationshipType:
		return true
	default:
		return false
	}
}

// IsAttribute reports whether the kind is a column or a property.
func (k Kind) IsAttribute() bool {
	return k == KindColumn || k == KindProperty
}

// SourceKinds lists kinds that are never columns or properties.
func SourceKinds() []Kind {
	return []Kind{KindTable, KindView, KindNodeLabel, KindRelationshipType}
}

// Element is a named structural unit of a database or graph.
// Values are immutable: WithEmbedding returns a copy.
type Element struct {
	kind          Kind
	qualifiedName string
	parent        string
	description   string
	dataType      string
	embedding     []float32
}

// New creates a schema element without an embedding.
// parent is the qualified name of the owning element; empty for top-level elements.
func New(kind Kind, qualifiedName, parent, description string) Element {
	return Element{
		kind:          kind,
		qualifiedName: qualifiedName,
		parent:        parent,
		description:   description,
	}
}

// NewColumn creates a column (or property) element owned by parent.
func NewColumn(kind Kind, parent, name, dataType, description string) Element {
	return Element{
		kind:          kind,
		qualifiedName: parent + "." + name,
		parent:        parent,
		description:   description,
		dataType:      dataType,
	}
}

// Kind returns the element kind.
func (e Element) Kind() Kind { return e.kind }

// QualifiedName returns the unique element name (table, or table.column).
func (e Element) QualifiedName() string { return e.qualifiedName }

// Name returns the last segment of the qualified name.
func (e Element) Name() string {
	if e.parent != "" && strings.HasPrefix(e.qualifiedName, e.parent+".") {
		return e.qualifiedName[len(e.parent)+1:]
	}
	return e.qualifiedName
}

// Parent returns the qualified name of the owning element, if any.
func (e Element) Parent() string { return e.parent }

// Description returns the human-readable description used for embedding.
func (e Element) Description() string { return e.description }

// DataType returns the column or property type, if known.
func (e Element) DataType() string { return e.dataType }

// Embedding returns the element vector, or nil when not yet embedded.
func (e Element) Embedding() []float32 { return e.embedding }

// HasEmbedding reports whether the element carries a vector.
func (e Element) HasEmbedding() bool { return len(e.embedding) > 0 }

// WithDataType returns a copy with the data type set.
func (e Element) WithDataType(dataType string) Element {
	e.dataType = dataType
	return e
}

// WithDescription returns a copy with a new description and no embedding.
func (e Element) WithDescription(description string) Element {
	e.description = description
	e.embedding = nil
	return e
}

// WithEmbedding returns a copy carrying vec.
func (e Element) WithEmbedding(vec []float32) Element {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	e.embedding = cp
	return e
}

// WithoutEmbedding returns a copy with the vector dropped.
func (e Element) WithoutEmbedding() Element {
	e.embedding = nil
	return e
}

// EmbeddingText is the text sent to the embedding provider.
func (e Element) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.kind)))
	b.WriteString(" ")
	b.WriteString(e.qualifiedName)
	if e.dataType != "" {
		b.WriteString(" (")
		b.WriteString(e.dataType)
		b.WriteString(")")
	}
	if e.description != "" {
		b.WriteString(": ")
		b.WriteString(e.description)
	}
	return b.String()
}

// ContentHash identifies the embeddable content of the element.
// A changed hash means the stored embedding is stale.
func (e Element) ContentHash() string {
	h := sha256.New()
	for _, part := range []string{string(e.kind), e.qualifiedName, e.parent, e.dataType, e.description} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
