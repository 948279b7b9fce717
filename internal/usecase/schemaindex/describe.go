package schemaindex

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// Describe builds a description from the element structure, for stores that
// carry no comments. Sources use it as their Describe fallback.
func Describe(e schema.Element) string {
	if e.Description() != "" {
		return e.Description()
	}
	name := strings.ReplaceAll(e.Name(), "_", " ")
	switch e.Kind() {
	case schema.KindTable:
		return fmt.Sprintf("table of %s", name)
	case schema.KindView:
		return fmt.Sprintf("view of %s", name)
	case schema.KindNodeLabel:
		return fmt.Sprintf("graph nodes labelled %s", e.Name())
	case schema.KindRelationshipType:
		return fmt.Sprintf("graph relationship %s", e.Name())
	case schema.KindColumn, schema.KindProperty:
		what := "column"
		if e.Kind() == schema.KindProperty {
			what = "property"
		}
		if e.DataType() != "" {
			return fmt.Sprintf("%s %s of %s (%s)", what, name, e.Parent(), e.DataType())
		}
		return fmt.Sprintf("%s %s of %s", what, name, e.Parent())
	default:
		return name
	}
}
