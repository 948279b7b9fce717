package prompt

import "strings"

// Dialects with a default template.
const (
	DialectSQL    = "sql"
	DialectCypher = "cypher"
)

const sqlTemplate = `You translate questions about a relational database into one read-only SQL query.

### Schema
{{.Schema}}
{{- if .Documents}}

### Reference
{{range .Documents}}{{.}}
{{end}}{{end}}
{{- if .Examples}}

### Examples
{{range .Examples}}{{.}}
{{end}}{{end}}
{{- if .AdditionalContext}}

### Notes
{{.AdditionalContext}}
{{- end}}

### Question
{{.Question}}

Use only the tables and columns listed above. Answer with the SQL query only.
`

const cypherTemplate = `You translate questions about a graph database into one read-only Cypher query.

### Graph schema
{{.Schema}}
{{- if .Documents}}

### Reference
{{range .Documents}}{{.}}
{{end}}{{end}}
{{- if .Examples}}

### Examples
{{range .Examples}}{{.}}
{{end}}{{end}}
{{- if .AdditionalContext}}

### Notes
{{.AdditionalContext}}
{{- end}}

### Question
{{.Question}}

Use only the node labels, relationship types and properties listed above. Answer with the Cypher query only.
`

// Default returns the built-in template for dialect (SQL for unknown dialects).
func Default(dialect string) string {
	if strings.EqualFold(dialect, DialectCypher) {
		return cypherTemplate
	}
	return sqlTemplate
}
