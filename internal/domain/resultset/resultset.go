package resultset

// Row is one record keyed by column name.
type Row map[string]any

// ResultSet is a store-independent query result.
type ResultSet struct {
	Columns   []string `json:"columns"`
	Rows      []Row    `json:"rows"`
	Truncated bool     `json:"truncated"`
}

// Len returns the number of rows.
func (r ResultSet) Len() int { return len(r.Rows) }

// Values returns the row values in column order.
func (r ResultSet) Values(i int) []any {
	row := r.Rows[i]
	out := make([]any, len(r.Columns))
	for j, c := range r.Columns {
		out[j] = row[c]
	}
	return out
}

// RunOptions bound a single store round trip.
type RunOptions struct {
	MaxRows  int  // 0 means unlimited
	ReadOnly bool // run inside a read-only transaction or session where supported
}
