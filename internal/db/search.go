package db

// TagFilter restricts a search to documents whose TAG field holds one of Values.
type TagFilter struct {
	Field  string
	Values []string
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // default "vector"
	Tags         []TagFilter
	Vector       []float32
	K            int
	ReturnFields []string
	RawScores    bool // return __vector_score (distance) as-is
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
