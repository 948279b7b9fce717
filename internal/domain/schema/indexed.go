package schema

// Indexed is an element as persisted by the schema index, with the content
// hash its embedding was computed from.
type Indexed struct {
	Element Element
	Hash    string
}

// Stale reports whether the stored record must be re-embedded for e.
func (i Indexed) Stale(e Element) bool {
	return i.Hash != e.ContentHash() || !i.Element.HasEmbedding()
}

// Hit is a backend search result: a qualified name and its cosine similarity.
type Hit struct {
	Name  string
	Score float64
}
