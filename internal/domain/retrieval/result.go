package retrieval

import (
	"sort"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// Match is a schema element with its similarity to the question.
type Match struct {
	Element schema.Element
	Score   float64
}

// Result is the outcome of retrieving schema for one question.
type Result struct {
	QueryText      string
	Matches        []Match
	ThresholdUsed  float64
	FallbackUsed   bool
	DegradedReason string
}

// Elements returns the matched elements in rank order.
func (r Result) Elements() []schema.Element {
	out := make([]schema.Element, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Element
	}
	return out
}

// Names returns the matched qualified names in rank order.
func (r Result) Names() []string {
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Element.QualifiedName()
	}
	return out
}

// Rank sorts matches by non-increasing score, ties by ascending qualified name,
// and keeps at most k of them (k <= 0 keeps all).
func Rank(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Element.QualifiedName() < matches[j].Element.QualifiedName()
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Sorted reports whether matches respect the ranking order.
func Sorted(matches []Match) bool {
	for i := 1; i < len(matches); i++ {
		prev, cur := matches[i-1], matches[i]
		if cur.Score > prev.Score {
			return false
		}
		if cur.Score == prev.Score && cur.Element.QualifiedName() < prev.Element.QualifiedName() {
			return false
		}
	}
	return true
}
