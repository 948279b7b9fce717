package retrieval

import (
	"strings"
	"unicode"

	"github.com/kailas-cloud/askdb/internal/domain/retrieval"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "count": true, "did": true, "do": true, "does": true, "each": true,
	"for": true, "from": true, "get": true, "give": true, "has": true, "have": true,
	"how": true, "i": true, "in": true, "is": true, "it": true, "list": true, "many": true,
	"me": true, "much": true, "of": true, "on": true, "or": true, "per": true, "show": true,
	"that": true, "the": true, "their": true, "there": true, "to": true, "was": true,
	"were": true, "what": true, "when": true, "where": true, "which": true, "who": true,
	"with": true, "all": true, "find": true,
}

// tokenize lowercases text and splits it on everything that is not a letter
// or digit (so "order_items.unit_price" yields order, item, unit, price).
func tokenize(text string, keepStopWords bool) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !keepStopWords && stopWords[f] {
			continue
		}
		out[singular(f)] = true
	}
	return out
}

// singular folds common English plurals: categories -> category, customers -> customer.
func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	default:
		return w
	}
}

// keywordMatches scores every element by the share of question tokens found in
// its qualified name or description. Elements without overlap are dropped.
// Stop words are ignored unless nothing matches without them.
func keywordMatches(question string, pool []schema.Element, k int) []retrieval.Match {
	if m := scoreOverlap(question, pool, k, false); len(m) > 0 {
		return m
	}
	return scoreOverlap(question, pool, k, true)
}

func scoreOverlap(question string, pool []schema.Element, k int, keepStopWords bool) []retrieval.Match {
	q := tokenize(question, keepStopWords)
	if len(q) == 0 {
		return nil
	}

	var matches []retrieval.Match
	for _, e := range pool {
		tokens := tokenize(e.QualifiedName()+" "+e.Description(), keepStopWords)
		hit := 0
		for t := range q {
			if tokens[t] {
				hit++
			}
		}
		if hit == 0 {
			continue
		}
		matches = append(matches, retrieval.Match{Element: e, Score: float64(hit) / float64(len(q))})
	}
	return retrieval.Rank(matches, k)
}
