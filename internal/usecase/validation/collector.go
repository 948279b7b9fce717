package validation

import (
	"sort"

	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

type positioned struct {
	pos int
	v   validation.Violation
}

// collector accumulates violations and returns them in source order without duplicates.
type collector struct {
	found []positioned
}

func (c *collector) add(pos int, kind validation.Kind, detail string) {
	c.found = append(c.found, positioned{pos: pos, v: validation.Violation{Kind: kind, Detail: detail}})
}

func (c *collector) violations() []validation.Violation {
	sort.SliceStable(c.found, func(i, j int) bool { return c.found[i].pos < c.found[j].pos })
	seen := make(map[validation.Violation]bool, len(c.found))
	var out []validation.Violation
	for _, f := range c.found {
		if seen[f.v] {
			continue
		}
		seen[f.v] = true
		out = append(out, f.v)
	}
	return out
}
