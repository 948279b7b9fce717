package graphstore

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// normalize turns graph entities into plain maps so results encode as JSON.
func normalize(v any) any {
	switch x := v.(type) {
	case dbtype.Node:
		return map[string]any{
			"labels":     x.Labels,
			"properties": normalizeMap(x.Props),
		}
	case dbtype.Relationship:
		return map[string]any{
			"type":       x.Type,
			"properties": normalizeMap(x.Props),
		}
	case dbtype.Path:
		nodes := make([]any, len(x.Nodes))
		for i, n := range x.Nodes {
			nodes[i] = normalize(n)
		}
		rels := make([]any, len(x.Relationships))
		for i, r := range x.Relationships {
			rels[i] = normalize(r)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		return normalizeMap(x)
	case dbtype.Date:
		return x.String()
	case dbtype.LocalDateTime:
		return x.String()
	case dbtype.LocalTime:
		return x.String()
	case dbtype.Time:
		return x.String()
	case dbtype.Duration:
		return x.String()
	case dbtype.Point2D:
		return x.String()
	case dbtype.Point3D:
		return x.String()
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}
