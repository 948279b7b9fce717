package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kailas-cloud/askdb/internal/db"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/usecase/schemaindex"
)

// ListElements returns node labels and relationship types with their
// properties, capped at Options.MaxLabels of each in name order.
func (s *Store) ListElements(ctx context.Context) ([]schema.Element, error) {
	sess := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = sess.Close(context.WithoutCancel(ctx)) }()

	out, err := neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]schema.Element, error) {
		labels, err := names(ctx, tx, "CALL db.labels() YIELD label RETURN label")
		if err != nil {
			return nil, err
		}
		relTypes, err := names(ctx, tx, "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType")
		if err != nil {
			return nil, err
		}
		nodeProps, err := properties(ctx, tx,
			"CALL db.schema.nodeTypeProperties() YIELD nodeLabels, propertyName, propertyTypes "+
				"UNWIND nodeLabels AS owner RETURN owner, propertyName, propertyTypes")
		if err != nil {
			return nil, err
		}
		relProps, err := properties(ctx, tx,
			"CALL db.schema.relTypeProperties() YIELD relType, propertyName, propertyTypes "+
				"RETURN relType AS owner, propertyName, propertyTypes")
		if err != nil {
			return nil, err
		}

		var elems []schema.Element
		elems = append(elems, s.assemble(schema.KindNodeLabel, labels, nodeProps)...)
		elems = append(elems, s.assemble(schema.KindRelationshipType, relTypes, relProps)...)
		return elems, nil
	})
	if err != nil {
		return nil, &db.Error{Op: OpSchema, Err: err}
	}
	return out, nil
}

// Describe falls back to the element structure; Neo4j carries no comments.
func (s *Store) Describe(e schema.Element) string { return schemaindex.Describe(e) }

type property struct {
	name     string
	dataType string
}

func names(ctx context.Context, tx neo4j.ManagedTransaction, query string) ([]string, error) {
	res, err := tx.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", query, err)
	}
	recs, err := res.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", query, err)
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if v, ok := r.Values[0].(string); ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

func properties(ctx context.Context, tx neo4j.ManagedTransaction, query string) (map[string][]property, error) {
	res, err := tx.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("schema properties: %w", err)
	}
	recs, err := res.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema properties: %w", err)
	}
	out := make(map[string][]property)
	for _, r := range recs {
		owner, _ := r.Values[0].(string)
		name, _ := r.Values[1].(string)
		if owner == "" || name == "" {
			continue
		}
		var types []string
		if raw, ok := r.Values[2].([]any); ok {
			for _, t := range raw {
				if ts, ok := t.(string); ok {
					types = append(types, ts)
				}
			}
		}
		owner = ownerName(owner)
		out[owner] = appendProperty(out[owner], property{name: name, dataType: strings.Join(types, "|")})
	}
	for k := range out {
		sort.Slice(out[k], func(i, j int) bool { return out[k][i].name < out[k][j].name })
	}
	return out, nil
}

func appendProperty(ps []property, p property) []property {
	for _, have := range ps {
		if have.name == p.name {
			return ps
		}
	}
	return append(ps, p)
}

// ownerName strips the ":`TYPE`" decoration relTypeProperties puts on names.
func ownerName(s string) string {
	s = strings.TrimPrefix(s, ":")
	return strings.Trim(s, "`")
}

func (s *Store) assemble(kind schema.Kind, owners []string, props map[string][]property) []schema.Element {
	if len(owners) > s.opts.MaxLabels {
		owners = owners[:s.opts.MaxLabels]
	}
	var out []schema.Element
	for _, o := range owners {
		out = append(out, schema.New(kind, o, "", ""))
		for _, p := range props[o] {
			out = append(out, schema.NewColumn(schema.KindProperty, o, p.name, p.dataType, ""))
		}
	}
	return out
}
