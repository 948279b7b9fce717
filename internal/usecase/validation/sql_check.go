package validation

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

// sqlSource is one entry of a FROM clause as the query refers to it.
type sqlSource struct {
	name    string   // alias, or the table name when there is no alias
	table   string   // base table name when referenced without alias
	label   string   // name used in messages
	columns []string // nil when the columns are not known
}

func (s *sqlSource) has(column string) bool {
	for _, c := range s.columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

type sqlScope struct {
	parent  *sqlScope
	sources []*sqlSource
	ctes    map[string]*sqlSource
}

func (s *sqlScope) cte(name string) *sqlSource {
	for sc := s; sc != nil; sc = sc.parent {
		if c, ok := sc.ctes[strings.ToLower(name)]; ok {
			return c
		}
	}
	return nil
}

func (s *sqlScope) resolve(qualifier string) *sqlSource {
	for sc := s; sc != nil; sc = sc.parent {
		for _, src := range sc.sources {
			if strings.EqualFold(src.name, qualifier) {
				return src
			}
			if src.table != "" && strings.EqualFold(lastSegment(src.table), qualifier) {
				return src
			}
		}
	}
	return nil
}

func lastSegment(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

type sqlChecker struct {
	collector
	subset schema.Subset
}

func checkSQL(q *sqlQuery, subset schema.Subset) []validation.Violation {
	c := &sqlChecker{subset: subset}
	c.query(q, nil)
	return c.violations()
}

// query checks q and returns its output column names, nil when unknown.
func (c *sqlChecker) query(q *sqlQuery, outer *sqlScope) []string {
	scope := &sqlScope{parent: outer}
	if len(q.ctes) > 0 {
		scope.ctes = make(map[string]*sqlSource, len(q.ctes))
	}
	for _, cte := range q.ctes {
		src := &sqlSource{name: cte.name, label: cte.name, columns: cte.columns}
		scope.ctes[strings.ToLower(cte.name)] = src // visible to itself for WITH RECURSIVE
		cols := c.query(cte.query, scope)
		if cte.columns == nil {
			src.columns = cols
		}
	}

	var (
		outputs    []string
		orderScope = scope
		aliases    map[string]bool
	)
	for i, term := range q.terms {
		var cols []string
		if term.core != nil {
			var coreScope *sqlScope
			var coreAliases map[string]bool
			cols, coreScope, coreAliases = c.selectCore(term.core, scope)
			if i == 0 {
				orderScope, aliases = coreScope, coreAliases
			}
		} else {
			cols = c.query(term.query, scope)
		}
		if i == 0 {
			outputs = cols
		}
	}
	if len(q.terms) > 1 {
		aliases = make(map[string]bool, len(outputs))
		for _, o := range outputs {
			aliases[strings.ToLower(o)] = true
		}
	}

	for _, e := range q.orderBy {
		c.expr(e, orderScope, aliases)
	}
	for _, e := range q.limits {
		c.expr(e, scope, nil)
	}
	return outputs
}

func (c *sqlChecker) selectCore(s *sqlSelect, parent *sqlScope) ([]string, *sqlScope, map[string]bool) {
	scope := &sqlScope{parent: parent}
	var joins []sqlExpr
	for _, f := range s.from {
		c.from(f, scope, &joins)
	}
	for _, on := range joins {
		c.expr(on, scope, nil)
	}

	aliases := make(map[string]bool)
	for _, item := range s.items {
		if item.alias != "" {
			aliases[strings.ToLower(item.alias)] = true
		}
	}

	for _, e := range s.distinctOn {
		c.expr(e, scope, nil)
	}
	for _, item := range s.items {
		switch {
		case item.qual != nil:
			if scope.resolve(strings.Join(item.qual.parts, ".")) == nil {
				c.add(item.qual.pos, validation.UnresolvedAlias,
					fmt.Sprintf("unresolved alias %q in %q", item.qual.text, item.qual.text+".*"))
			}
		case item.star:
		default:
			c.expr(item.expr, scope, nil)
		}
	}
	c.expr(s.where, scope, nil)
	for _, e := range s.groupBy {
		c.expr(e, scope, aliases)
	}
	c.expr(s.having, scope, aliases)

	outputs := make([]string, 0, len(s.items))
	for _, item := range s.items {
		switch {
		case item.alias != "":
			outputs = append(outputs, item.alias)
		case item.star:
			return nil, scope, aliases
		default:
			col, ok := item.expr.(*sqlColumn)
			if !ok {
				return nil, scope, aliases
			}
			outputs = append(outputs, col.name.last())
		}
	}
	return outputs, scope, aliases
}

func (c *sqlChecker) from(f sqlFrom, scope *sqlScope, joins *[]sqlExpr) {
	switch f := f.(type) {
	case *sqlTable:
		c.table(f, scope)
	case *sqlDerived:
		cols := c.query(f.query, scope)
		if f.columns != nil {
			cols = f.columns
		}
		scope.sources = append(scope.sources, &sqlSource{name: f.alias, label: f.alias, columns: cols})
	case *sqlFuncSource:
		c.expr(f.call, scope, nil)
		scope.sources = append(scope.sources, &sqlSource{name: f.alias, label: f.alias, columns: f.columns})
	case *sqlJoin:
		c.from(f.left, scope, joins)
		c.from(f.right, scope, joins)
		if f.on != nil {
			*joins = append(*joins, f.on)
		}
	}
}

func (c *sqlChecker) table(t *sqlTable, scope *sqlScope) {
	full := strings.Join(t.name.parts, ".")
	src := &sqlSource{name: full, table: full, label: full}
	if t.alias != "" {
		src.name, src.table = t.alias, ""
	}

	switch cte := scope.cte(full); {
	case len(t.name.parts) == 1 && cte != nil:
		src.columns = cte.columns
	default:
		known, ok := c.subset.Source(full)
		if !ok {
			c.add(t.name.pos, validation.UnknownTable, fmt.Sprintf("unknown table %q", t.name.text))
			break
		}
		src.label = known.Name
		for _, col := range known.Columns {
			src.columns = append(src.columns, col.Name)
		}
	}
	if t.columns != nil {
		src.columns = t.columns
	}
	scope.sources = append(scope.sources, src)
}

func (c *sqlChecker) expr(e sqlExpr, scope *sqlScope, aliases map[string]bool) {
	switch e := e.(type) {
	case nil:
	case *sqlColumn:
		c.column(e.name, scope, aliases)
	case *sqlSubquery:
		c.query(e.query, scope)
	case *sqlNode:
		for _, child := range e.children {
			c.expr(child, scope, aliases)
		}
	}
}

func (c *sqlChecker) column(n name, scope *sqlScope, aliases map[string]bool) {
	col := n.last()
	if len(n.parts) > 1 {
		qualifier := strings.Join(n.parts[:len(n.parts)-1], ".")
		src := scope.resolve(qualifier)
		switch {
		case src == nil:
			c.add(n.pos, validation.UnresolvedAlias,
				fmt.Sprintf("unresolved alias %q in %q", n.qualifier(), n.text))
		case src.columns != nil && !src.has(col):
			c.add(n.pos, validation.UnknownColumn, fmt.Sprintf("unknown column %q in table %q", col, src.label))
		}
		return
	}

	if aliases[strings.ToLower(col)] {
		return
	}
	for sc := scope; sc != nil; sc = sc.parent {
		for _, src := range sc.sources {
			if src.columns == nil || src.has(col) {
				return
			}
		}
	}
	if scope != nil && len(scope.sources) == 1 && scope.sources[0].label != "" {
		c.add(n.pos, validation.UnknownColumn,
			fmt.Sprintf("unknown column %q in table %q", col, scope.sources[0].label))
		return
	}
	c.add(n.pos, validation.UnknownColumn, fmt.Sprintf("unknown column %q", col))
}
