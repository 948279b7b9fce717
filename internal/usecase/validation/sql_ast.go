package validation

// name is a possibly qualified identifier as written in the query.
type name struct {
	parts []string
	text  string
	pos   int
}

func (n name) last() string { return n.parts[len(n.parts)-1] }

func (n name) qualifier() string {
	if len(n.parts) < 2 {
		return ""
	}
	q := n.parts[0]
	for _, p := range n.parts[1 : len(n.parts)-1] {
		q += "." + p
	}
	return q
}

type sqlQuery struct {
	ctes    []*sqlCTE
	terms   []sqlTerm // joined by UNION / INTERSECT / EXCEPT
	orderBy []sqlExpr
	limits  []sqlExpr
}

type sqlCTE struct {
	name    string
	columns []string
	query   *sqlQuery
}

// sqlTerm is either a SELECT core or a parenthesized query.
type sqlTerm struct {
	core  *sqlSelect
	query *sqlQuery
}

type sqlSelect struct {
	distinctOn []sqlExpr
	items      []sqlItem
	from       []sqlFrom
	where      sqlExpr
	groupBy    []sqlExpr
	having     sqlExpr
}

type sqlItem struct {
	expr  sqlExpr
	alias string
	star  bool
	qual  *name // t.* when set
}

type sqlFrom interface{ fromNode() }

type sqlTable struct {
	name    name
	alias   string
	columns []string
}

type sqlDerived struct {
	query   *sqlQuery
	alias   string
	columns []string
}

type sqlFuncSource struct {
	call    sqlExpr
	alias   string
	columns []string
}

type sqlJoin struct {
	left, right sqlFrom
	on          sqlExpr
	using       []name
}

func (*sqlTable) fromNode()      {}
func (*sqlDerived) fromNode()    {}
func (*sqlFuncSource) fromNode() {}
func (*sqlJoin) fromNode()       {}

// sqlExpr is nil for literals and parameters.
type sqlExpr interface{ exprNode() }

type sqlColumn struct {
	name name
}

type sqlSubquery struct {
	query *sqlQuery
}

// sqlNode groups the operands of operators, calls, CASE, CAST and lists.
type sqlNode struct {
	children []sqlExpr
}

func (*sqlColumn) exprNode()   {}
func (*sqlSubquery) exprNode() {}
func (*sqlNode) exprNode()     {}

func group(children ...sqlExpr) sqlExpr {
	var kept []sqlExpr
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &sqlNode{children: kept}
	}
}
