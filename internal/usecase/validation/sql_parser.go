package validation

import "strings"

// Words that cannot be used as implicit aliases or bare column names.
var sqlReserved = map[string]bool{
	"all": true, "and": true, "as": true, "asc": true, "between": true, "by": true,
	"case": true, "cast": true, "cross": true, "desc": true, "distinct": true, "else": true,
	"end": true, "except": true, "exists": true, "false": true, "fetch": true, "for": true,
	"from": true, "full": true, "glob": true, "group": true, "having": true, "ilike": true,
	"in": true, "inner": true, "intersect": true, "is": true, "join": true, "lateral": true,
	"left": true, "like": true, "limit": true, "natural": true, "not": true, "null": true,
	"offset": true, "on": true, "or": true, "order": true, "outer": true, "regexp": true,
	"right": true, "select": true, "then": true, "true": true, "union": true, "using": true,
	"when": true, "where": true, "window": true, "with": true,
}

// Niladic functions written without parentheses.
var sqlNiladic = map[string]bool{
	"current_date": true, "current_time": true, "current_timestamp": true,
	"localtime": true, "localtimestamp": true, "current_user": true, "session_user": true,
}

// Type names that introduce a typed literal: DATE '2024-01-01'.
var sqlTypedLiteral = map[string]bool{
	"date": true, "time": true, "timestamp": true, "interval": true, "timestamptz": true,
}

type sqlParser struct {
	tokenStream
}

// parseSQL parses one read query. A single trailing semicolon is allowed.
func parseSQL(src string) (*sqlQuery, error) {
	toks, err := lex(src, false)
	if err != nil {
		return nil, err
	}
	p := &sqlParser{tokenStream{src: src, toks: toks}}
	if p.peek().kind == tokEOF {
		return nil, &syntaxError{msg: "empty query"}
	}
	if !p.peek().is("select") && !p.peek().is("with") && !p.peek().isOp("(") {
		return nil, p.errorf("expected SELECT or WITH")
	}
	q, err := p.query()
	if err != nil {
		return nil, err
	}
	p.acceptOp(";")
	if p.peek().kind != tokEOF {
		return nil, p.errorf("expected end of statement")
	}
	return q, nil
}

func (p *sqlParser) reserved(t token) bool {
	return t.kind == tokIdent && sqlReserved[strings.ToLower(t.text)]
}

func (p *sqlParser) query() (*sqlQuery, error) {
	q := &sqlQuery{}
	if p.acceptKw("with") {
		p.acceptKw("recursive")
		for {
			cte, err := p.cte()
			if err != nil {
				return nil, err
			}
			q.ctes = append(q.ctes, cte)
			if !p.acceptOp(",") {
				break
			}
		}
	}

	for {
		term, err := p.term()
		if err != nil {
			return nil, err
		}
		q.terms = append(q.terms, term)
		if !p.acceptKw("union", "intersect", "except") {
			break
		}
		p.acceptKw("all", "distinct")
	}

	if p.acceptKw("order") {
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		items, err := p.orderItems()
		if err != nil {
			return nil, err
		}
		q.orderBy = items
	}
	return q, p.limits(q)
}

func (p *sqlParser) limits(q *sqlQuery) error {
	for {
		switch {
		case p.acceptKw("limit"):
			if p.acceptKw("all") {
				continue
			}
			e, err := p.expr()
			if err != nil {
				return err
			}
			q.limits = append(q.limits, e)
			if p.acceptOp(",") {
				if e, err = p.expr(); err != nil {
					return err
				}
				q.limits = append(q.limits, e)
			}
		case p.acceptKw("offset"):
			e, err := p.expr()
			if err != nil {
				return err
			}
			q.limits = append(q.limits, e)
			p.acceptKw("row", "rows")
		case p.acceptKw("fetch"):
			if !p.acceptKw("first", "next") {
				return p.errorf("expected FIRST or NEXT")
			}
			if !p.peek().is("row") && !p.peek().is("rows") {
				e, err := p.expr()
				if err != nil {
					return err
				}
				q.limits = append(q.limits, e)
			}
			if !p.acceptKw("row", "rows") {
				return p.errorf("expected ROW or ROWS")
			}
			if err := p.expectKw("only"); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *sqlParser) cte() (*sqlCTE, error) {
	t := p.peek()
	if !t.isName() || p.reserved(t) {
		return nil, p.errorf("expected common table expression name")
	}
	p.next()
	cte := &sqlCTE{name: t.text}
	if p.peek().isOp("(") {
		cols, err := p.nameList()
		if err != nil {
			return nil, err
		}
		cte.columns = cols
	}
	if err := p.expectKw("as"); err != nil {
		return nil, err
	}
	if p.acceptKw("not") {
		if err := p.expectKw("materialized"); err != nil {
			return nil, err
		}
	} else {
		p.acceptKw("materialized")
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	q, err := p.query()
	if err != nil {
		return nil, err
	}
	cte.query = q
	return cte, p.expectOp(")")
}

// nameList parses "(a, b, c)".
func (p *sqlParser) nameList() ([]string, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var out []string
	for {
		t := p.peek()
		if !t.isName() {
			return nil, p.errorf("expected column name")
		}
		p.next()
		out = append(out, t.text)
		if !p.acceptOp(",") {
			break
		}
	}
	return out, p.expectOp(")")
}

func (p *sqlParser) term() (sqlTerm, error) {
	if p.acceptOp("(") {
		q, err := p.query()
		if err != nil {
			return sqlTerm{}, err
		}
		return sqlTerm{query: q}, p.expectOp(")")
	}
	if !p.peek().is("select") {
		return sqlTerm{}, p.errorf("expected SELECT")
	}
	core, err := p.selectCore()
	return sqlTerm{core: core}, err
}

func (p *sqlParser) selectCore() (*sqlSelect, error) {
	if err := p.expectKw("select"); err != nil {
		return nil, err
	}
	s := &sqlSelect{}
	if p.acceptKw("distinct") {
		if p.acceptKw("on") {
			if err := p.expectOp("("); err != nil {
				return nil, err
			}
			exprs, err := p.exprList()
			if err != nil {
				return nil, err
			}
			s.distinctOn = exprs
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
		}
	} else {
		p.acceptKw("all")
	}

	for {
		item, err := p.selectItem()
		if err != nil {
			return nil, err
		}
		s.items = append(s.items, item)
		if !p.acceptOp(",") {
			break
		}
	}

	if p.acceptKw("from") {
		for {
			f, err := p.fromItem()
			if err != nil {
				return nil, err
			}
			s.from = append(s.from, f)
			if !p.acceptOp(",") {
				break
			}
		}
	}
	if p.acceptKw("where") {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		s.where = e
	}
	if p.acceptKw("group") {
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		exprs, err := p.exprList()
		if err != nil {
			return nil, err
		}
		s.groupBy = exprs
	}
	if p.acceptKw("having") {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		s.having = e
	}
	return s, nil
}

func (p *sqlParser) selectItem() (sqlItem, error) {
	if p.acceptOp("*") {
		return sqlItem{star: true}, nil
	}
	// t.* and schema.t.*
	if p.peek().isName() && !p.reserved(p.peek()) {
		j := 0
		for p.peekAt(j).isName() && p.peekAt(j+1).isOp(".") {
			j += 2
		}
		if j > 0 && p.peekAt(j).isOp("*") {
			n := p.qualifiedName()
			p.next() // .
			p.next() // *
			return sqlItem{star: true, qual: &n}, nil
		}
	}

	e, err := p.expr()
	if err != nil {
		return sqlItem{}, err
	}
	alias, err := p.alias()
	return sqlItem{expr: e, alias: alias}, err
}

// alias parses "[AS] name". Without AS only a non-reserved word is taken.
func (p *sqlParser) alias() (string, error) {
	if p.acceptKw("as") {
		t := p.peek()
		if !t.isName() && t.kind != tokString {
			return "", p.errorf("expected alias after AS")
		}
		p.next()
		return t.text, nil
	}
	if t := p.peek(); t.kind == tokQuoted || t.kind == tokIdent && !p.reserved(t) {
		p.next()
		return t.text, nil
	}
	return "", nil
}

// qualifiedName consumes a.b.c without the trailing ".*".
func (p *sqlParser) qualifiedName() name {
	first := p.next()
	n := name{parts: []string{first.text}, pos: first.pos}
	end := first.end
	for p.peek().isOp(".") && p.peekAt(1).isName() {
		p.next()
		t := p.next()
		n.parts = append(n.parts, t.text)
		end = t.end
	}
	n.text = p.src[first.pos:end]
	return n
}

func (p *sqlParser) fromItem() (sqlFrom, error) {
	left, err := p.tablePrimary()
	if err != nil {
		return nil, err
	}
	for {
		natural := p.acceptKw("natural")
		cross := false
		switch {
		case p.acceptKw("join"):
		case p.acceptKw("inner"):
		case p.acceptKw("left"), p.acceptKw("right"), p.acceptKw("full"):
			p.acceptKw("outer")
		case p.acceptKw("cross"):
			cross = true
		default:
			if natural {
				return nil, p.errorf("expected JOIN after NATURAL")
			}
			return left, nil
		}
		if !p.toks[p.i-1].is("join") {
			if err := p.expectKw("join"); err != nil {
				return nil, err
			}
		}
		right, err := p.tablePrimary()
		if err != nil {
			return nil, err
		}
		j := &sqlJoin{left: left, right: right}
		switch {
		case natural || cross:
		case p.acceptKw("on"):
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			j.on = e
		case p.acceptKw("using"):
			if err := p.expectOp("("); err != nil {
				return nil, err
			}
			for {
				if !p.peek().isName() {
					return nil, p.errorf("expected column name")
				}
				j.using = append(j.using, p.qualifiedName())
				if !p.acceptOp(",") {
					break
				}
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
		}
		left = j
	}
}

func (p *sqlParser) tablePrimary() (sqlFrom, error) {
	lateral := p.acceptKw("lateral")
	if p.acceptOp("(") {
		if p.peek().is("select") || p.peek().is("with") || p.peek().isOp("(") && !lateral {
			q, err := p.query()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			d := &sqlDerived{query: q}
			if d.alias, err = p.alias(); err != nil {
				return nil, err
			}
			if d.alias != "" && p.peek().isOp("(") {
				if d.columns, err = p.nameList(); err != nil {
					return nil, err
				}
			}
			return d, nil
		}
		inner, err := p.fromItem()
		if err != nil {
			return nil, err
		}
		return inner, p.expectOp(")")
	}

	if t := p.peek(); !t.isName() || p.reserved(t) {
		return nil, p.errorf("expected table name")
	}
	n := p.qualifiedName()
	var err error
	if p.peek().isOp("(") {
		call, err := p.callArgs(n)
		if err != nil {
			return nil, err
		}
		fs := &sqlFuncSource{call: call}
		if fs.alias, err = p.alias(); err != nil {
			return nil, err
		}
		if fs.alias != "" && p.peek().isOp("(") {
			if fs.columns, err = p.nameList(); err != nil {
				return nil, err
			}
		}
		return fs, nil
	}
	tbl := &sqlTable{name: n}
	if tbl.alias, err = p.alias(); err != nil {
		return nil, err
	}
	if tbl.alias != "" && p.peek().isOp("(") {
		if tbl.columns, err = p.nameList(); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func (p *sqlParser) orderItems() ([]sqlExpr, error) {
	var out []sqlExpr
	for {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		p.acceptKw("asc", "desc")
		if p.acceptKw("nulls") {
			if !p.acceptKw("first", "last") {
				return nil, p.errorf("expected FIRST or LAST")
			}
		}
		if !p.acceptOp(",") {
			return out, nil
		}
	}
}

func (p *sqlParser) exprList() ([]sqlExpr, error) {
	var out []sqlExpr
	for {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.acceptOp(",") {
			return out, nil
		}
	}
}

func (p *sqlParser) expr() (sqlExpr, error) {
	left, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("or") {
		right, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		left = group(left, right)
	}
	return left, nil
}

func (p *sqlParser) andExpr() (sqlExpr, error) {
	left, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("and") {
		right, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		left = group(left, right)
	}
	return left, nil
}

func (p *sqlParser) notExpr() (sqlExpr, error) {
	if p.acceptKw("not") {
		return p.notExpr()
	}
	return p.predicate()
}

var sqlComparison = map[string]bool{
	"=": true, "==": true, "<>": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"~": true, "@": true, "#": true, "&": true, "->": true, "->>": true,
}

func (p *sqlParser) predicate() (sqlExpr, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.is("is"):
			p.next()
			p.acceptKw("not")
			switch {
			case p.acceptKw("null", "true", "false", "unknown"):
			case p.acceptKw("distinct"):
				if err := p.expectKw("from"); err != nil {
					return nil, err
				}
				right, err := p.additive()
				if err != nil {
					return nil, err
				}
				left = group(left, right)
			default:
				return nil, p.errorf("expected NULL, TRUE, FALSE or DISTINCT FROM after IS")
			}
		case t.is("not") && (p.peekAt(1).is("in") || p.peekAt(1).is("between") || p.peekAt(1).is("like") ||
			p.peekAt(1).is("ilike") || p.peekAt(1).is("glob") || p.peekAt(1).is("regexp")):
			p.next()
		case t.is("in"):
			p.next()
			right, err := p.inList()
			if err != nil {
				return nil, err
			}
			left = group(left, right)
		case t.is("between"):
			p.next()
			lo, err := p.additive()
			if err != nil {
				return nil, err
			}
			if err := p.expectKw("and"); err != nil {
				return nil, err
			}
			hi, err := p.additive()
			if err != nil {
				return nil, err
			}
			left = group(left, lo, hi)
		case t.is("like") || t.is("ilike") || t.is("glob") || t.is("regexp"):
			p.next()
			right, err := p.additive()
			if err != nil {
				return nil, err
			}
			left = group(left, right)
			if p.acceptKw("escape") {
				if _, err := p.additive(); err != nil {
					return nil, err
				}
			}
		case t.kind == tokOp && sqlComparison[t.text]:
			p.next()
			if p.acceptKw("any", "all", "some") {
				if err := p.expectOp("("); err != nil {
					return nil, err
				}
				var right sqlExpr
				if p.peek().is("select") || p.peek().is("with") {
					q, err := p.query()
					if err != nil {
						return nil, err
					}
					right = &sqlSubquery{query: q}
				} else if right, err = p.expr(); err != nil {
					return nil, err
				}
				if err := p.expectOp(")"); err != nil {
					return nil, err
				}
				left = group(left, right)
				continue
			}
			right, err := p.additive()
			if err != nil {
				return nil, err
			}
			left = group(left, right)
		default:
			return left, nil
		}
	}
}

func (p *sqlParser) inList() (sqlExpr, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	if p.peek().is("select") || p.peek().is("with") {
		q, err := p.query()
		if err != nil {
			return nil, err
		}
		return &sqlSubquery{query: q}, p.expectOp(")")
	}
	if p.acceptOp(")") {
		return nil, nil
	}
	items, err := p.exprList()
	if err != nil {
		return nil, err
	}
	return group(items...), p.expectOp(")")
}

func (p *sqlParser) additive() (sqlExpr, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.isOp("+") && !t.isOp("-") && !t.isOp("||") {
			return left, nil
		}
		p.next()
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = group(left, right)
	}
}

func (p *sqlParser) multiplicative() (sqlExpr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.isOp("*") && !t.isOp("/") && !t.isOp("%") && !t.isOp("^") {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = group(left, right)
	}
}

func (p *sqlParser) unary() (sqlExpr, error) {
	if p.acceptOp("-") || p.acceptOp("+") || p.acceptOp("~") {
		return p.unary()
	}
	e, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp("::"):
			if err := p.typeName(); err != nil {
				return nil, err
			}
		case p.acceptOp("["):
			idx, err := p.expr()
			if err != nil {
				return nil, err
			}
			if p.acceptOp(":") {
				hi, err := p.expr()
				if err != nil {
					return nil, err
				}
				idx = group(idx, hi)
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			e = group(e, idx)
		case p.acceptKw("collate"):
			if !p.peek().isName() {
				return nil, p.errorf("expected collation name")
			}
			p.next()
		default:
			return e, nil
		}
	}
}

// typeName consumes a type such as integer, varchar(20), double precision or text[].
func (p *sqlParser) typeName() error {
	if !p.peek().isName() {
		return p.errorf("expected type name")
	}
	p.next()
	for p.peek().is("precision") || p.peek().is("varying") {
		p.next()
	}
	if p.acceptOp("(") {
		for !p.acceptOp(")") {
			if p.peek().kind == tokEOF {
				return p.errorf("expected \")\"")
			}
			p.next()
		}
	}
	for p.peek().isOp("[") && p.peekAt(1).isOp("]") {
		p.next()
		p.next()
	}
	return nil
}

func (p *sqlParser) primary() (sqlExpr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber, tokString, tokParam:
		p.next()
		return nil, nil
	case tokOp:
		if !t.isOp("(") {
			return nil, p.errorf("unexpected %q", t.text)
		}
		p.next()
		if p.peek().is("select") || p.peek().is("with") {
			q, err := p.query()
			if err != nil {
				return nil, err
			}
			return &sqlSubquery{query: q}, p.expectOp(")")
		}
		items, err := p.exprList()
		if err != nil {
			return nil, err
		}
		return group(items...), p.expectOp(")")
	case tokEOF:
		return nil, p.errorf("expected expression")
	}

	lower := strings.ToLower(t.text)
	if t.kind == tokIdent {
		switch {
		case lower == "null" || lower == "true" || lower == "false" || sqlNiladic[lower]:
			p.next()
			return nil, nil
		case lower == "case":
			return p.caseExpr()
		case lower == "cast":
			p.next()
			if err := p.expectOp("("); err != nil {
				return nil, err
			}
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expectKw("as"); err != nil {
				return nil, err
			}
			if err := p.typeName(); err != nil {
				return nil, err
			}
			for p.acceptKw("with", "without") {
				p.acceptKw("time")
				p.acceptKw("zone")
			}
			return e, p.expectOp(")")
		case lower == "exists":
			p.next()
			if err := p.expectOp("("); err != nil {
				return nil, err
			}
			q, err := p.query()
			if err != nil {
				return nil, err
			}
			return &sqlSubquery{query: q}, p.expectOp(")")
		case sqlTypedLiteral[lower] && p.peekAt(1).kind == tokString:
			p.next()
			p.next()
			return nil, nil
		case sqlReserved[lower] && !p.peekAt(1).isOp("("):
			return nil, p.errorf("unexpected keyword %s", strings.ToUpper(t.text))
		}
	}

	n := p.qualifiedName()
	if p.peek().isOp("(") {
		return p.callArgs(n)
	}
	return &sqlColumn{name: n}, nil
}

func (p *sqlParser) caseExpr() (sqlExpr, error) {
	p.next()
	var parts []sqlExpr
	if !p.peek().is("when") {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	if !p.peek().is("when") {
		return nil, p.errorf("expected WHEN")
	}
	for p.acceptKw("when") {
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("then"); err != nil {
			return nil, err
		}
		val, err := p.expr()
		if err != nil {
			return nil, err
		}
		parts = append(parts, cond, val)
	}
	if p.acceptKw("else") {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	return group(parts...), p.expectKw("end")
}

// callArgs parses the argument list of fn, including the keyword forms of
// EXTRACT, SUBSTRING, TRIM, POSITION and OVERLAY, FILTER and OVER.
func (p *sqlParser) callArgs(fn name) (sqlExpr, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var args []sqlExpr
	switch strings.ToLower(fn.last()) {
	case "extract":
		if !p.peek().isName() && p.peek().kind != tokString {
			return nil, p.errorf("expected date part")
		}
		p.next()
		if err := p.expectKw("from"); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	case "substring", "trim", "position", "overlay":
		p.acceptKw("both", "leading", "trailing")
		for !p.peek().isOp(")") {
			e, err := p.additive()
			if err != nil {
				return nil, err
			}
			args = append(args, e)
			if !p.acceptOp(",") && !p.acceptKw("from", "for", "in", "placing") {
				break
			}
		}
	default:
		p.acceptKw("distinct", "all")
		switch {
		case p.acceptOp("*"):
		case p.peek().isOp(")"):
		default:
			list, err := p.exprList()
			if err != nil {
				return nil, err
			}
			args = append(args, list...)
			if p.acceptKw("order") {
				if err := p.expectKw("by"); err != nil {
					return nil, err
				}
				items, err := p.orderItems()
				if err != nil {
					return nil, err
				}
				args = append(args, items...)
			}
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}

	if p.acceptKw("filter") {
		if err := p.expectOp("("); err != nil {
			return nil, err
		}
		if err := p.expectKw("where"); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
	}
	if p.acceptKw("over") {
		w, err := p.window()
		if err != nil {
			return nil, err
		}
		args = append(args, w...)
	}
	return &sqlNode{children: args}, nil
}

func (p *sqlParser) window() ([]sqlExpr, error) {
	if p.peek().isName() {
		p.next() // named window
		return nil, nil
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var out []sqlExpr
	if p.acceptKw("partition") {
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		list, err := p.exprList()
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	if p.acceptKw("order") {
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		items, err := p.orderItems()
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	if p.acceptKw("rows", "range", "groups") {
		// frame clause: BETWEEN x PRECEDING AND y FOLLOWING and friends
		for !p.peek().isOp(")") {
			if p.peek().kind == tokEOF {
				return nil, p.errorf("expected \")\"")
			}
			p.next()
		}
	}
	return out, p.expectOp(")")
}
