package validation

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

var cypherReserved = map[string]bool{
	"all": true, "and": true, "as": true, "asc": true, "ascending": true, "by": true,
	"call": true, "case": true, "contains": true, "create": true, "delete": true,
	"desc": true, "descending": true, "detach": true, "distinct": true, "else": true,
	"end": true, "ends": true, "false": true, "in": true, "is": true, "limit": true,
	"match": true, "merge": true, "not": true, "null": true, "optional": true, "or": true,
	"order": true, "remove": true, "return": true, "set": true, "skip": true,
	"starts": true, "then": true, "true": true, "union": true, "unwind": true, "when": true,
	"where": true, "with": true, "xor": true, "yield": true,
}

// Functions whose first argument declares a local variable: any(x IN list WHERE ...).
var cypherQuantifiers = map[string]bool{"all": true, "any": true, "none": true, "single": true}

// binding is what a variable is known to refer to.
type binding struct {
	labels []string // node labels or relationship types
	rel    bool
}

type cypherParser struct {
	tokenStream
	collector
	subset schema.Subset
	check  bool
	vars   map[string]*binding
}

// parseCypher parses one read query. With check set, label, relationship type,
// property and variable references are resolved against subset.
func parseCypher(src string, subset schema.Subset, check bool) ([]validation.Violation, error) {
	toks, err := lex(src, true)
	if err != nil {
		return nil, err
	}
	p := &cypherParser{tokenStream: tokenStream{src: src, toks: toks}, subset: subset, check: check}
	if p.peek().kind == tokEOF {
		return nil, &syntaxError{msg: "empty query"}
	}
	for {
		if err := p.singleQuery(); err != nil {
			return nil, err
		}
		if !p.acceptKw("union") {
			break
		}
		p.acceptKw("all")
	}
	p.acceptOp(";")
	if p.peek().kind != tokEOF {
		return nil, p.errorf("expected end of query")
	}
	return p.violations(), nil
}

func (p *cypherParser) violation(pos int, kind validation.Kind, detail string) {
	if p.check {
		p.add(pos, kind, detail)
	}
}

func (p *cypherParser) atQueryEnd() bool {
	t := p.peek()
	return t.kind == tokEOF || t.isOp(";") || t.is("union")
}

func (p *cypherParser) singleQuery() error {
	p.vars = make(map[string]*binding)
	lastCall := false
	for {
		t := p.peek()
		switch {
		case t.is("match") || t.is("optional"):
			if p.acceptKw("optional") {
				if err := p.expectKw("match"); err != nil {
					return err
				}
			} else {
				p.next()
			}
			if err := p.match(); err != nil {
				return err
			}
			lastCall = false
		case t.is("with"):
			p.next()
			if err := p.projection(true); err != nil {
				return err
			}
			lastCall = false
		case t.is("unwind"):
			p.next()
			if _, err := p.expr(); err != nil {
				return err
			}
			if err := p.expectKw("as"); err != nil {
				return err
			}
			if err := p.declareAlias(nil); err != nil {
				return err
			}
			lastCall = false
		case t.is("call"):
			p.next()
			if err := p.call(); err != nil {
				return err
			}
			lastCall = true
		case t.is("return"):
			p.next()
			if err := p.projection(false); err != nil {
				return err
			}
			if !p.atQueryEnd() {
				return p.errorf("expected end of query after RETURN")
			}
			return nil
		case lastCall && p.atQueryEnd():
			return nil
		default:
			return p.errorf("expected MATCH, WITH, UNWIND, CALL or RETURN")
		}
	}
}

func (p *cypherParser) variableToken() (token, bool) {
	t := p.peek()
	if t.kind == tokQuoted || t.kind == tokIdent && !cypherReserved[strings.ToLower(t.text)] {
		return t, true
	}
	return t, false
}

func (p *cypherParser) declareAlias(b *binding) error {
	t, ok := p.variableToken()
	if !ok {
		return p.errorf("expected variable name")
	}
	p.next()
	if b == nil {
		b = &binding{}
	}
	p.vars[t.text] = b
	return nil
}

func (p *cypherParser) match() error {
	for {
		if err := p.pattern(); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			break
		}
	}
	if p.acceptKw("where") {
		if _, err := p.expr(); err != nil {
			return err
		}
	}
	return nil
}

// pattern parses "[p =] (a)-[r]->(b)...".
func (p *cypherParser) pattern() error {
	if t, ok := p.variableToken(); ok && p.peekAt(1).isOp("=") {
		p.next()
		p.next()
		p.vars[t.text] = &binding{}
	}
	_, err := p.patternPart()
	return err
}

// patternPart parses a node followed by any number of relationship/node pairs
// and returns the number of relationships.
func (p *cypherParser) patternPart() (int, error) {
	if err := p.node(); err != nil {
		return 0, err
	}
	rels := 0
	for p.peek().isOp("-") || p.peek().isOp("<") && p.peekAt(1).isOp("-") {
		if err := p.relationship(); err != nil {
			return rels, err
		}
		if err := p.node(); err != nil {
			return rels, err
		}
		rels++
	}
	return rels, nil
}

func (p *cypherParser) node() error {
	if err := p.expectOp("("); err != nil {
		return err
	}
	var (
		varTok token
		hasVar bool
	)
	if t, ok := p.variableToken(); ok {
		varTok, hasVar = t, true
		p.next()
	}
	var labels []string
	if p.acceptOp(":") {
		for {
			t := p.peek()
			if !t.isName() {
				return p.errorf("expected label")
			}
			p.next()
			labels = append(labels, t.text)
			if !p.subset.HasSource(t.text) {
				p.violation(t.pos, validation.UnknownTable, fmt.Sprintf("unknown label %q", t.text))
			}
			if !p.acceptOp(":") && !p.acceptOp("|") && !p.acceptOp("&") {
				break
			}
		}
	}
	b := p.bind(varTok, hasVar, labels, false)
	if p.peek().isOp("{") {
		if err := p.properties(b); err != nil {
			return err
		}
	} else if p.peek().kind == tokParam {
		p.next()
	}
	return p.expectOp(")")
}

func (p *cypherParser) bind(t token, ok bool, labels []string, rel bool) *binding {
	nb := &binding{labels: labels, rel: rel}
	if !ok {
		return nb
	}
	if b, exists := p.vars[t.text]; exists {
		for _, l := range labels {
			if !containsFold(b.labels, l) {
				b.labels = append(b.labels, l)
			}
		}
		return b
	}
	p.vars[t.text] = nb
	return nb
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func (p *cypherParser) relationship() error {
	left := p.acceptOp("<")
	if err := p.expectOp("-"); err != nil {
		return err
	}
	if p.acceptOp("[") {
		var (
			varTok token
			hasVar bool
		)
		if t, ok := p.variableToken(); ok {
			varTok, hasVar = t, true
			p.next()
		}
		var types []string
		if p.acceptOp(":") {
			for {
				t := p.peek()
				if !t.isName() {
					return p.errorf("expected relationship type")
				}
				p.next()
				types = append(types, t.text)
				if !p.subset.HasSource(t.text) {
					p.violation(t.pos, validation.UnknownTable, fmt.Sprintf("unknown relationship type %q", t.text))
				}
				if !p.acceptOp("|") {
					break
				}
				p.acceptOp(":")
			}
		}
		if p.acceptOp("*") {
			if p.peek().kind == tokNumber {
				p.next()
			}
			if p.acceptOp("..") && p.peek().kind == tokNumber {
				p.next()
			}
		}
		b := p.bind(varTok, hasVar, types, true)
		if p.peek().isOp("{") {
			if err := p.properties(b); err != nil {
				return err
			}
		} else if p.peek().kind == tokParam {
			p.next()
		}
		if err := p.expectOp("]"); err != nil {
			return err
		}
		if err := p.expectOp("-"); err != nil {
			return err
		}
	} else if err := p.expectOp("-"); err != nil {
		return err
	}
	right := p.acceptOp(">")
	if left && right {
		return p.errorf("relationship cannot point both ways")
	}
	return nil
}

// properties parses an inline map and checks its keys against b.
func (p *cypherParser) properties(b *binding) error {
	p.next() // {
	if p.acceptOp("}") {
		return nil
	}
	for {
		key := p.peek()
		if !key.isName() {
			return p.errorf("expected property name")
		}
		p.next()
		p.checkProperty(b, key.text, key.pos)
		if err := p.expectOp(":"); err != nil {
			return err
		}
		if _, err := p.expr(); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			break
		}
	}
	return p.expectOp("}")
}

func (p *cypherParser) checkProperty(b *binding, prop string, pos int) {
	if b == nil || len(b.labels) == 0 {
		return
	}
	for _, l := range b.labels {
		src, ok := p.subset.Source(l)
		if !ok || len(src.Columns) == 0 || src.HasColumn(prop) {
			return
		}
	}
	what := "label"
	if b.rel {
		what = "relationship type"
	}
	p.violation(pos, validation.UnknownColumn,
		fmt.Sprintf("unknown property %q on %s %q", prop, what, strings.Join(b.labels, ":")))
}

func (p *cypherParser) call() error {
	t := p.peek()
	if !t.isName() {
		return p.errorf("expected procedure name")
	}
	p.next()
	for p.peek().isOp(".") && p.peekAt(1).isName() {
		p.next()
		p.next()
	}
	if p.acceptOp("(") {
		if !p.acceptOp(")") {
			for {
				if _, err := p.expr(); err != nil {
					return err
				}
				if !p.acceptOp(",") {
					break
				}
			}
			if err := p.expectOp(")"); err != nil {
				return err
			}
		}
	}
	if p.acceptKw("yield") {
		for {
			t, ok := p.variableToken()
			if !ok {
				return p.errorf("expected yield column")
			}
			p.next()
			if p.acceptKw("as") {
				if err := p.declareAlias(nil); err != nil {
					return err
				}
			} else {
				p.vars[t.text] = &binding{}
			}
			if !p.acceptOp(",") {
				break
			}
		}
		if p.acceptKw("where") {
			if _, err := p.expr(); err != nil {
				return err
			}
		}
	}
	return nil
}

// projection parses the body of WITH or RETURN and rebinds the scope.
func (p *cypherParser) projection(with bool) error {
	p.acceptKw("distinct")
	next := make(map[string]*binding)
	if p.acceptOp("*") {
		for k, v := range p.vars {
			next[k] = v
		}
		if !p.acceptOp(",") {
			return p.projectionTail(with, next)
		}
	}
	for {
		v, err := p.expr()
		if err != nil {
			return err
		}
		switch {
		case p.acceptKw("as"):
			t, ok := p.variableToken()
			if !ok {
				return p.errorf("expected alias after AS")
			}
			p.next()
			next[t.text] = p.rebinding(v)
		case v.variable != "":
			next[v.variable] = p.rebinding(v)
		}
		if !p.acceptOp(",") {
			break
		}
	}
	return p.projectionTail(with, next)
}

func (p *cypherParser) rebinding(v cypherValue) *binding {
	if b, ok := p.vars[v.variable]; ok && v.variable != "" {
		return b
	}
	return &binding{}
}

func (p *cypherParser) projectionTail(with bool, next map[string]*binding) error {
	// ORDER BY sees both the incoming variables and the projected ones.
	merged := make(map[string]*binding, len(p.vars)+len(next))
	for k, v := range p.vars {
		merged[k] = v
	}
	for k, v := range next {
		merged[k] = v
	}
	p.vars = merged

	if p.acceptKw("order") {
		if err := p.expectKw("by"); err != nil {
			return err
		}
		for {
			if _, err := p.expr(); err != nil {
				return err
			}
			p.acceptKw("asc", "ascending", "desc", "descending")
			if !p.acceptOp(",") {
				break
			}
		}
	}
	for _, kw := range []string{"skip", "limit"} {
		if p.acceptKw(kw) {
			if _, err := p.expr(); err != nil {
				return err
			}
		}
	}
	p.vars = next
	if with && p.acceptKw("where") {
		if _, err := p.expr(); err != nil {
			return err
		}
	}
	return nil
}

// cypherValue describes a parsed expression; variable is set when the whole
// expression is a bare variable.
type cypherValue struct {
	variable string
}

func (p *cypherParser) expr() (cypherValue, error) {
	return p.binary(0)
}

var cypherLevels = [][]string{
	{"or"}, {"xor"}, {"and"},
}

// binary handles OR, XOR and AND by level, then NOT and comparisons.
func (p *cypherParser) binary(level int) (cypherValue, error) {
	if level == len(cypherLevels) {
		return p.not()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return left, err
	}
	for p.acceptKw(cypherLevels[level]...) {
		if _, err := p.binary(level + 1); err != nil {
			return cypherValue{}, err
		}
		left = cypherValue{}
	}
	return left, nil
}

func (p *cypherParser) not() (cypherValue, error) {
	if p.acceptKw("not") {
		_, err := p.not()
		return cypherValue{}, err
	}
	return p.comparison()
}

var cypherComparison = map[string]bool{"=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true, "=~": true}

func (p *cypherParser) comparison() (cypherValue, error) {
	left, err := p.additive()
	if err != nil {
		return left, err
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokOp && cypherComparison[t.text]:
			p.next()
		case t.is("in") || t.is("contains"):
			p.next()
		case t.is("starts") || t.is("ends"):
			p.next()
			if err := p.expectKw("with"); err != nil {
				return cypherValue{}, err
			}
		case t.is("is"):
			p.next()
			p.acceptKw("not")
			if err := p.expectKw("null"); err != nil {
				return cypherValue{}, err
			}
			left = cypherValue{}
			continue
		default:
			return left, nil
		}
		if _, err := p.additive(); err != nil {
			return cypherValue{}, err
		}
		left = cypherValue{}
	}
}

func (p *cypherParser) additive() (cypherValue, error) {
	left, err := p.multiplicative()
	if err != nil {
		return left, err
	}
	for p.acceptOp("+") || p.acceptOp("-") {
		if _, err := p.multiplicative(); err != nil {
			return cypherValue{}, err
		}
		left = cypherValue{}
	}
	return left, nil
}

func (p *cypherParser) multiplicative() (cypherValue, error) {
	left, err := p.unary()
	if err != nil {
		return left, err
	}
	for p.acceptOp("*") || p.acceptOp("/") || p.acceptOp("%") || p.acceptOp("^") {
		if _, err := p.unary(); err != nil {
			return cypherValue{}, err
		}
		left = cypherValue{}
	}
	return left, nil
}

func (p *cypherParser) unary() (cypherValue, error) {
	if p.acceptOp("-") || p.acceptOp("+") {
		_, err := p.unary()
		return cypherValue{}, err
	}
	return p.postfix()
}

func (p *cypherParser) postfix() (cypherValue, error) {
	v, err := p.atom()
	if err != nil {
		return v, err
	}
	for {
		switch {
		case p.peek().isOp("."):
			p.next()
			prop := p.peek()
			if !prop.isName() {
				return cypherValue{}, p.errorf("expected property name")
			}
			p.next()
			if v.variable != "" {
				p.checkProperty(p.vars[v.variable], prop.text, prop.pos)
			}
			v = cypherValue{}
		case p.peek().isOp("["):
			p.next()
			if !p.peek().isOp("..") {
				if _, err := p.expr(); err != nil {
					return cypherValue{}, err
				}
			}
			if p.acceptOp("..") && !p.peek().isOp("]") {
				if _, err := p.expr(); err != nil {
					return cypherValue{}, err
				}
			}
			if err := p.expectOp("]"); err != nil {
				return cypherValue{}, err
			}
			v = cypherValue{}
		case p.peek().isOp(":") && p.peekAt(1).isName():
			// label predicate: n:Person
			for p.acceptOp(":") {
				t := p.peek()
				if !t.isName() {
					return cypherValue{}, p.errorf("expected label")
				}
				p.next()
				if !p.subset.HasSource(t.text) {
					p.violation(t.pos, validation.UnknownTable, fmt.Sprintf("unknown label %q", t.text))
				}
			}
			v = cypherValue{}
		default:
			return v, nil
		}
	}
}

func (p *cypherParser) atom() (cypherValue, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber, tokString, tokParam:
		p.next()
		return cypherValue{}, nil
	case tokEOF:
		return cypherValue{}, p.errorf("expected expression")
	case tokOp:
		switch t.text {
		case "(":
			return cypherValue{}, p.parenthesized()
		case "[":
			return cypherValue{}, p.list()
		case "{":
			return cypherValue{}, p.mapLiteral()
		}
		return cypherValue{}, p.errorf("unexpected %q", t.text)
	}

	lower := strings.ToLower(t.text)
	if t.kind == tokIdent {
		switch lower {
		case "true", "false", "null":
			p.next()
			return cypherValue{}, nil
		case "case":
			return cypherValue{}, p.caseExpr()
		case "exists":
			if p.peekAt(1).isOp("{") {
				p.next()
				return cypherValue{}, p.existsSubquery()
			}
		}
	}

	// function call: name(.name)*(...)
	j := 0
	for p.peekAt(j).isName() && p.peekAt(j+1).isOp(".") && p.peekAt(j+2).isName() {
		j += 2
	}
	if p.peekAt(j).isName() && p.peekAt(j+1).isOp("(") {
		fn := strings.ToLower(p.peekAt(j).text)
		for range j + 1 {
			p.next()
		}
		return cypherValue{}, p.callArgs(fn)
	}

	if t.kind == tokIdent && cypherReserved[lower] {
		return cypherValue{}, p.errorf("unexpected keyword %s", strings.ToUpper(t.text))
	}
	p.next()
	if _, ok := p.vars[t.text]; !ok {
		detail := fmt.Sprintf("unresolved variable %q", t.text)
		if p.peek().isOp(".") && p.peekAt(1).isName() {
			detail = fmt.Sprintf("unresolved variable %q in %q", t.text, t.text+"."+p.peekAt(1).text)
		}
		p.violation(t.pos, validation.UnresolvedAlias, detail)
		return cypherValue{}, nil
	}
	return cypherValue{variable: t.text}, nil
}

// parenthesized parses a pattern predicate or a parenthesized expression.
func (p *cypherParser) parenthesized() error {
	mark, found := p.i, len(p.found)
	saved := p.snapshot()
	if rels, err := p.patternPart(); err == nil && rels > 0 {
		p.vars = saved
		return nil
	}
	p.i, p.found, p.vars = mark, p.found[:found], saved

	p.next() // (
	if _, err := p.expr(); err != nil {
		return err
	}
	return p.expectOp(")")
}

func (p *cypherParser) snapshot() map[string]*binding {
	out := make(map[string]*binding, len(p.vars))
	for k, v := range p.vars {
		out[k] = v
	}
	return out
}

func (p *cypherParser) list() error {
	p.next() // [
	if p.acceptOp("]") {
		return nil
	}
	// [x IN list WHERE pred | expr]
	if t, ok := p.variableToken(); ok && p.peekAt(1).is("in") {
		saved := p.snapshot()
		defer func() { p.vars = saved }()
		if err := p.localIteration(t); err != nil {
			return err
		}
		if p.acceptOp("|") {
			if _, err := p.expr(); err != nil {
				return err
			}
		}
		return p.expectOp("]")
	}
	// [(a)-->(b) WHERE pred | expr]
	if p.peek().isOp("(") {
		mark, found := p.i, len(p.found)
		saved := p.snapshot()
		if rels, err := p.patternPart(); err == nil && rels > 0 {
			defer func() { p.vars = saved }()
			if p.acceptKw("where") {
				if _, err := p.expr(); err != nil {
					return err
				}
			}
			if err := p.expectOp("|"); err != nil {
				return err
			}
			if _, err := p.expr(); err != nil {
				return err
			}
			return p.expectOp("]")
		}
		p.i, p.found, p.vars = mark, p.found[:found], saved
	}
	for {
		if _, err := p.expr(); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			break
		}
	}
	return p.expectOp("]")
}

// localIteration parses "x IN list [WHERE pred]" and leaves x declared.
func (p *cypherParser) localIteration(t token) error {
	p.next() // x
	p.next() // IN
	if _, err := p.expr(); err != nil {
		return err
	}
	p.vars[t.text] = &binding{}
	if p.acceptKw("where") {
		if _, err := p.expr(); err != nil {
			return err
		}
	}
	return nil
}

func (p *cypherParser) mapLiteral() error {
	p.next() // {
	if p.acceptOp("}") {
		return nil
	}
	for {
		if !p.peek().isName() {
			return p.errorf("expected map key")
		}
		p.next()
		if err := p.expectOp(":"); err != nil {
			return err
		}
		if _, err := p.expr(); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			break
		}
	}
	return p.expectOp("}")
}

func (p *cypherParser) caseExpr() error {
	p.next()
	if !p.peek().is("when") {
		if _, err := p.expr(); err != nil {
			return err
		}
	}
	if !p.peek().is("when") {
		return p.errorf("expected WHEN")
	}
	for p.acceptKw("when") {
		if _, err := p.expr(); err != nil {
			return err
		}
		if err := p.expectKw("then"); err != nil {
			return err
		}
		if _, err := p.expr(); err != nil {
			return err
		}
	}
	if p.acceptKw("else") {
		if _, err := p.expr(); err != nil {
			return err
		}
	}
	return p.expectKw("end")
}

// existsSubquery parses EXISTS { [MATCH] pattern [WHERE pred] }.
func (p *cypherParser) existsSubquery() error {
	p.next() // {
	saved := p.snapshot()
	defer func() { p.vars = saved }()
	p.acceptKw("match")
	if err := p.match(); err != nil {
		return err
	}
	return p.expectOp("}")
}

func (p *cypherParser) callArgs(fn string) error {
	p.next() // (
	if p.acceptOp(")") {
		return nil
	}
	p.acceptKw("distinct")
	if fn == "count" && p.acceptOp("*") {
		return p.expectOp(")")
	}

	saved := p.snapshot()
	defer func() { p.vars = saved }()
	switch {
	case cypherQuantifiers[fn]:
		if t, ok := p.variableToken(); ok && p.peekAt(1).is("in") {
			if err := p.localIteration(t); err != nil {
				return err
			}
			return p.expectOp(")")
		}
	case fn == "reduce":
		// reduce(acc = init, x IN list | expr)
		if t, ok := p.variableToken(); ok && p.peekAt(1).isOp("=") {
			p.next()
			p.next()
			if _, err := p.expr(); err != nil {
				return err
			}
			p.vars[t.text] = &binding{}
			if err := p.expectOp(","); err != nil {
				return err
			}
			x, ok := p.variableToken()
			if !ok || !p.peekAt(1).is("in") {
				return p.errorf("expected iteration variable")
			}
			if err := p.localIteration(x); err != nil {
				return err
			}
			if err := p.expectOp("|"); err != nil {
				return err
			}
			if _, err := p.expr(); err != nil {
				return err
			}
			return p.expectOp(")")
		}
	}
	for {
		if _, err := p.expr(); err != nil {
			return err
		}
		if !p.acceptOp(",") {
			break
		}
	}
	return p.expectOp(")")
}
