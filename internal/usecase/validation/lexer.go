package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuoted // quoted identifier, never a keyword
	tokNumber
	tokString
	tokParam
	tokOp
)

type token struct {
	kind tokenKind
	text string // unquoted text for identifiers and strings
	pos  int    // byte offset of the first character
	end  int    // byte offset after the last character
}

func (t token) is(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (t token) isOp(op string) bool {
	return t.kind == tokOp && t.text == op
}

// isName reports whether the token can name a table, column, label or variable.
func (t token) isName() bool {
	return t.kind == tokIdent || t.kind == tokQuoted
}

// syntaxError is a parse failure. fragment quotes the source from the token
// before the failure point through the failing token.
type syntaxError struct {
	fragment string
	msg      string
}

func (e *syntaxError) Error() string {
	if e.fragment == "" {
		return e.msg
	}
	return fmt.Sprintf("near %q: %s", e.fragment, e.msg)
}

type lexer struct {
	src    string
	i      int
	cypher bool
	toks   []token
}

// lex splits src into tokens. Comments and whitespace are dropped.
func lex(src string, cypher bool) ([]token, error) {
	l := &lexer{src: src, cypher: cypher}
	for {
		if err := l.skipSpace(); err != nil {
			return nil, err
		}
		if l.i >= len(l.src) {
			l.toks = append(l.toks, token{kind: tokEOF, pos: len(l.src), end: len(l.src)})
			return l.toks, nil
		}
		if err := l.next(); err != nil {
			return nil, err
		}
	}
}

func (l *lexer) skipSpace() error {
	for l.i < len(l.src) {
		c := l.src[l.i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			l.i++
		case strings.HasPrefix(l.src[l.i:], "--") && !l.cypher,
			strings.HasPrefix(l.src[l.i:], "//") && l.cypher:
			nl := strings.IndexByte(l.src[l.i:], '\n')
			if nl < 0 {
				l.i = len(l.src)
			} else {
				l.i += nl + 1
			}
		case strings.HasPrefix(l.src[l.i:], "/*"):
			end := strings.Index(l.src[l.i+2:], "*/")
			if end < 0 {
				return l.errorAt(l.i, "unterminated comment")
			}
			l.i += end + 4
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) emit(kind tokenKind, text string, start int) {
	l.toks = append(l.toks, token{kind: kind, text: text, pos: start, end: l.i})
}

// errorAt builds a syntax error quoting the previous token through the rest of
// the offending line.
func (l *lexer) errorAt(start int, msg string) error {
	from := start
	if n := len(l.toks); n > 0 {
		from = l.toks[n-1].pos
	}
	to := len(l.src)
	if nl := strings.IndexByte(l.src[start:], '\n'); nl >= 0 {
		to = start + nl
	}
	return &syntaxError{fragment: strings.TrimSpace(l.src[from:to]), msg: msg}
}

var multiOps = []string{"->>", "==", "<>", "!=", "<=", ">=", "||", "::", "->", "=~", ".."}

func (l *lexer) next() error {
	start := l.i
	c := l.src[l.i]
	r, size := utf8.DecodeRuneInString(l.src[l.i:])

	switch {
	case c == '_' || unicode.IsLetter(r):
		l.i += size
		for l.i < len(l.src) {
			r, size = utf8.DecodeRuneInString(l.src[l.i:])
			if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			l.i += size
		}
		l.emit(tokIdent, l.src[start:l.i], start)
	case c >= '0' && c <= '9' || c == '.' && l.i+1 < len(l.src) && isDigit(l.src[l.i+1]) && !l.afterDot():
		l.lexNumber()
		l.emit(tokNumber, l.src[start:l.i], start)
	case c == '\'':
		return l.lexString('\'', start)
	case c == '"':
		if l.cypher {
			return l.lexString('"', start)
		}
		return l.lexQuoted('"', start)
	case c == '`':
		return l.lexQuoted('`', start)
	case c == '$' || c == '?' || c == ':' && !l.cypher && l.i+1 < len(l.src) && isIdentStart(l.src[l.i+1]) && !l.prevIsOp("::"):
		l.i++
		for l.i < len(l.src) && (isIdentStart(l.src[l.i]) || isDigit(l.src[l.i])) {
			l.i++
		}
		l.emit(tokParam, l.src[start:l.i], start)
	default:
		for _, op := range multiOps {
			if (op == "->" || op == "->>") && l.cypher {
				continue
			}
			if strings.HasPrefix(l.src[l.i:], op) {
				l.i += len(op)
				l.emit(tokOp, op, start)
				return nil
			}
		}
		if strings.ContainsRune("(),.;*+-/%=<>[]{}:|^~&!@#", r) {
			l.i += size
			l.emit(tokOp, string(r), start)
			return nil
		}
		return l.errorAt(start, fmt.Sprintf("unexpected character %q", r))
	}
	return nil
}

func (l *lexer) afterDot() bool {
	n := len(l.toks)
	return n > 0 && l.toks[n-1].end == l.i && (l.toks[n-1].isName() || l.toks[n-1].isOp(")"))
}

func (l *lexer) prevIsOp(op string) bool {
	n := len(l.toks)
	return n > 0 && l.toks[n-1].isOp(op)
}

func (l *lexer) lexNumber() {
	for l.i < len(l.src) && isDigit(l.src[l.i]) {
		l.i++
	}
	// "1..3" is a range in Cypher, not a decimal
	if l.i+1 < len(l.src) && l.src[l.i] == '.' && l.src[l.i+1] != '.' {
		l.i++
		for l.i < len(l.src) && isDigit(l.src[l.i]) {
			l.i++
		}
	}
	if l.i < len(l.src) && (l.src[l.i] == 'e' || l.src[l.i] == 'E') {
		j := l.i + 1
		if j < len(l.src) && (l.src[j] == '+' || l.src[j] == '-') {
			j++
		}
		if j < len(l.src) && isDigit(l.src[j]) {
			l.i = j
			for l.i < len(l.src) && isDigit(l.src[l.i]) {
				l.i++
			}
		}
	}
}

func (l *lexer) lexString(quote byte, start int) error {
	var b strings.Builder
	l.i++
	for l.i < len(l.src) {
		c := l.src[l.i]
		switch {
		case c == '\\' && l.cypher && l.i+1 < len(l.src):
			b.WriteByte(l.src[l.i+1])
			l.i += 2
		case c == quote && l.i+1 < len(l.src) && l.src[l.i+1] == quote:
			b.WriteByte(quote)
			l.i += 2
		case c == quote:
			l.i++
			l.emit(tokString, b.String(), start)
			return nil
		default:
			b.WriteByte(c)
			l.i++
		}
	}
	return l.errorAt(start, "unterminated string literal")
}

func (l *lexer) lexQuoted(quote byte, start int) error {
	var b strings.Builder
	l.i++
	for l.i < len(l.src) {
		c := l.src[l.i]
		if c == quote {
			if l.i+1 < len(l.src) && l.src[l.i+1] == quote {
				b.WriteByte(quote)
				l.i += 2
				continue
			}
			l.i++
			l.emit(tokQuoted, b.String(), start)
			return nil
		}
		b.WriteByte(c)
		l.i++
	}
	return l.errorAt(start, "unterminated quoted identifier")
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// tokenStream is the cursor shared by both parsers.
type tokenStream struct {
	src  string
	toks []token
	i    int
}

func (s *tokenStream) peek() token { return s.toks[s.i] }

func (s *tokenStream) peekAt(n int) token {
	if s.i+n >= len(s.toks) {
		return s.toks[len(s.toks)-1]
	}
	return s.toks[s.i+n]
}

func (s *tokenStream) next() token {
	t := s.toks[s.i]
	if t.kind != tokEOF {
		s.i++
	}
	return t
}

func (s *tokenStream) acceptKw(kws ...string) bool {
	for _, kw := range kws {
		if s.peek().is(kw) {
			s.i++
			return true
		}
	}
	return false
}

func (s *tokenStream) acceptOp(op string) bool {
	if s.peek().isOp(op) {
		s.i++
		return true
	}
	return false
}

func (s *tokenStream) expectKw(kw string) error {
	if !s.acceptKw(kw) {
		return s.errorf("expected %s", kw)
	}
	return nil
}

func (s *tokenStream) expectOp(op string) error {
	if !s.acceptOp(op) {
		return s.errorf("expected %q", op)
	}
	return nil
}

// errorf reports a failure at the current token.
func (s *tokenStream) errorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	cur := s.peek()
	if cur.kind == tokEOF {
		msg = "unexpected end of input, " + msg
		if s.i == 0 {
			return &syntaxError{msg: msg}
		}
		prev := s.toks[s.i-1]
		return &syntaxError{fragment: s.src[prev.pos:prev.end], msg: msg}
	}
	from := cur.pos
	if s.i > 0 {
		from = s.toks[s.i-1].pos
	}
	return &syntaxError{fragment: s.src[from:cur.end], msg: msg}
}
