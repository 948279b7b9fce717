package execution

import (
	"strings"
	"unicode"
)

var sqlWrites = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT", "CREATE", "DROP", "ALTER",
	"TRUNCATE", "GRANT", "REVOKE", "RENAME", "REPLACE",
}

// disallowed lists statement keywords refused under read-only, per driver.
var disallowed = map[string][]string{
	"sqlite":   append([]string{"ATTACH", "DETACH", "VACUUM", "PRAGMA", "REINDEX"}, sqlWrites...),
	"postgres": append([]string{"VACUUM", "REINDEX", "CLUSTER", "COMMENT", "COPY", "LOCK", "CALL", "DO", "REFRESH", "ANALYZE"}, sqlWrites...),
	"neo4j":    {"CREATE", "DELETE", "DETACH", "SET", "REMOVE", "MERGE", "DROP", "FOREACH"},
}

// forbiddenKeyword returns the first disallowed keyword of query, or "".
// Words inside literals, quoted names and comments, property accesses
// (n.set), map keys and function calls (replace(...)) do not count. In SQL
// only words that open a statement or a parenthesized body are checked, so
// columns named like keywords (comment, lock) stay usable.
func forbiddenKeyword(driver, query string) string {
	words := statementWords(query, driver == "neo4j")
	deny := disallowed[driver]
	if deny == nil {
		deny = sqlWrites
	}
	for i, w := range words {
		if w.dotted || w.call || w.key || (driver != "neo4j" && !w.leading) {
			continue
		}
		upper := strings.ToUpper(w.text)
		for _, kw := range deny {
			if upper == kw {
				return kw
			}
		}
		if driver != "neo4j" {
			continue
		}
		if upper == "LOAD" && i+1 < len(words) && strings.EqualFold(words[i+1].text, "CSV") {
			return "LOAD CSV"
		}
		if upper == "CALL" && i+1 < len(words) && strings.EqualFold(words[i+1].text, "dbms") {
			return "CALL dbms"
		}
	}
	return ""
}

type word struct {
	text    string
	dotted  bool // preceded by '.' or ':' (property, label, cast)
	leading bool // opens a statement: see statementWords
	call    bool // followed by '('
	key     bool // followed by ':'
}

// explainOptions are the words allowed between EXPLAIN and its statement.
var explainOptions = map[string]bool{"ANALYZE": true, "VERBOSE": true, "QUERY": true, "PLAN": true}

type paren struct {
	body    bool // CTE body: the word after it opens the main statement
	options bool // EXPLAIN (...) option list
}

// statementWords splits q into words. A word is leading when it starts the
// query, follows ';', opens a parenthesized statement, follows a closed CTE
// body (WITH x AS (...) DELETE) or is the statement after EXPLAIN and its
// options.
func statementWords(q string, cypher bool) []word {
	var (
		out     []word
		prev    byte
		parens  []paren
		with    bool   // statement opened with WITH
		explain bool   // EXPLAIN seen, its statement not reached yet
		reopen  bool   // last token closed a CTE body
		last    string // previous word, upper-cased
	)
	for i := 0; i < len(q); {
		c := q[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(q, i, cypher)
			prev, reopen = c, false
		case c == '-' && i+1 < len(q) && q[i+1] == '-' && !cypher,
			c == '/' && i+1 < len(q) && q[i+1] == '/' && cypher:
			for i < len(q) && q[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(q) && q[i+1] == '*':
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				return out
			}
			i += end + 4
		case isWordStart(rune(c)):
			start := i
			for i < len(q) && isWordPart(rune(q[i])) {
				i++
			}
			w := word{text: q[start:i], dotted: prev == '.' || prev == ':'}
			j := i
			for j < len(q) && (q[j] == ' ' || q[j] == '\t' || q[j] == '\n' || q[j] == '\r') {
				j++
			}
			upper := strings.ToUpper(w.text)
			inOptions := len(parens) > 0 && parens[len(parens)-1].options
			// "(comment)" is a column, "(DELETE FROM t ...)" a statement
			w.leading = prev == 0 || prev == ';' || reopen ||
				prev == '(' && j < len(q) && isWordStart(rune(q[j])) && !inOptions
			if explain && !cypher && !inOptions {
				w.leading = !explainOptions[upper]
				explain = explainOptions[upper]
			}
			if w.leading && !cypher {
				switch upper {
				case "WITH":
					with = true
				case "EXPLAIN":
					explain = true
				}
			}
			w.call = j < len(q) && q[j] == '('
			w.key = j < len(q) && q[j] == ':' && (j+1 >= len(q) || q[j+1] != ':')
			out = append(out, w)
			prev, reopen, last = 'a', false, upper
		default:
			if !unicode.IsSpace(rune(c)) {
				reopen = false
				switch c {
				case '(':
					parens = append(parens, paren{
						body:    with && len(parens) == 0 && (last == "AS" || last == "MATERIALIZED"),
						options: explain && last == "EXPLAIN",
					})
				case ')':
					if n := len(parens); n > 0 {
						reopen = parens[n-1].body && !cypher
						parens = parens[:n-1]
					}
				case ';':
					parens, with, explain = nil, false, false
				}
				prev = c
				last = ""
			}
			i++
		}
	}
	return out
}

func skipQuoted(q string, i int, cypher bool) int {
	quote := q[i]
	i++
	for i < len(q) {
		switch {
		case cypher && q[i] == '\\':
			i += 2
		case q[i] == quote && i+1 < len(q) && q[i+1] == quote:
			i += 2
		case q[i] == quote:
			return i + 1
		default:
			i++
		}
	}
	return i
}

func isWordStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isWordPart(r rune) bool  { return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r) }
