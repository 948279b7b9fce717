package synthesis

import "strings"

var queryStarts = []string{"select", "with", "match", "optional", "call", "unwind", "return", "("}

// Clean extracts the query from model output: the first fenced code block if
// any, otherwise the text from the first line that starts a query. Text after
// the first statement terminator and the terminator itself are dropped.
func Clean(raw string) string {
	text := strings.TrimSpace(raw)
	if block, ok := fenced(text); ok {
		text = block
	} else {
		text = skipProse(text)
	}
	if i := terminator(text); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func fenced(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	body := text[start+3:]
	// language tag: ```sql
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], " \t(") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}

func skipProse(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, kw := range queryStarts {
			if strings.HasPrefix(lower, kw) && (kw == "(" || len(lower) == len(kw) || !isWordByte(lower[len(kw)])) {
				return strings.Join(lines[i:], "\n")
			}
		}
	}
	return text
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// terminator returns the offset of the first ';' outside quotes, or -1.
func terminator(text string) int {
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == ';':
			return i
		}
	}
	return -1
}
