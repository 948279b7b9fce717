package prompt

import (
	"regexp"
	"strings"
	"text/template"

	"github.com/kailas-cloud/askdb/internal/domain"
)

// Input is everything a template may reference. Every field is always present
// in the template data, empty when not provided.
type Input struct {
	Question          string
	Schema            string
	Documents         []string
	Examples          []string
	AdditionalContext string
	Dialect           string
}

func (in Input) data() map[string]any {
	return map[string]any{
		"Question":          in.Question,
		"Schema":            in.Schema,
		"Documents":         in.Documents,
		"Examples":          in.Examples,
		"AdditionalContext": in.AdditionalContext,
		"Dialect":           in.Dialect,
	}
}

var missingKeyRe = regexp.MustCompile(`map has no entry for key "([^"]+)"`)

// Assemble renders text with in. An empty text selects the dialect default.
// Placeholders without a matching input and malformed templates yield
// *domain.TemplateError.
func Assemble(text string, in Input) (string, error) {
	if text == "" {
		text = Default(in.Dialect)
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", &domain.TemplateError{Err: err}
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, in.data()); err != nil {
		te := &domain.TemplateError{Err: err}
		if m := missingKeyRe.FindStringSubmatch(err.Error()); m != nil {
			te.Placeholder = m[1]
		}
		return "", te
	}
	return b.String(), nil
}

// Truncate keeps the leading whole lines of text whose total length (newlines
// included) fits in limit. limit <= 0 disables truncation.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if b.Len()+len(line) > limit {
			break
		}
		b.WriteString(line)
	}
	return b.String(), true
}
