package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

// Review points a semantic check asks the model about.
const (
	PointSchema    = "schema_alignment"
	PointIntent    = "intent_alignment"
	PointSafety    = "security_check"
	PointAmbiguity = "ambiguity_check"
)

const unparsedDetail = "review response is not a JSON object"

var reviewTemplate = template.Must(template.New("review").Parse(
	`You are a database expert. Decide whether the {{.Dialect}} query below correctly and safely answers the question.

Question: {{.Question}}

Query:
{{.Query}}
{{if .Schema}}
Schema:
{{.Schema}}
{{end}}
Check that:
- every referenced table, label, column and property exists in the schema ({{.Points.Schema}})
- the query answers the question ({{.Points.Intent}})
- the query does not modify data or leak unrelated data ({{.Points.Safety}})
- the query is unambiguous ({{.Points.Ambiguity}})

Reply with one JSON object and nothing else:
{"is_valid": true|false, "confidence": 0.0-1.0, "feedback": "one sentence",
 "details": {"<check>": {"valid": true|false, "issues": ["..."]}}}
`))

// Reviewer asks a language model whether a candidate query answers the
// question. It complements the structural Validator and never parses the query.
type Reviewer struct {
	llm       domain.Completer
	dialect   string
	threshold float64
}

// NewReviewer returns a reviewer accepting verdicts at or above threshold confidence.
func NewReviewer(llm domain.Completer, dialect string, threshold float64) *Reviewer {
	if dialect == "" {
		dialect = DialectSQL
	}
	return &Reviewer{llm: llm, dialect: dialect, threshold: threshold}
}

type reviewReply struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"`
	Feedback   string  `json:"feedback"`
	Details    map[string]struct {
		Valid  bool     `json:"valid"`
		Issues []string `json:"issues"`
	} `json:"details"`
}

// Review returns the model's verdict on query. Model errors are returned as
// is; an unreadable reply is an invalid verdict.
func (r *Reviewer) Review(
	ctx context.Context, question, query, schemaText string, opts domain.CompletionOptions,
) (validation.Verdict, error) {
	var b strings.Builder
	err := reviewTemplate.Execute(&b, map[string]any{
		"Dialect":  strings.ToUpper(r.dialect),
		"Question": question,
		"Query":    query,
		"Schema":   strings.TrimSpace(schemaText),
		"Points": map[string]string{
			"Schema": PointSchema, "Intent": PointIntent, "Safety": PointSafety, "Ambiguity": PointAmbiguity,
		},
	})
	if err != nil {
		return validation.Verdict{}, fmt.Errorf("render review prompt: %w", err)
	}

	out, err := r.llm.Complete(ctx, b.String(), opts)
	if err != nil {
		return validation.Verdict{}, fmt.Errorf("review: %w", err)
	}
	reply, ok := parseReview(out.Text)
	if !ok {
		return validation.Reject(validation.ModeSemantic,
			validation.Violation{Kind: validation.SemanticMismatch, Detail: unparsedDetail}), nil
	}
	if reply.IsValid && reply.Confidence >= r.threshold {
		return validation.Accept(validation.ModeSemantic), nil
	}
	return validation.Reject(validation.ModeSemantic, r.violations(reply)...), nil
}

// violations lists the issues of every failed check in check order, or one
// summary violation when the model named none.
func (r *Reviewer) violations(reply reviewReply) []validation.Violation {
	points := make([]string, 0, len(reply.Details))
	for p := range reply.Details {
		points = append(points, p)
	}
	sort.Strings(points)

	var out []validation.Violation
	for _, p := range points {
		d := reply.Details[p]
		if d.Valid {
			continue
		}
		for _, issue := range d.Issues {
			out = append(out, validation.Violation{Kind: validation.SemanticMismatch, Detail: p + ": " + issue})
		}
	}
	if len(out) > 0 {
		return out
	}
	detail := reply.Feedback
	if reply.IsValid {
		detail = fmt.Sprintf("confidence %.2f is below %.2f", reply.Confidence, r.threshold)
	} else if detail == "" {
		detail = "query does not answer the question"
	}
	return []validation.Violation{{Kind: validation.SemanticMismatch, Detail: detail}}
}

// parseReview reads the outermost JSON object in text.
func parseReview(text string) (reviewReply, bool) {
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return reviewReply{}, false
	}
	var reply reviewReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return reviewReply{}, false
	}
	return reply, true
}
