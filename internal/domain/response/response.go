package response

import (
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

// Response is the answer produced for one question.
type Response struct {
	RunID           string          `json:"run_id,omitempty"`
	Pipeline        string          `json:"pipeline,omitempty"`
	Question        string          `json:"question,omitempty"`
	Query           string          `json:"query"`
	Columns         []string        `json:"columns,omitempty"`
	Results         []resultset.Row `json:"results"`
	Truncated       bool            `json:"truncated,omitempty"`
	Attempts        int             `json:"attempts"`
	ValidationMode  string          `json:"validation_mode"`
	ExecutionTimeMS float64         `json:"execution_time_ms"`
	Formatted       string          `json:"formatted,omitempty"`
	Trace           pipeline.Trace  `json:"trace,omitempty"`
	Error           *ErrorInfo      `json:"error,omitempty"`
	Usage           Usage           `json:"usage"`
}

// Usage reports tokens consumed by the run.
type Usage struct {
	EmbeddingTokens  int `json:"embedding_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ErrorInfo is the structured, user-visible failure of a run.
// Query and Violations carry the last candidate and everything the validator found.
type ErrorInfo struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	StageID    string                 `json:"stage_id,omitempty"`
	Policy     string                 `json:"policy,omitempty"`
	Query      string                 `json:"query,omitempty"`
	Violations []validation.Violation `json:"violations,omitempty"`
}

// Success reports whether the run produced no error.
func (r Response) Success() bool { return r.Error == nil }
