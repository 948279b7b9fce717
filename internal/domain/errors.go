package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/askdb/internal/domain/synthesis"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

var (
	// ErrNotFound signals a missing resource (pipeline, store, component).
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals a malformed client request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMissingInput signals that a stage input is absent from the pipeline context.
	ErrMissingInput = errors.New("missing stage input")

	// ErrRetrievalDegraded signals that semantic retrieval was unavailable and
	// keyword matching was used instead. Never fatal.
	ErrRetrievalDegraded = errors.New("retrieval degraded")
	// ErrEmbeddingQuotaExceeded signals an exhausted token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrLLMProviderError signals a language model provider failure.
	ErrLLMProviderError = errors.New("llm provider error")
	// ErrLLMQuotaExceeded signals an exhausted language model token budget.
	ErrLLMQuotaExceeded = errors.New("llm quota exceeded")

	// ErrReadOnlyViolation signals a mutating statement under read-only mode.
	ErrReadOnlyViolation = errors.New("read-only violation")
	// ErrRunStopped signals a run stopped by a configured stop condition.
	ErrRunStopped = errors.New("run stopped")
)

// TemplateError is returned when a prompt template references an input
// that was not provided, or the template itself is malformed.
type TemplateError struct {
	Placeholder string
	Err         error
}

func (e *TemplateError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("template: placeholder %q has no matching input", e.Placeholder)
	}
	return fmt.Sprintf("template: %v", e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ValidationFailure carries the verdict of a rejected candidate query.
type ValidationFailure struct {
	Verdict validation.Verdict
}

func (e *ValidationFailure) Error() string {
	return "validation failed: " + e.Verdict.Summary()
}

// QueryGenerationFailed is returned when the synthesis loop runs out of attempts.
type QueryGenerationFailed struct {
	Attempts []synthesis.Attempt
}

func (e *QueryGenerationFailed) Error() string {
	last := e.LastAttempt()
	if last == nil {
		return "query generation failed: no attempts made"
	}
	return fmt.Sprintf("query generation failed after %d attempts: %s",
		len(e.Attempts), last.Verdict.Summary())
}

// LastAttempt returns the final attempt, or nil if none were made.
func (e *QueryGenerationFailed) LastAttempt() *synthesis.Attempt {
	if len(e.Attempts) == 0 {
		return nil
	}
	return &e.Attempts[len(e.Attempts)-1]
}

// LastQuery returns the last cleaned candidate query.
func (e *QueryGenerationFailed) LastQuery() string {
	if last := e.LastAttempt(); last != nil {
		return last.Query
	}
	return ""
}

// Violations returns the violations of every attempt in order.
func (e *QueryGenerationFailed) Violations() []validation.Violation {
	var out []validation.Violation
	for _, a := range e.Attempts {
		out = append(out, a.Verdict.Violations...)
	}
	return out
}

// ExecutionKind separates retryable store failures from permanent ones.
type ExecutionKind string

const (
	// ExecutionTransient marks connection resets, deadlocks and similar.
	ExecutionTransient ExecutionKind = "transient"
	// ExecutionPermanent marks permission, reference and syntax failures.
	ExecutionPermanent ExecutionKind = "permanent"
)

// ExecutionError is the structured failure of a query execution.
type ExecutionError struct {
	Kind     ExecutionKind
	Query    string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s error after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Transient reports whether the error was classified as transient.
func (e *ExecutionError) Transient() bool { return e.Kind == ExecutionTransient }

// StageError wraps a stage failure with the stage id and the policy applied to it.
type StageError struct {
	StageID string
	Policy  string // policy applied, after any retry fallback
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q (policy %s): %v", e.StageID, e.Policy, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// EmbeddingError is returned by schema indexing when some elements could not be embedded.
type EmbeddingError struct {
	Failed   int
	Elements []string
	Err      error
}

func (e *EmbeddingError) Error() string {
	if len(e.Elements) == 0 {
		return fmt.Sprintf("embedding failed for %d element(s): %v", e.Failed, e.Err)
	}
	names := e.Elements
	if len(names) > 5 {
		names = append(names[:5:5], "...")
	}
	return fmt.Sprintf("embedding failed for %d element(s) [%s]: %v",
		e.Failed, strings.Join(names, ", "), e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
