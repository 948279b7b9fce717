package validation

import (
	"fmt"
	"strings"
)

// Mode is the validation strictness.
type Mode string

const (
	// ModeFull checks syntax and schema conformance.
	ModeFull Mode = "full"
	// ModeSyntaxOnly checks syntax only.
	ModeSyntaxOnly Mode = "syntax_only"
	// ModeNone trusts the candidate without inspection.
	ModeNone Mode = "none"
	// ModeSemantic marks verdicts from a language model review. It is not a
	// synthesis mode.
	ModeSemantic Mode = "semantic"
)

// ParseMode parses a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFull, ModeSyntaxOnly, ModeNone:
		return m, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q (expected full, syntax_only or none)", s)
	}
}

// Kind classifies a violation.
type Kind string

const (
	// UnknownTable is a source, label or relationship type absent from the schema subset.
	UnknownTable Kind = "UNKNOWN_TABLE"
	// UnknownColumn is a column or property absent from its resolved source.
	UnknownColumn Kind = "UNKNOWN_COLUMN"
	// UnresolvedAlias is a qualifier that does not name a declared source or variable.
	UnresolvedAlias Kind = "UNRESOLVED_ALIAS"
	// SyntaxError is a parse failure.
	SyntaxError Kind = "SYNTAX_ERROR"
	// SemanticMismatch is a query a reviewing model found not to answer the question.
	SemanticMismatch Kind = "SEMANTIC_MISMATCH"
)

// Violation is one problem found in a candidate query.
type Violation struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	return string(v.Kind) + ": " + v.Detail
}

// Verdict is the result of validating one candidate query.
type Verdict struct {
	Valid      bool        `json:"valid"`
	Mode       Mode        `json:"mode"`
	Violations []Violation `json:"violations,omitempty"`
}

// Accept returns a valid verdict for mode.
func Accept(mode Mode) Verdict {
	return Verdict{Valid: true, Mode: mode}
}

// Reject returns an invalid verdict carrying violations.
func Reject(mode Mode, violations ...Violation) Verdict {
	vs := make([]Violation, len(violations))
	copy(vs, violations)
	return Verdict{Valid: false, Mode: mode, Violations: vs}
}

// Summary renders the verdict on one line.
func (v Verdict) Summary() string {
	if v.Valid {
		return "valid"
	}
	parts := make([]string, len(v.Violations))
	for i, viol := range v.Violations {
		parts[i] = viol.String()
	}
	return strings.Join(parts, "; ")
}
