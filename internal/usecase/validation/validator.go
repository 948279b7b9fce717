package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

// Supported query dialects.
const (
	DialectSQL    = "sql"
	DialectCypher = "cypher"
)

// Validator checks candidate queries of one dialect. It holds no state
// between calls and never modifies its inputs.
type Validator struct {
	dialect string
}

// New returns a validator for dialect ("sql" or "cypher").
func New(dialect string) (*Validator, error) {
	switch d := strings.ToLower(dialect); d {
	case DialectSQL, DialectCypher:
		return &Validator{dialect: d}, nil
	default:
		return nil, fmt.Errorf("unknown query dialect %q", dialect)
	}
}

// Dialect returns the dialect the validator parses.
func (v *Validator) Dialect() string { return v.dialect }

// Validate checks query in mode. FULL stops at the first syntax error;
// otherwise every schema violation is reported in source order.
func (v *Validator) Validate(query string, subset schema.Subset, mode validation.Mode) validation.Verdict {
	if mode == validation.ModeNone {
		return validation.Accept(mode)
	}

	full := mode != validation.ModeSyntaxOnly
	var (
		violations []validation.Violation
		err        error
	)
	if v.dialect == DialectCypher {
		violations, err = parseCypher(query, subset, full)
	} else {
		var q *sqlQuery
		if q, err = parseSQL(query); err == nil && full {
			violations = checkSQL(q, subset)
		}
	}

	if err != nil {
		var se *syntaxError
		if !errors.As(err, &se) {
			se = &syntaxError{msg: err.Error()}
		}
		return validation.Reject(mode, validation.Violation{Kind: validation.SyntaxError, Detail: se.Error()})
	}
	if len(violations) > 0 {
		return validation.Reject(mode, violations...)
	}
	return validation.Accept(mode)
}
