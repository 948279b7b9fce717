package synthesis

import (
	"context"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

// Completer produces the raw model output for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts domain.CompletionOptions) (domain.Completion, error)
}

// Validator judges a cleaned candidate query.
type Validator interface {
	Validate(query string, subset schema.Subset, mode validation.Mode) validation.Verdict
}
