package domain

import (
	"context"
	"time"
)

// Completer is the language model contract used by query synthesis.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (Completion, error)
}

// CompletionOptions selects the model and bounds a single call.
// Zero values mean provider defaults, except Timeout which callers must set.
type CompletionOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	System      string
}

// Completion is the raw model output with token accounting.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
