package domain

import (
	"context"
	"sync/atomic"
)

type usageKey struct{}

// Usage collects token usage for a single pipeline run.
// The ask service puts it into the context; embedders and completers add to it.
type Usage struct {
	embeddingTokens  atomic.Int64
	completionTokens atomic.Int64
}

// NewContextWithUsage returns a context carrying a fresh usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext returns the collector, or nil if none is set.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// AddEmbeddingTokens records embedding tokens. Safe on a nil receiver.
func (u *Usage) AddEmbeddingTokens(n int) {
	if u != nil {
		u.embeddingTokens.Add(int64(n))
	}
}

// AddCompletionTokens records LLM tokens. Safe on a nil receiver.
func (u *Usage) AddCompletionTokens(n int) {
	if u != nil {
		u.completionTokens.Add(int64(n))
	}
}

// EmbeddingTokens returns the recorded embedding tokens.
func (u *Usage) EmbeddingTokens() int {
	if u == nil {
		return 0
	}
	return int(u.embeddingTokens.Load())
}

// CompletionTokens returns the recorded LLM tokens.
func (u *Usage) CompletionTokens() int {
	if u == nil {
		return 0
	}
	return int(u.completionTokens.Load())
}
