package completion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
)

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
}

// InstrumentedCompleter wraps a Completer with budget enforcement, per-run
// usage accounting and logging. Transport metrics live in the provider packages.
type InstrumentedCompleter struct {
	inner    domain.Completer
	provider string
	budget   BudgetChecker
	logger   *zap.Logger
}

// NewInstrumentedCompleter wraps inner. budget may be nil.
func NewInstrumentedCompleter(
	inner domain.Completer, provider string, budget BudgetChecker, logger *zap.Logger,
) *InstrumentedCompleter {
	return &InstrumentedCompleter{inner: inner, provider: provider, budget: budget, logger: logger}
}

// Complete checks the budget, delegates, then records token usage.
func (c *InstrumentedCompleter) Complete(
	ctx context.Context, prompt string, opts domain.CompletionOptions,
) (domain.Completion, error) {
	if c.budget != nil {
		if err := c.budget.Check(ctx); err != nil {
			c.logger.Error("LLM budget exceeded", zap.String("provider", c.provider), zap.Error(err))
			return domain.Completion{}, fmt.Errorf("budget check: %w", err)
		}
	}

	start := time.Now()
	res, err := c.inner.Complete(ctx, prompt, opts)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("complete: %w", err)
	}

	tokens := res.TotalTokens
	if tokens == 0 {
		tokens = res.PromptTokens + res.CompletionTokens
	}
	if tokens > 0 {
		domain.UsageFromContext(ctx).AddCompletionTokens(tokens)
		if c.budget != nil {
			c.budget.Record(int64(tokens))
		}
	}

	c.logger.Debug("LLM completion",
		zap.String("provider", c.provider),
		zap.String("model", opts.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("tokens", tokens),
	)
	return res, nil
}
