package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/metrics"
	geminitransport "github.com/kailas-cloud/askdb/internal/transport/gemini"
	openaitransport "github.com/kailas-cloud/askdb/internal/transport/openai"
	completionuc "github.com/kailas-cloud/askdb/internal/usecase/completion"
)

// buildCompleters creates one instrumented completer per language model provider.
func (a *App) buildCompleters(ctx context.Context) (map[string]domain.Completer, error) {
	out := make(map[string]domain.Completer, len(a.cfg.LLM.Providers))
	for name, p := range a.cfg.LLM.Providers {
		var inner domain.Completer
		switch p.Type {
		case "gemini":
			c, err := geminitransport.NewCompleter(ctx, &geminitransport.Config{
				APIKey:   p.APIKey,
				BaseURL:  p.BaseURL,
				Model:    p.Model,
				Provider: name,
				Logger:   a.logger,
			})
			if err != nil {
				return nil, fmt.Errorf("llm provider %s: %w", name, err)
			}
			inner = c
		default:
			inner = openaitransport.NewCompleter(&openaitransport.Config{
				APIKey:   p.APIKey,
				BaseURL:  p.BaseURL,
				Model:    p.Model,
				Provider: name,
				Logger:   a.logger,
			})
		}

		var budget completionuc.BudgetChecker
		if t := a.tracker(ctx, "llm", name, p.Budget, domain.ErrLLMQuotaExceeded,
			metrics.LLMBudgetTokensRemaining); t != nil {
			budget = t
		}
		out[name] = completionuc.NewInstrumentedCompleter(inner, name, budget, a.logger)
		a.logger.Info("LLM provider created",
			zap.String("provider", name),
			zap.String("type", p.Type),
			zap.String("model", p.Model),
		)
	}
	return out, nil
}
