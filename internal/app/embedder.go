package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/config"
	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/metrics"
	budgetrepo "github.com/kailas-cloud/askdb/internal/repository/budget"
	"github.com/kailas-cloud/askdb/internal/repository/embcache"
	openaitransport "github.com/kailas-cloud/askdb/internal/transport/openai"
	budgetuc "github.com/kailas-cloud/askdb/internal/usecase/budget"
	embeddinguc "github.com/kailas-cloud/askdb/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/askdb/internal/usecase/health"
)

const (
	budgetDailyTTL   = 48 * time.Hour
	budgetMonthlyTTL = 62 * 24 * time.Hour
)

type embedders struct {
	document   domain.Embedder // nil without a vectorizer
	query      domain.Embedder
	dimensions int
	checker    healthuc.EmbeddingChecker
}

// buildEmbedders assembles the decorator chain
// provider -> cache -> budget and metrics -> timeout -> instruction.
// Document and query embedders share everything but the instruction.
func (a *App) buildEmbedders(ctx context.Context) (embedders, error) {
	name := a.cfg.Embedding.Vectorizer
	if name == "" {
		a.logger.Info("No vectorizer configured, retrieval uses keyword matching")
		return embedders{}, nil
	}
	vec := a.cfg.Embedding.Vectorizers[name]
	prov, ok := a.cfg.Embedding.Providers[vec.Provider]
	if !ok {
		return embedders{}, fmt.Errorf("vectorizer %s: provider %q is not defined", name, vec.Provider)
	}

	base := openaitransport.NewEmbedder(&openaitransport.Config{
		APIKey:     prov.APIKey,
		BaseURL:    prov.BaseURL,
		Model:      vec.Model,
		Dimensions: vec.Dimensions,
		Provider:   vec.Provider,
		Logger:     a.logger,
	})

	var inner domain.Embedder = base
	if a.redis != nil {
		prefix := fmt.Sprintf("%semb_cache:%s:", a.cfg.Storage.KeyPrefix, name)
		ttl := time.Duration(a.cfg.Embedding.CacheTTLSec) * time.Second
		inner = embcache.New(base, a.redis, prefix, ttl, metrics.EmbeddingCacheTotal, a.logger)
	}

	// a nil *Tracker inside the interface would not compare equal to nil
	var budget embeddinguc.BudgetChecker
	if t := a.tracker(ctx, "embedding", vec.Provider, prov.Budget, domain.ErrEmbeddingQuotaExceeded,
		metrics.EmbeddingBudgetTokensRemaining); t != nil {
		budget = t
	}
	inner = embeddinguc.NewInstrumentedEmbedder(inner, vec.Provider, vec.Model, budget, a.logger)
	inner = &timeoutEmbedder{inner: inner, timeout: time.Duration(a.cfg.Embedding.TimeoutSec) * time.Second}

	a.logger.Info("Embedders created",
		zap.String("vectorizer", name),
		zap.String("provider", vec.Provider),
		zap.String("model", vec.Model),
		zap.Int("dimensions", vec.Dimensions),
	)
	return embedders{
		document:   domain.NewInstructionEmbedder(inner, vec.DocumentInstruction),
		query:      domain.NewInstructionEmbedder(inner, vec.QueryInstruction),
		dimensions: vec.Dimensions,
		checker:    embeddingHealthChecker{provider: base},
	}, nil
}

// tracker returns nil when the budget sets no limit. Created trackers are
// reported by the usage service.
func (a *App) tracker(
	ctx context.Context, scope, provider string, cfg config.BudgetConfig, exceeded error, gauge *prometheus.GaugeVec,
) *budgetuc.Tracker {
	if cfg.DailyTokenLimit <= 0 && cfg.MonthlyTokenLimit <= 0 {
		return nil
	}
	t := budgetuc.NewTracker(scope, provider, a.cfg.Storage.KeyPrefix, budgetuc.Limits{
		Daily:   cfg.DailyTokenLimit,
		Monthly: cfg.MonthlyTokenLimit,
		Action:  budgetuc.ParseAction(cfg.Action),
	}, exceeded, a.logger).WithGauge(gauge)
	if a.redis != nil {
		t = t.WithStore(ctx, budgetrepo.New(a.redis, budgetDailyTTL, budgetMonthlyTTL))
	}
	a.budgets = append(a.budgets, t)
	return t
}

// timeoutEmbedder bounds every provider call.
type timeoutEmbedder struct {
	inner   domain.Embedder
	timeout time.Duration
}

func (e *timeoutEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.inner.Embed(ctx, text)
}

// BatchEmbed bounds the whole batch by one timeout.
func (e *timeoutEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if be, ok := e.inner.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, e.inner, texts)
}

// embeddingHealthChecker probes the provider behind the decorator chain.
type embeddingHealthChecker struct {
	provider domain.HealthChecker
}

func (h embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if err := h.provider.HealthCheck(ctx); err != nil {
		return fmt.Errorf("embedding health check: %w", err)
	}
	return nil
}
