// Package app wires configuration into running services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/config"
	"github.com/kailas-cloud/askdb/internal/db"
	dbredis "github.com/kailas-cloud/askdb/internal/db/redis"
	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/metrics"
	chitransport "github.com/kailas-cloud/askdb/internal/transport/chi"
	askuc "github.com/kailas-cloud/askdb/internal/usecase/ask"
	healthuc "github.com/kailas-cloud/askdb/internal/usecase/health"
	"github.com/kailas-cloud/askdb/internal/usecase/pipeline"
	retrievaluc "github.com/kailas-cloud/askdb/internal/usecase/retrieval"
	"github.com/kailas-cloud/askdb/internal/usecase/schemaindex"
	"github.com/kailas-cloud/askdb/internal/usecase/stages"
	usageuc "github.com/kailas-cloud/askdb/internal/usecase/usage"
)

// App holds the wired services of one askdb process.
type App struct {
	cfg       config.Config
	redis     *dbredis.Store // nil without database.addrs
	index     *schemaindex.Service
	source    schemaindex.SchemaSource // nil: reindexing disabled
	retrieval *retrievaluc.Service
	ask       *askuc.Service
	health    *healthuc.Service
	usage     *usageuc.Service
	budgets   []usageuc.BudgetReader
	closers   []func() error
	logger    *zap.Logger
}

// New connects every configured backend and builds the pipelines.
// On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Database.Enabled() {
		if err := a.connectRedis(ctx); err != nil {
			return nil, err
		}
	}

	opened, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	emb, err := a.buildEmbedders(ctx)
	if err != nil {
		return nil, err
	}

	repo, err := a.openIndexRepo(ctx, emb.dimensions)
	if err != nil {
		return nil, err
	}
	var docEmbedder schemaindex.Embedder
	var queryEmbedder retrievaluc.Embedder
	if emb.document != nil {
		docEmbedder = emb.document
		queryEmbedder = emb.query
	}
	a.index = schemaindex.New(repo, docEmbedder, logger).
		WithConcurrency(cfg.Index.EmbedConcurrency).
		WithBatchSize(cfg.Index.EmbedBatchSize)
	if err := a.index.Load(ctx); err != nil {
		return nil, err
	}
	a.retrieval = retrievaluc.New(a.index, queryEmbedder, logger)

	if cfg.Index.Source != "" {
		a.source = opened.sources[cfg.Index.Source]
	}
	if cfg.Index.SyncOnStart && a.source != nil {
		a.syncOnStart(ctx)
	}

	completers, err := a.buildCompleters(ctx)
	if err != nil {
		return nil, err
	}

	reg := pipeline.NewRegistry()
	stages.Register(reg, stages.Deps{
		Retriever:  a.retrieval,
		Completers: completers,
		DefaultLLM: cfg.LLM.DefaultProvider,
		Stores:     opened.stores,
		Logger:     logger,
	})
	runners := make([]askuc.Runner, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		p, err := pipeline.Build(pc, cfg.Resolve, reg, logger)
		if err != nil {
			return nil, err
		}
		runners = append(runners, p)
	}
	a.ask, err = askuc.New(runners, cfg.DefaultPipeline, logger)
	if err != nil {
		return nil, fmt.Errorf("ask service: %w", err)
	}

	a.health = a.buildHealth(opened, emb.checker)
	a.usage = usageuc.New(a.budgets...)

	logger.Info("askdb wired",
		zap.Int("stores", len(opened.stores)),
		zap.Int("pipelines", len(runners)),
		zap.Int("indexed_elements", a.index.Len()),
		zap.Bool("semantic_retrieval", a.index.HasEmbedder()),
		zap.String("index_backend", cfg.Index.Backend),
	)
	return a, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	store, err := dbredis.NewStore(dbredis.Config{
		Addrs:    a.cfg.Database.Addrs,
		Password: a.cfg.Database.Password,
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", a.cfg.Database.Driver, err)
	}
	a.closers = append(a.closers, func() error { store.Close(); return nil })

	timeout := time.Duration(a.cfg.Database.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, timeout); err != nil {
		return fmt.Errorf("%s not ready: %w", a.cfg.Database.Driver, err)
	}
	a.redis = store
	a.logger.Info("Connected to database",
		zap.String("driver", a.cfg.Database.Driver),
		zap.Strings("addrs", a.cfg.Database.Addrs),
	)
	return nil
}

func (a *App) syncOnStart(ctx context.Context) {
	stats, err := a.index.Reindex(ctx, a.source)
	if err != nil {
		a.logger.Warn("Schema sync on start incomplete", zap.Any("stats", stats), zap.Error(err))
		return
	}
	a.logger.Info("Schema synced on start", zap.Any("stats", stats))
}

func (a *App) buildHealth(opened openedStores, embedding healthuc.EmbeddingChecker) *healthuc.Service {
	var index healthuc.Pinger
	if a.redis != nil {
		index = a.redis
	}
	h := healthuc.New(index, embedding)
	for name, s := range opened.stores {
		if p, ok := s.(db.Pinger); ok {
			h = h.WithStore(name, p)
		}
	}
	return h
}

// Ask returns the question answering service.
func (a *App) Ask() *askuc.Service { return a.ask }

// Retrieval returns the schema retrieval service.
func (a *App) Retrieval() *retrievaluc.Service { return a.retrieval }

// Health returns the health service.
func (a *App) Health() *healthuc.Service { return a.health }

// Usage returns the token budget report service.
func (a *App) Usage() *usageuc.Service { return a.usage }

// SearchDefaults are the retrieval options of the global defaults.
func (a *App) SearchDefaults() retrievaluc.Options {
	eff := a.cfg.Defaults.Effective()
	return retrievaluc.Options{
		MaxTables:            eff.MaxTables,
		SimilarityThreshold:  eff.SimilarityThreshold,
		IncludeColumnMatches: eff.IncludeColumnMatches,
		RelaxThresholdFactor: eff.RelaxThresholdFactor,
		RelaxAttempts:        eff.RelaxAttempts,
	}
}

// Reindex re-reads the schema of the index source and syncs the index.
func (a *App) Reindex(ctx context.Context) (schemaindex.Stats, error) {
	if a.source == nil {
		return schemaindex.Stats{}, fmt.Errorf("%w: no schema source configured", domain.ErrNotFound)
	}
	return a.index.Reindex(ctx, a.source)
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	var reindexer chitransport.Reindexer
	if a.source != nil {
		reindexer = a
	}
	srv := chitransport.NewServer(a.ask, reindexer, a.retrieval, a.health, a.SearchDefaults(), a.logger).
		WithUsage(a.usage)
	return srv.Handler(a.cfg.Auth.APIKeys)
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
