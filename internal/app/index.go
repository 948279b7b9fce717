package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	schemaindexrepo "github.com/kailas-cloud/askdb/internal/repository/schemaindex"
	"github.com/kailas-cloud/askdb/internal/usecase/schemaindex"
)

// openIndexRepo opens the configured schema index backend. dim is zero when
// no vectorizer is configured; the vector index is then left alone.
func (a *App) openIndexRepo(ctx context.Context, dim int) (schemaindex.Repository, error) {
	var repo schemaindex.Repository
	switch a.cfg.Index.Backend {
	case "redis":
		if a.redis == nil {
			return nil, fmt.Errorf("index backend redis: database is not configured")
		}
		repo = schemaindexrepo.NewRedis(a.redis, a.cfg.Storage.KeyPrefix).WithHNSW(schemaindexrepo.HNSWConfig{
			M:           a.cfg.Index.HNSWM,
			EFConstruct: a.cfg.Index.HNSWEFConstruct,
		})
	case "pgvector":
		p, err := schemaindexrepo.OpenPgvector(a.cfg.Index.PgvectorDSN, a.cfg.Index.PgvectorTable)
		if err != nil {
			return nil, fmt.Errorf("index backend pgvector: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		repo = p
	case "badger":
		b, err := schemaindexrepo.OpenBadger(a.cfg.Index.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("index backend badger: %w", err)
		}
		a.closers = append(a.closers, b.Close)
		repo = b
	default:
		return nil, fmt.Errorf("unknown index backend %q", a.cfg.Index.Backend)
	}

	if dim > 0 {
		if err := repo.EnsureIndex(ctx, dim); err != nil {
			return nil, fmt.Errorf("index backend %s: %w", a.cfg.Index.Backend, err)
		}
	}
	a.logger.Info("Schema index opened",
		zap.String("backend", a.cfg.Index.Backend),
		zap.Int("dimensions", dim),
	)
	return repo, nil
}
