package app

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/config"
	"github.com/kailas-cloud/askdb/internal/db/graphstore"
	"github.com/kailas-cloud/askdb/internal/db/schemafile"
	"github.com/kailas-cloud/askdb/internal/db/sqlstore"
	"github.com/kailas-cloud/askdb/internal/usecase/schemaindex"
	"github.com/kailas-cloud/askdb/internal/usecase/stages"
)

type openedStores struct {
	stores  map[string]stages.Store
	sources map[string]schemaindex.SchemaSource
}

// queryStore is what every store driver provides.
type queryStore interface {
	stages.Store
	schemaindex.SchemaSource
	Close() error
}

// openStores connects every configured data store. A store with a schema
// file is described by the file instead of its catalog.
func (a *App) openStores(ctx context.Context) (openedStores, error) {
	out := openedStores{
		stores:  make(map[string]stages.Store, len(a.cfg.Stores)),
		sources: make(map[string]schemaindex.SchemaSource, len(a.cfg.Stores)),
	}

	names := make([]string, 0, len(a.cfg.Stores))
	for name := range a.cfg.Stores {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := a.cfg.Stores[name]
		s, err := openStore(ctx, sc)
		if err != nil {
			return openedStores{}, fmt.Errorf("store %s: %w", name, err)
		}
		a.closers = append(a.closers, s.Close)
		out.stores[name] = s
		out.sources[name] = s

		if sc.SchemaFile != "" {
			fs, err := schemafile.Load(sc.SchemaFile)
			if err != nil {
				return openedStores{}, fmt.Errorf("store %s: %w", name, err)
			}
			out.sources[name] = fs
		}
		a.logger.Info("Data store opened",
			zap.String("store", name),
			zap.String("driver", sc.Driver),
			zap.Bool("schema_file", sc.SchemaFile != ""),
		)
	}
	return out, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (queryStore, error) {
	switch sc.Driver {
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		s, err := sqlstore.Open(sc.Driver, sc.DSN, sqlstore.Options{
			Schema:       sc.SchemaName,
			IncludeViews: sc.IncludeViews,
			MaxTables:    sc.MaxTables,
		})
		if err != nil {
			return nil, err
		}
		if sc.Driver == sqlstore.DriverPostgres {
			s.DB().SetMaxOpenConns(sc.MaxOpenConns)
		}
		return s, nil
	case graphstore.DriverNeo4j:
		s, err := graphstore.Open(ctx, sc.URI, graphstore.Options{
			Username:  sc.Username,
			Password:  sc.Password,
			Database:  sc.Database,
			MaxLabels: sc.MaxTables,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", sc.Driver)
	}
}
