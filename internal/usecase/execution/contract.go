package execution

import (
	"context"

	"github.com/kailas-cloud/askdb/internal/domain/resultset"
)

// Store runs a query against one data store.
type Store interface {
	Run(ctx context.Context, query string, opts resultset.RunOptions) (resultset.ResultSet, error)
	IsTransient(err error) bool
	Driver() string
}
