package chi

import (
	"context"

	"github.com/kailas-cloud/askdb/internal/domain/response"
	"github.com/kailas-cloud/askdb/internal/domain/retrieval"
	askuc "github.com/kailas-cloud/askdb/internal/usecase/ask"
	healthuc "github.com/kailas-cloud/askdb/internal/usecase/health"
	retrievaluc "github.com/kailas-cloud/askdb/internal/usecase/retrieval"
	"github.com/kailas-cloud/askdb/internal/usecase/schemaindex"
	usageuc "github.com/kailas-cloud/askdb/internal/usecase/usage"
)

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, req askuc.Request) (response.Response, error)
	Pipelines() []askuc.PipelineInfo
}

// Reindexer rebuilds the schema index from its source.
type Reindexer interface {
	Reindex(ctx context.Context) (schemaindex.Stats, error)
}

// SchemaSearcher ranks schema elements for a text.
type SchemaSearcher interface {
	Retrieve(ctx context.Context, question string, opts retrievaluc.Options) retrieval.Result
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// UsageReporter reports token budgets.
type UsageReporter interface {
	GetReport(ctx context.Context, period usageuc.Period) usageuc.Report
}
