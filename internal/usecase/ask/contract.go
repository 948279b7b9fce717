package ask

import (
	"context"

	"github.com/kailas-cloud/askdb/internal/usecase/pipeline"
)

// Runner is a built pipeline.
type Runner interface {
	ID() string
	Description() string
	StageIDs() []string
	Run(ctx context.Context, question string, opts pipeline.RunOptions) (pipeline.Result, error)
}
