package stages

import (
	"context"
	"time"

	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/usecase/execution"
	"github.com/kailas-cloud/askdb/internal/usecase/format"
	engine "github.com/kailas-cloud/askdb/internal/usecase/pipeline"
)

type executorStage struct {
	svc  *execution.Service
	opts execution.Options
}

func (d Deps) executor(spec engine.StageSpec) (engine.Component, error) {
	st, err := d.store(spec)
	if err != nil {
		return nil, err
	}
	s := spec.Settings
	return &executorStage{
		svc: execution.New(st, d.Logger),
		opts: execution.Options{
			ReadOnly:         s.ReadOnly,
			Timeout:          s.Timeout,
			MaxRows:          s.MaxRows,
			TransientRetries: s.TransientRetries,
			RetryDelay:       s.RetryDelay,
		},
	}, nil
}

func (s *executorStage) Inputs() []engine.Port {
	return []engine.Port{{Name: string(pipeline.KeyCandidate)}}
}

func (s *executorStage) Outputs() []string {
	return []string{string(pipeline.KeyResults), string(pipeline.KeyExecutionTime)}
}

func (s *executorStage) Run(ctx context.Context, in engine.Values) (engine.Values, error) {
	q, err := text(in, string(pipeline.KeyCandidate))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rs, err := s.svc.Execute(ctx, q, s.opts)
	if err != nil {
		return nil, err
	}
	return engine.Values{
		string(pipeline.KeyResults):       rs,
		string(pipeline.KeyExecutionTime): format.Milliseconds(time.Since(start)),
	}, nil
}
