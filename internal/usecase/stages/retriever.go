package stages

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	engine "github.com/kailas-cloud/askdb/internal/usecase/pipeline"
	retrievalsvc "github.com/kailas-cloud/askdb/internal/usecase/retrieval"
)

type retrieverStage struct {
	svc  Retriever
	opts retrievalsvc.Options
}

func (d Deps) retriever(spec engine.StageSpec) (engine.Component, error) {
	if d.Retriever == nil {
		return nil, fmt.Errorf("schema retrieval is not configured")
	}
	s := spec.Settings
	return &retrieverStage{
		svc: d.Retriever,
		opts: retrievalsvc.Options{
			MaxTables:            s.MaxTables,
			SimilarityThreshold:  s.SimilarityThreshold,
			IncludeColumnMatches: s.IncludeColumnMatches,
			RelaxThresholdFactor: s.RelaxThresholdFactor,
			RelaxAttempts:        s.RelaxAttempts,
		},
	}, nil
}

func (r *retrieverStage) Inputs() []engine.Port {
	return []engine.Port{{Name: string(pipeline.KeyQuestion)}}
}

func (r *retrieverStage) Outputs() []string {
	return []string{string(pipeline.KeyRetrieval), string(pipeline.KeySchemaSubset), string(pipeline.KeySchemaText)}
}

func (r *retrieverStage) Run(ctx context.Context, in engine.Values) (engine.Values, error) {
	question, err := text(in, string(pipeline.KeyQuestion))
	if err != nil {
		return nil, err
	}
	res := r.svc.Retrieve(ctx, question, r.opts)
	sub := r.svc.Subset(res)
	return engine.Values{
		string(pipeline.KeyRetrieval):    res,
		string(pipeline.KeySchemaSubset): sub,
		string(pipeline.KeySchemaText):   sub.Render(),
	}, nil
}
