package stages

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
	engine "github.com/kailas-cloud/askdb/internal/usecase/pipeline"
	"github.com/kailas-cloud/askdb/internal/usecase/synthesis"
	querycheck "github.com/kailas-cloud/askdb/internal/usecase/validation"
)

type synthesizerStage struct {
	svc  *synthesis.Service
	opts synthesis.Options
}

func (d Deps) synthesizer(spec engine.StageSpec) (engine.Component, error) {
	llm, err := d.completer(spec)
	if err != nil {
		return nil, err
	}
	v, err := querycheck.New(d.dialect(spec))
	if err != nil {
		return nil, err
	}
	s := spec.Settings
	mode, err := validation.ParseMode(s.ValidationMode)
	if err != nil {
		return nil, err
	}
	return &synthesizerStage{
		svc: synthesis.New(llm, v, d.Logger),
		opts: synthesis.Options{
			Mode:       mode,
			MaxRetries: s.MaxRetries,
			Completion: domain.CompletionOptions{
				Model:       s.Model,
				Temperature: s.Temperature,
				MaxTokens:   s.MaxTokens,
				Timeout:     s.LLMTimeout,
			},
		},
	}, nil
}

func (s *synthesizerStage) Inputs() []engine.Port {
	return []engine.Port{
		{Name: string(pipeline.KeyPrompt)},
		{Name: string(pipeline.KeySchemaSubset), Optional: true},
	}
}

func (s *synthesizerStage) Outputs() []string {
	return []string{string(pipeline.KeyCandidate), string(pipeline.KeyAttempts), string(pipeline.KeyVerdict)}
}

func (s *synthesizerStage) Run(ctx context.Context, in engine.Values) (engine.Values, error) {
	p, err := text(in, string(pipeline.KeyPrompt))
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, fmt.Errorf("%w: empty prompt", domain.ErrInvalidRequest)
	}
	sub, err := subset(in, string(pipeline.KeySchemaSubset))
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Synthesize(ctx, p, sub, s.opts)
	if err != nil {
		return nil, err
	}
	return engine.Values{
		string(pipeline.KeyCandidate): res.Query,
		string(pipeline.KeyAttempts):  res.Attempts,
		string(pipeline.KeyVerdict):   res.Verdict(),
	}, nil
}
