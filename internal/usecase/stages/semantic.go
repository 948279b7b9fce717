package stages

import (
	"context"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	engine "github.com/kailas-cloud/askdb/internal/usecase/pipeline"
	querycheck "github.com/kailas-cloud/askdb/internal/usecase/validation"
)

// SemanticValidatorID selects the language model review instead of the
// structural check for component_type validator.
const SemanticValidatorID = "semantic"

type semanticStage struct {
	r      *querycheck.Reviewer
	opts   domain.CompletionOptions
	strict bool
}

func (d Deps) semantic(spec engine.StageSpec) (engine.Component, error) {
	llm, err := d.completer(spec)
	if err != nil {
		return nil, err
	}
	s := spec.Settings
	return &semanticStage{
		r: querycheck.NewReviewer(llm, d.dialect(spec), s.ConfidenceThreshold),
		opts: domain.CompletionOptions{
			Model:       s.Model,
			Temperature: s.Temperature,
			MaxTokens:   s.MaxTokens,
			Timeout:     s.LLMTimeout,
		},
		strict: s.FailOnInvalid,
	}, nil
}

func (s *semanticStage) Inputs() []engine.Port {
	return []engine.Port{
		{Name: string(pipeline.KeyQuestion)},
		{Name: string(pipeline.KeyCandidate)},
		{Name: string(pipeline.KeySchemaText), Optional: true},
	}
}

func (s *semanticStage) Outputs() []string {
	return []string{string(pipeline.KeyVerdict)}
}

func (s *semanticStage) Run(ctx context.Context, in engine.Values) (engine.Values, error) {
	question, err := text(in, string(pipeline.KeyQuestion))
	if err != nil {
		return nil, err
	}
	q, err := text(in, string(pipeline.KeyCandidate))
	if err != nil {
		return nil, err
	}
	schemaText, err := text(in, string(pipeline.KeySchemaText))
	if err != nil {
		return nil, err
	}
	verdict, err := s.r.Review(ctx, question, q, schemaText, s.opts)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid && s.strict {
		return nil, &domain.ValidationFailure{Verdict: verdict}
	}
	return engine.Values{string(pipeline.KeyVerdict): verdict}, nil
}
