package stages

import (
	"context"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
	engine "github.com/kailas-cloud/askdb/internal/usecase/pipeline"
	querycheck "github.com/kailas-cloud/askdb/internal/usecase/validation"
)

// validatorStage re-checks a candidate on its own. The verdict is always
// written so stop_when can act on it; with fail_on_invalid an invalid
// candidate also fails the stage with *domain.ValidationFailure.
type validatorStage struct {
	v      *querycheck.Validator
	mode   validation.Mode
	strict bool
}

func (d Deps) validator(spec engine.StageSpec) (engine.Component, error) {
	v, err := querycheck.New(d.dialect(spec))
	if err != nil {
		return nil, err
	}
	mode, err := validation.ParseMode(spec.Settings.ValidationMode)
	if err != nil {
		return nil, err
	}
	return &validatorStage{v: v, mode: mode, strict: spec.Settings.FailOnInvalid}, nil
}

func (s *validatorStage) Inputs() []engine.Port {
	return []engine.Port{
		{Name: string(pipeline.KeyCandidate)},
		{Name: string(pipeline.KeySchemaSubset), Optional: true},
	}
}

func (s *validatorStage) Outputs() []string {
	return []string{string(pipeline.KeyVerdict)}
}

func (s *validatorStage) Run(_ context.Context, in engine.Values) (engine.Values, error) {
	q, err := text(in, string(pipeline.KeyCandidate))
	if err != nil {
		return nil, err
	}
	sub, err := subset(in, string(pipeline.KeySchemaSubset))
	if err != nil {
		return nil, err
	}
	verdict := s.v.Validate(q, sub, s.mode)
	if !verdict.Valid && s.strict {
		return nil, &domain.ValidationFailure{Verdict: verdict}
	}
	return engine.Values{string(pipeline.KeyVerdict): verdict}, nil
}
