// Package ask answers natural-language questions through configured pipelines.
package ask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	dompipeline "github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/domain/response"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
	"github.com/kailas-cloud/askdb/internal/domain/synthesis"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
	"github.com/kailas-cloud/askdb/internal/logger"
	"github.com/kailas-cloud/askdb/internal/usecase/pipeline"
)

// Request is one question.
type Request struct {
	Question       string
	Pipeline       string // empty: the default pipeline
	Documents      []string
	Inputs         map[string]any
	SelectedStages []string
	IncludeTrace   bool
}

// PipelineInfo describes a configured pipeline.
type PipelineInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Stages      []string `json:"stages"`
	Default     bool     `json:"default"`
}

// Service dispatches questions to pipelines.
type Service struct {
	runners   map[string]Runner
	order     []string
	defaultID string
	logger    *zap.Logger
}

// New creates a Service. An empty defaultID selects the first runner.
func New(runners []Runner, defaultID string, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{runners: make(map[string]Runner, len(runners)), logger: log}
	for _, r := range runners {
		if _, dup := s.runners[r.ID()]; dup {
			return nil, fmt.Errorf("pipeline %q registered twice", r.ID())
		}
		s.runners[r.ID()] = r
		s.order = append(s.order, r.ID())
	}
	if defaultID == "" && len(s.order) > 0 {
		defaultID = s.order[0]
	}
	if _, ok := s.runners[defaultID]; !ok && defaultID != "" {
		return nil, fmt.Errorf("%w: default pipeline %q", domain.ErrNotFound, defaultID)
	}
	s.defaultID = defaultID
	return s, nil
}

// Pipelines lists the configured pipelines in configuration order.
func (s *Service) Pipelines() []PipelineInfo {
	out := make([]PipelineInfo, 0, len(s.order))
	for _, id := range s.order {
		r := s.runners[id]
		out = append(out, PipelineInfo{
			ID:          id,
			Description: r.Description(),
			Stages:      r.StageIDs(),
			Default:     id == s.defaultID,
		})
	}
	return out
}

// Ask runs req through its pipeline. A failed run still returns the partial
// response with Error filled in, together with the error itself.
func (s *Service) Ask(ctx context.Context, req Request) (response.Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		err := fmt.Errorf("%w: question is required", domain.ErrInvalidRequest)
		return response.Response{Results: []resultset.Row{}, Error: ErrorInfo(err)}, err
	}

	id := req.Pipeline
	if id == "" {
		id = s.defaultID
	}
	r, ok := s.runners[id]
	if !ok {
		err := fmt.Errorf("%w: pipeline %q", domain.ErrNotFound, id)
		return response.Response{Question: question, Results: []resultset.Row{}, Error: ErrorInfo(err)}, err
	}

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID), zap.String("pipeline", id))
	ctx = logger.ContextWithLogger(ctx, log)
	ctx, usage := domain.NewContextWithUsage(ctx)

	inputs := make(map[dompipeline.Key]any, len(req.Inputs)+1)
	for k, v := range req.Inputs {
		inputs[dompipeline.Key(k)] = v
	}
	if len(req.Documents) > 0 {
		inputs[dompipeline.KeyDocuments] = req.Documents
	}

	start := time.Now()
	res, err := r.Run(ctx, question, pipeline.RunOptions{
		RunID:          runID,
		Inputs:         inputs,
		SelectedStages: req.SelectedStages,
	})

	resp := build(res, err)
	resp.RunID = runID
	resp.Pipeline = id
	resp.Question = question
	resp.Usage = response.Usage{
		EmbeddingTokens:  usage.EmbeddingTokens(),
		CompletionTokens: usage.CompletionTokens(),
	}
	if req.IncludeTrace {
		resp.Trace = res.Trace
	}

	if err != nil {
		resp.Error = ErrorInfo(err)
		fillFromRun(resp.Error, res)
		if resp.Error.Query == "" {
			resp.Error.Query = resp.Query
		}
		log.Warn("question failed",
			zap.String("code", resp.Error.Code),
			zap.Int("attempts", resp.Attempts),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return resp, err
	}

	log.Info("question answered",
		zap.Int("attempts", resp.Attempts),
		zap.Int("rows", len(resp.Results)),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// build reads the response fields from whatever the run left in the context.
func build(res pipeline.Result, runErr error) response.Response {
	resp := response.Response{Results: []resultset.Row{}}
	c := res.Context
	if c == nil {
		return resp
	}

	resp.Query, _ = dompipeline.Lookup[string](c, dompipeline.KeyCandidate)

	attempts, _ := dompipeline.Lookup[[]synthesis.Attempt](c, dompipeline.KeyAttempts)
	if len(attempts) == 0 {
		attempts = failedAttempts(res.Trace, runErr)
	}
	resp.Attempts = len(attempts)
	if v, ok := dompipeline.Lookup[validation.Verdict](c, dompipeline.KeyVerdict); ok {
		resp.ValidationMode = string(v.Mode)
	} else if len(attempts) > 0 {
		resp.ValidationMode = string(attempts[len(attempts)-1].Verdict.Mode)
	}

	if rs, ok := dompipeline.Lookup[resultset.ResultSet](c, dompipeline.KeyResults); ok {
		resp.Columns = rs.Columns
		if rs.Rows != nil {
			resp.Results = rs.Rows
		}
		resp.Truncated = rs.Truncated
	}
	resp.ExecutionTimeMS, _ = dompipeline.Lookup[float64](c, dompipeline.KeyExecutionTime)
	resp.Formatted, _ = dompipeline.Lookup[string](c, dompipeline.KeyFormatted)
	return resp
}

// failedAttempts returns the attempts of a failed synthesis, from the run
// error or, when a continue policy absorbed it, from the trace.
func failedAttempts(trace dompipeline.Trace, runErr error) []synthesis.Attempt {
	var genErr *domain.QueryGenerationFailed
	if errors.As(runErr, &genErr) {
		return genErr.Attempts
	}
	for i := len(trace) - 1; i >= 0; i-- {
		if errors.As(trace[i].Err, &genErr) {
			return genErr.Attempts
		}
	}
	return nil
}
