package synthesis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/domain/synthesis"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
	"github.com/kailas-cloud/askdb/internal/metrics"
)

const emptyQueryDetail = "no query found in model output"

// Options tune one synthesis.
type Options struct {
	Mode       validation.Mode
	MaxRetries int // corrective attempts after the first
	Completion domain.CompletionOptions
}

// Service turns an assembled prompt into a validated query.
type Service struct {
	llm       Completer
	validator Validator
	logger    *zap.Logger
}

// New creates a synthesis service.
func New(llm Completer, validator Validator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{llm: llm, validator: validator, logger: logger}
}

// Synthesize calls the model at most MaxRetries+1 times. Each rejected
// candidate is fed back with its violations. When attempts run out it returns
// *domain.QueryGenerationFailed carrying every attempt. Model errors and
// cancellation abort the loop immediately.
func (s *Service) Synthesize(
	ctx context.Context, prompt string, subset schema.Subset, opts Options,
) (synthesis.Result, error) {
	if opts.Mode == "" {
		opts.Mode = validation.ModeFull
	}
	m := newMachine(prompt, opts.MaxRetries)

	for {
		switch m.state {
		case stateDrafting:
			if err := ctx.Err(); err != nil {
				return synthesis.Result{}, fmt.Errorf("synthesis cancelled: %w", err)
			}
			out, err := s.llm.Complete(ctx, m.prompt, opts.Completion)
			if err != nil {
				return synthesis.Result{}, fmt.Errorf("attempt %d: %w", len(m.attempts)+1, err)
			}
			if err := m.drafted(out.Text); err != nil {
				return synthesis.Result{}, err
			}

		case stateValidating:
			if err := m.validated(s.judge(m.pending.Query, subset, opts.Mode)); err != nil {
				return synthesis.Result{}, err
			}
			last := m.last()
			s.logger.Debug("candidate judged",
				zap.Int("attempt", last.Number),
				zap.Bool("valid", last.Verdict.Valid),
				zap.String("verdict", last.Verdict.Summary()),
			)

		case stateCorrecting:
			if err := m.correct(); err != nil {
				return synthesis.Result{}, err
			}

		case stateAccepted:
			metrics.SynthesisAttempts.WithLabelValues("accepted").Observe(float64(len(m.attempts)))
			return synthesis.Result{Query: m.last().Query, Attempts: m.attempts, Mode: opts.Mode}, nil

		case stateExhausted:
			metrics.SynthesisAttempts.WithLabelValues("exhausted").Observe(float64(len(m.attempts)))
			s.logger.Warn("query generation exhausted",
				zap.Int("attempts", len(m.attempts)),
				zap.String("last_verdict", m.last().Verdict.Summary()),
			)
			return synthesis.Result{}, &domain.QueryGenerationFailed{Attempts: m.attempts}
		}
	}
}

// judge never accepts an empty candidate, whatever the mode. NONE accepts
// anything else without consulting the validator.
func (s *Service) judge(query string, subset schema.Subset, mode validation.Mode) validation.Verdict {
	if query == "" {
		return validation.Reject(mode, validation.Violation{Kind: validation.SyntaxError, Detail: emptyQueryDetail})
	}
	if mode == validation.ModeNone {
		return validation.Accept(mode)
	}
	return s.validator.Validate(query, subset, mode)
}
