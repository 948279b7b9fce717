package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/metrics"
)

// RunOptions select stages and seed the context for one run.
type RunOptions struct {
	RunID          string
	Inputs         map[pipeline.Key]any // merged over the pipeline's initial context
	SelectedStages []string             // empty: every stage
}

// Result is the context and trace of a run, complete or partial.
type Result struct {
	Context *pipeline.Context
	Trace   pipeline.Trace
	Stopped string // stop message, when a stop condition ended the run
}

// Run executes the stages in order. On a fail policy it returns the partial
// result with a *domain.StageError. A stop condition ends the run with an
// error wrapping domain.ErrRunStopped. Cancellation is checked before every
// stage and every stage retry.
func (p *Pipeline) Run(ctx context.Context, question string, opts RunOptions) (Result, error) {
	inputs := make(map[pipeline.Key]any, len(p.initial)+len(opts.Inputs)+1)
	for k, v := range p.initial {
		inputs[k] = v
	}
	for k, v := range opts.Inputs {
		inputs[k] = v
	}
	inputs[pipeline.KeyQuestion] = question

	res := Result{Context: pipeline.NewContext(inputs)}
	log := p.logger.With(zap.String("run_id", opts.RunID))

	err := p.run(ctx, log, &res, opts)
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRunStopped):
		status = "stopped"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	default:
		status = "failed"
	}
	metrics.PipelineRunsTotal.WithLabelValues(p.id, status).Inc()
	return res, err
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, res *Result, opts RunOptions) error {
	for _, st := range p.stages {
		if err := ctx.Err(); err != nil {
			log.Info("run cancelled", zap.String("stage_id", st.id), zap.Error(err))
			return fmt.Errorf("run cancelled before stage %q: %w", st.id, err)
		}

		if reason, skip := p.skipReason(st, res.Context, opts.SelectedStages); skip {
			res.Trace = append(res.Trace, pipeline.StageOutcome{StageID: st.id, Status: pipeline.StatusSkipped, Reason: reason})
			p.observe(st, pipeline.StatusSkipped, 0)
			log.Debug("stage skipped", zap.String("stage_id", st.id), zap.String("reason", reason))
			continue
		}

		outcome, err := p.execute(ctx, log, st, res.Context)
		res.Trace = append(res.Trace, outcome)
		if err != nil {
			return err
		}

		for _, stop := range st.stops {
			hit, err := stop.eval(res.Context)
			if err != nil {
				log.Warn("stop condition failed to evaluate", zap.String("stage_id", st.id), zap.Error(err))
				continue
			}
			if hit {
				res.Stopped = stop.message
				log.Info("run stopped", zap.String("stage_id", st.id), zap.String("message", stop.message))
				return fmt.Errorf("after stage %q: %w: %s", st.id, domain.ErrRunStopped, stop.message)
			}
		}
	}
	return nil
}

func (p *Pipeline) skipReason(st *stage, pc *pipeline.Context, selected []string) (string, bool) {
	if st.disabled {
		return "disabled", true
	}
	if len(selected) > 0 && !slices.Contains(selected, st.id) {
		return "not selected", true
	}
	if st.when != nil {
		ok, err := st.when.eval(pc)
		if err != nil {
			return "condition error: " + err.Error(), true
		}
		if !ok {
			return "condition false: " + st.when.String(), true
		}
	}
	return "", false
}

// execute runs st under its policy. The returned error is non-nil only when
// the run must abort.
func (p *Pipeline) execute(ctx context.Context, log *zap.Logger, st *stage, pc *pipeline.Context) (pipeline.StageOutcome, error) {
	log = log.With(zap.String("stage_id", st.id), zap.String("policy", string(st.policy)))
	start := time.Now()

	attempts := 1
	if st.policy == pipeline.PolicyRetry {
		attempts = st.retry.maxAttempts
	}

	var err error
	n := 0
	for n < attempts {
		n++
		log.Debug("stage started", zap.Int("attempt", n))
		err = p.attempt(ctx, st, pc)
		if err == nil || n == attempts || ctx.Err() != nil {
			break
		}
		log.Warn("stage failed, retrying", zap.Int("attempt", n), zap.Error(err))
		if serr := wait(ctx, st.retry.delay); serr != nil {
			err = errors.Join(err, serr)
			break
		}
	}

	elapsed := time.Since(start)
	outcome := pipeline.StageOutcome{StageID: st.id, Duration: elapsed, Attempts: n}
	if err == nil {
		outcome.Status = pipeline.StatusSuccess
		p.observe(st, pipeline.StatusSuccess, elapsed)
		log.Debug("stage finished", zap.Duration("duration", elapsed))
		return outcome, nil
	}

	outcome.Status = pipeline.StatusFailed
	outcome.Err = err
	outcome.Error = err.Error()
	p.observe(st, pipeline.StatusFailed, elapsed)

	effective := st.policy
	if effective == pipeline.PolicyRetry {
		effective = st.retry.fallback
	}
	if ctx.Err() != nil {
		effective = pipeline.PolicyFail
	}
	if effective == pipeline.PolicyContinue {
		log.Warn("stage failed, continuing", zap.Int("attempts", n), zap.Error(err))
		return outcome, nil
	}
	log.Error("stage failed, aborting run", zap.Int("attempts", n), zap.Error(err))
	return outcome, &domain.StageError{StageID: st.id, Policy: string(effective), Err: err}
}

// attempt resolves inputs, runs the component and writes declared outputs.
// Nothing is written when the component fails or returns an undeclared output.
func (p *Pipeline) attempt(ctx context.Context, st *stage, pc *pipeline.Context) (err error) {
	in := make(Values, len(st.inputs))
	for _, b := range st.inputs {
		v, ok := pc.Get(b.key)
		if !ok {
			if b.optional {
				continue
			}
			return fmt.Errorf("%w: %q (context key %q)", domain.ErrMissingInput, b.port, b.key)
		}
		in[b.port] = v
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("component panicked: %v", r)
		}
	}()

	out, err := st.component.Run(ctx, in)
	if err != nil {
		return err
	}
	for port := range out {
		if _, ok := st.declared[port]; !ok {
			return fmt.Errorf("component wrote undeclared output %q", port)
		}
	}
	for _, b := range st.outputs {
		if v, ok := out[b.port]; ok {
			pc.Set(b.key, v, st.id)
		}
	}
	return nil
}

func (p *Pipeline) observe(st *stage, status pipeline.Status, d time.Duration) {
	metrics.StageOutcomesTotal.WithLabelValues(p.id, st.id, string(status)).Inc()
	if status != pipeline.StatusSkipped {
		metrics.StageDuration.WithLabelValues(p.id, st.id).Observe(d.Seconds())
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
