package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/retrieval"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/metrics"
)

// Options tune one retrieval.
type Options struct {
	MaxTables            int
	SimilarityThreshold  float64
	IncludeColumnMatches bool
	RelaxThresholdFactor float64 // multiplies the threshold on each relax attempt
	RelaxAttempts        int
}

// Service finds the schema elements relevant to a question.
type Service struct {
	index    Index
	embedder Embedder // nil: keyword matching only
	logger   *zap.Logger
}

// New creates a retrieval service. embedder may be nil.
func New(index Index, embedder Embedder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, embedder: embedder, logger: logger}
}

// Retrieve never fails: when semantic search is unavailable or finds nothing
// above the threshold, keyword overlap ranks the elements instead.
func (s *Service) Retrieve(ctx context.Context, question string, opts Options) retrieval.Result {
	res := retrieval.Result{QueryText: question, ThresholdUsed: opts.SimilarityThreshold}

	var kinds []schema.Kind
	if !opts.IncludeColumnMatches {
		kinds = schema.SourceKinds()
	}

	matches, err := s.semantic(ctx, question, opts, kinds, &res)
	if err != nil {
		res.DegradedReason = err.Error()
		s.logger.Warn("semantic retrieval degraded, using keyword matching",
			zap.Error(fmt.Errorf("%w: %w", domain.ErrRetrievalDegraded, err)))
	}
	if len(matches) > 0 {
		res.Matches = matches
		return res
	}

	reason := "no_match"
	if res.DegradedReason != "" {
		reason = "degraded"
	}
	metrics.RetrievalFallbackTotal.WithLabelValues(reason).Inc()

	res.FallbackUsed = true
	res.Matches = keywordMatches(question, s.pool(opts.IncludeColumnMatches), opts.MaxTables)
	return res
}

func (s *Service) semantic(
	ctx context.Context, question string, opts Options, kinds []schema.Kind, res *retrieval.Result,
) ([]retrieval.Match, error) {
	if s.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	emb, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	threshold := opts.SimilarityThreshold
	for attempt := 0; ; attempt++ {
		res.ThresholdUsed = threshold
		matches, err := s.index.Nearest(ctx, emb.Embedding, opts.MaxTables, threshold, kinds)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 || attempt >= opts.RelaxAttempts || opts.RelaxThresholdFactor <= 0 {
			return matches, nil
		}
		threshold *= opts.RelaxThresholdFactor
		s.logger.Debug("relaxing similarity threshold", zap.Float64("threshold", threshold))
	}
}

func (s *Service) pool(includeColumns bool) []schema.Element {
	all := s.index.Elements()
	if includeColumns {
		return all
	}
	out := make([]schema.Element, 0, len(all))
	for _, e := range all {
		if !e.Kind().IsAttribute() {
			out = append(out, e)
		}
	}
	return out
}

// Subset expands matches into the sources they belong to, each with every
// attribute the index knows for it.
func (s *Service) Subset(res retrieval.Result) schema.Subset {
	sources := make(map[string]bool)
	for _, m := range res.Matches {
		e := m.Element
		if e.Kind().IsAttribute() {
			if e.Parent() != "" {
				sources[strings.ToLower(e.Parent())] = true
			}
			continue
		}
		sources[strings.ToLower(e.QualifiedName())] = true
	}
	if len(sources) == 0 {
		return schema.NewSubset()
	}

	var elements []schema.Element
	for _, e := range s.index.Elements() {
		switch {
		case e.Kind().IsAttribute() && sources[strings.ToLower(e.Parent())]:
			elements = append(elements, e)
		case !e.Kind().IsAttribute() && sources[strings.ToLower(e.QualifiedName())]:
			elements = append(elements, e)
		}
	}
	return schema.NewSubset(elements...)
}
