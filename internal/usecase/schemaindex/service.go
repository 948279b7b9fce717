package schemaindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/retrieval"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// Stats summarizes one Upsert or Sync.
type Stats struct {
	Total     int `json:"total"`
	Embedded  int `json:"embedded"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Removed   int `json:"removed"`
}

// Service owns the schema catalog and its embeddings.
// The catalog is a sync.Map of immutable records: an upsert swaps one element
// at a time and readers never observe a half-written element.
type Service struct {
	repo        Repository
	embedder    Embedder // nil: keyword retrieval only
	catalog     sync.Map // qualified name -> schema.Indexed
	concurrency int
	batchSize   int
	tieSlack    int
	logger      *zap.Logger
}

// New creates a schema index service. embedder may be nil.
func New(repo Repository, embedder Embedder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		embedder:    embedder,
		concurrency: 4,
		batchSize:   32,
		tieSlack:    8,
		logger:      logger,
	}
}

// WithConcurrency bounds parallel embedding calls.
func (s *Service) WithConcurrency(n int) *Service {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// WithBatchSize sets how many elements go to a batch embedder per call.
func (s *Service) WithBatchSize(n int) *Service {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// WithTieSlack sets how many extra candidates Nearest fetches to order boundary ties.
func (s *Service) WithTieSlack(n int) *Service {
	if n >= 0 {
		s.tieSlack = n
	}
	return s
}

// HasEmbedder reports whether semantic search is available.
func (s *Service) HasEmbedder() bool { return s.embedder != nil }

// Load warms the catalog from the repository.
func (s *Service) Load(ctx context.Context) error {
	recs, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schema index: %w", err)
	}
	for _, rec := range recs {
		s.catalog.Store(rec.Element.QualifiedName(), rec)
	}
	s.logger.Info("schema index loaded", zap.Int("elements", len(recs)))
	return nil
}

// Upsert embeds and stores every element whose content changed since it was
// last indexed. An embedder implementing domain.BatchEmbedder receives the
// stale elements in batches; a failed batch fails each of its elements.
// Elements that fail to embed are stored without a vector and reported
// through *domain.EmbeddingError; the caller decides if that is fatal.
func (s *Service) Upsert(ctx context.Context, elements []schema.Element) (Stats, error) {
	stats := Stats{Total: len(elements)}

	stale := make([]schema.Element, 0, len(elements))
	for _, e := range elements {
		if prev, ok := s.lookup(e.QualifiedName()); ok && !s.needsWork(prev, e) {
			stats.Unchanged++
			continue
		}
		stale = append(stale, e)
	}
	if len(stale) == 0 {
		return stats, nil
	}

	var (
		mu       sync.Mutex
		failed   []string
		firstErr error
		embedded atomic.Int64
		halted   atomic.Bool
	)
	fail := func(batch []schema.Element, err error) {
		if errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
			halted.Store(true)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, e := range batch {
			failed = append(failed, e.QualifiedName())
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, batch := range s.batches(stale) {
		g.Go(func() error {
			var vecs [][]float32
			if s.embedder != nil {
				if halted.Load() {
					fail(batch, nil)
				} else if v, err := s.embedBatch(gctx, batch); err == nil {
					vecs = v
					embedded.Add(int64(len(batch)))
				} else if gctx.Err() != nil {
					return gctx.Err()
				} else {
					fail(batch, err)
				}
			}

			for i, e := range batch {
				rec := schema.Indexed{Element: e.WithoutEmbedding(), Hash: e.ContentHash()}
				if vecs != nil {
					rec.Element = rec.Element.WithEmbedding(vecs[i])
				}
				if err := s.repo.Put(gctx, rec); err != nil {
					return fmt.Errorf("store %s: %w", e.QualifiedName(), err)
				}
				s.catalog.Store(e.QualifiedName(), rec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("upsert schema elements: %w", err)
	}

	stats.Embedded = int(embedded.Load())
	stats.Failed = len(failed)
	if len(failed) > 0 {
		sort.Strings(failed)
		s.logger.Warn("schema elements stored without embedding",
			zap.Int("failed", len(failed)), zap.Error(firstErr))
		return stats, &domain.EmbeddingError{Failed: len(failed), Elements: failed, Err: firstErr}
	}
	return stats, nil
}

// Sync upserts elements and removes indexed elements absent from the listing.
// An *domain.EmbeddingError from the upsert is returned after pruning.
func (s *Service) Sync(ctx context.Context, elements []schema.Element) (Stats, error) {
	stats, upsertErr := s.Upsert(ctx, elements)
	var embErr *domain.EmbeddingError
	if upsertErr != nil && !errors.As(upsertErr, &embErr) {
		return stats, upsertErr
	}

	keep := make(map[string]bool, len(elements))
	for _, e := range elements {
		keep[e.QualifiedName()] = true
	}
	var removed []string
	s.catalog.Range(func(k, _ any) bool {
		if name := k.(string); !keep[name] {
			removed = append(removed, name)
		}
		return true
	})
	if len(removed) > 0 {
		sort.Strings(removed)
		if err := s.repo.Delete(ctx, removed...); err != nil {
			return stats, fmt.Errorf("prune schema elements: %w", err)
		}
		for _, name := range removed {
			s.catalog.Delete(name)
		}
		stats.Removed = len(removed)
	}
	return stats, upsertErr
}

// Reindex lists elements from src, fills missing descriptions and syncs.
func (s *Service) Reindex(ctx context.Context, src SchemaSource) (Stats, error) {
	elements, err := src.ListElements(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list schema elements: %w", err)
	}
	for i, e := range elements {
		if e.Description() == "" {
			elements[i] = e.WithDescription(src.Describe(e))
		}
	}
	return s.Sync(ctx, elements)
}

// Nearest returns at most k elements with similarity >= minSimilarity,
// ordered by score desc then qualified name asc. kinds restricts the element
// kinds considered; empty means all.
func (s *Service) Nearest(
	ctx context.Context, vector []float32, k int, minSimilarity float64, kinds []schema.Kind,
) ([]retrieval.Match, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}

	hits, err := s.repo.Search(ctx, vector, k+s.tieSlack, kinds)
	if err != nil {
		return nil, fmt.Errorf("nearest: %w", err)
	}

	allowed := make(map[schema.Kind]bool, len(kinds))
	for _, kd := range kinds {
		allowed[kd] = true
	}

	matches := make([]retrieval.Match, 0, len(hits))
	for _, h := range hits {
		if h.Score < minSimilarity {
			continue
		}
		rec, ok := s.lookup(h.Name)
		if !ok {
			continue
		}
		if len(allowed) > 0 && !allowed[rec.Element.Kind()] {
			continue
		}
		matches = append(matches, retrieval.Match{Element: rec.Element, Score: h.Score})
	}
	return retrieval.Rank(matches, k), nil
}

// Elements returns a snapshot of the catalog sorted by qualified name.
func (s *Service) Elements() []schema.Element {
	var out []schema.Element
	s.catalog.Range(func(_, v any) bool {
		out = append(out, v.(schema.Indexed).Element)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName() < out[j].QualifiedName() })
	return out
}

// Element returns a catalog element by qualified name.
func (s *Service) Element(name string) (schema.Element, bool) {
	rec, ok := s.lookup(name)
	return rec.Element, ok
}

// Len returns the number of indexed elements.
func (s *Service) Len() int {
	n := 0
	s.catalog.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Service) lookup(name string) (schema.Indexed, bool) {
	v, ok := s.catalog.Load(name)
	if !ok {
		return schema.Indexed{}, false
	}
	return v.(schema.Indexed), true
}

// needsWork reports whether e must be written again: its content changed, or
// it is still missing an embedding that could now be computed.
func (s *Service) needsWork(prev schema.Indexed, e schema.Element) bool {
	if s.embedder == nil {
		return prev.Hash != e.ContentHash()
	}
	return prev.Stale(e)
}

// batches splits elements into embedding batches: batchSize elements for a
// batch embedder, one otherwise.
func (s *Service) batches(elements []schema.Element) [][]schema.Element {
	size := 1
	if _, ok := s.embedder.(domain.BatchEmbedder); ok {
		size = s.batchSize
	}
	out := make([][]schema.Element, 0, (len(elements)+size-1)/size)
	for len(elements) > size {
		out = append(out, elements[:size:size])
		elements = elements[size:]
	}
	return append(out, elements)
}

// embedBatch returns one vector per element of batch.
func (s *Service) embedBatch(ctx context.Context, batch []schema.Element) ([][]float32, error) {
	be, ok := s.embedder.(domain.BatchEmbedder)
	if !ok || len(batch) == 1 {
		vec, err := s.embed(ctx, batch[0])
		if err != nil {
			return nil, err
		}
		return [][]float32{vec}, nil
	}

	texts := make([]string, len(batch))
	for i, e := range batch {
		texts[i] = e.EmbeddingText()
	}
	res, err := be.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d elements from %s: %w", len(batch), batch[0].QualifiedName(), err)
	}
	if len(res.Embeddings) != len(batch) {
		return nil, fmt.Errorf("embed %d elements: got %d vectors: %w",
			len(batch), len(res.Embeddings), domain.ErrEmbeddingProviderError)
	}
	for i, vec := range res.Embeddings {
		if len(vec) == 0 {
			return nil, fmt.Errorf("embed %s: empty vector: %w", batch[i].QualifiedName(), domain.ErrEmbeddingProviderError)
		}
	}
	return res.Embeddings, nil
}

func (s *Service) embed(ctx context.Context, e schema.Element) ([]float32, error) {
	res, err := s.embedder.Embed(ctx, e.EmbeddingText())
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", e.QualifiedName(), err)
	}
	if len(res.Embedding) == 0 {
		return nil, fmt.Errorf("embed %s: empty vector: %w", e.QualifiedName(), domain.ErrEmbeddingProviderError)
	}
	return res.Embedding, nil
}
