package schemaindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/askdb/internal/db"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// redisStore is the consumer interface for the Redis backend (ISP).
type redisStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Redis stores one HASH per element and searches them with FT.SEARCH KNN.
type Redis struct {
	store  redisStore
	prefix string
	hnsw   HNSWConfig
}

// NewRedis creates a Redis/Valkey backend. keyPrefix namespaces all keys (e.g. "askdb:").
func NewRedis(s redisStore, keyPrefix string) *Redis {
	return &Redis{store: s, prefix: keyPrefix, hnsw: HNSWConfig{M: 16, EFConstruct: 200}}
}

// WithHNSW configures HNSW index parameters.
func (r *Redis) WithHNSW(cfg HNSWConfig) *Redis {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// EnsureIndex creates the vector index unless it already exists.
func (r *Redis) EnsureIndex(ctx context.Context, dim int) error {
	exists, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return fmt.Errorf("check index exists: %w", err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(r.indexName()).
		Prefix(r.elementPrefix()).
		Tag(fieldKind).
		VectorHNSW(fieldVector, dim, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Put writes one element. HSET only adds fields, so an element that lost its
// embedding is deleted first to drop the stale vector.
func (r *Redis) Put(ctx context.Context, rec schema.Indexed) error {
	key := r.elementKey(rec.Element.QualifiedName())
	if !rec.Element.HasEmbedding() {
		if err := r.store.Del(ctx, key); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
	}
	if err := r.store.HSet(ctx, key, toHash(rec)); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// Delete removes elements by qualified name.
func (r *Redis) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = r.elementKey(n)
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("del elements: %w", err)
	}
	return nil
}

// Load reads every stored element.
func (r *Redis) Load(ctx context.Context) ([]schema.Indexed, error) {
	keys, err := r.store.Scan(ctx, r.elementPrefix()+"*")
	if err != nil {
		return nil, fmt.Errorf("scan elements: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi elements: %w", err)
	}

	out := make([]schema.Indexed, 0, len(hashes))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		rec, err := fromHash(m)
		if err != nil {
			return nil, fmt.Errorf("parse element %s: %w", keys[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Search returns up to k nearest elements, optionally restricted to kinds.
func (r *Redis) Search(ctx context.Context, vector []float32, k int, kinds []schema.Kind) ([]schema.Hit, error) {
	q := &db.KNNQuery{
		IndexName:    r.indexName(),
		VectorField:  fieldVector,
		Vector:       vector,
		K:            k,
		ReturnFields: []string{fieldName},
	}
	if len(kinds) > 0 {
		q.Tags = []db.TagFilter{{Field: fieldKind, Values: kindStrings(kinds)}}
	}

	res, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	hits := make([]schema.Hit, 0, len(res.Entries))
	for _, e := range res.Entries {
		name := e.Fields[fieldName]
		if name == "" {
			continue
		}
		hits = append(hits, schema.Hit{Name: name, Score: e.Score})
	}
	return hits, nil
}

// Key patterns: askdb:schema:el:{name}, askdb:schema:idx

func (r *Redis) elementKey(name string) string {
	return r.elementPrefix() + name
}

func (r *Redis) elementPrefix() string {
	return r.prefix + "schema:el:"
}

func (r *Redis) indexName() string {
	return r.prefix + "schema:idx"
}
