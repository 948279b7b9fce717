package retrieval

import (
	"context"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/retrieval"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// Index is the read side of the schema index.
type Index interface {
	Nearest(ctx context.Context, vector []float32, k int, minSimilarity float64, kinds []schema.Kind) ([]retrieval.Match, error)
	Elements() []schema.Element
}

// Embedder vectorizes the question.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
