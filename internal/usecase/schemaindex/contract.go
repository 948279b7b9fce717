package schemaindex

import (
	"context"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// Repository persists indexed elements and answers vector queries.
type Repository interface {
	EnsureIndex(ctx context.Context, dim int) error
	Put(ctx context.Context, rec schema.Indexed) error
	Delete(ctx context.Context, names ...string) error
	Load(ctx context.Context) ([]schema.Indexed, error)
	Search(ctx context.Context, vector []float32, k int, kinds []schema.Kind) ([]schema.Hit, error)
}

// Embedder vectorizes element descriptions.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// SchemaSource lists the structural elements of a data store.
type SchemaSource interface {
	ListElements(ctx context.Context) ([]schema.Element, error)
	Describe(e schema.Element) string
}
