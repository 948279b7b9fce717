//go:build integration

package schemaindex

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/testutil"
)

var pgDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()
	dsn, terminate, err := testutil.StartPostgres(ctx)
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}
	pgDSN = dsn

	code := m.Run()

	if err := terminate(ctx); err != nil {
		log.Printf("error tearing down postgres container: %v", err)
	}
	os.Exit(code)
}

func TestPgvector_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p, err := OpenPgvector(pgDSN, "")
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.EnsureIndex(ctx, 2))
	require.NoError(t, p.EnsureIndex(ctx, 2), "EnsureIndex must be idempotent")

	for _, rec := range []schema.Indexed{
		indexed(schema.KindTable, "orders", "", 1, 0),
		indexed(schema.KindTable, "customers", "", 0.6, 0.8),
		indexed(schema.KindTable, "pending", ""),
		indexed(schema.KindColumn, "id", "orders", 1, 0),
	} {
		require.NoError(t, p.Put(ctx, rec))
	}

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 4)
	require.Equal(t, "customers", loaded[0].Element.QualifiedName())
	require.InDeltaSlice(t, []float32{0.6, 0.8}, loaded[0].Element.Embedding(), 1e-6)
	require.False(t, loaded[3].Element.HasEmbedding(), "pending has no embedding")

	hits, err := p.Search(ctx, []float32{1, 0}, 5, []schema.Kind{schema.KindTable})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "orders", hits[0].Name)
	require.InDelta(t, 1.0, hits[0].Score, 1e-6)
	require.InDelta(t, 0.6, hits[1].Score, 1e-6)

	require.NoError(t, p.Put(ctx, indexed(schema.KindTable, "orders", "")))
	hits, err = p.Search(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2, "orders lost its embedding, orders.id remains")

	require.NoError(t, p.Delete(ctx, "orders", "orders.id"))
	loaded, err = p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
}
