package schemaindex

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/askdb/internal/db"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

func TestRedis_EnsureIndex_Creates(t *testing.T) {
	ms := &mockStore{}
	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := NewRedis(ms, "askdb:").EnsureIndex(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected CreateIndex call")
	}
	want := "FT.CREATE askdb:schema:idx ON HASH PREFIX askdb:schema:el: SCHEMA kind TAG vector VECTOR HNSW"
	if got := created.String(); got != want {
		t.Errorf("unexpected definition:\ngot:  %s\nwant: %s", got, want)
	}
	if created.Fields[1].VectorDim != 3 || created.Fields[1].VectorDistance != db.DistanceCosine {
		t.Errorf("unexpected vector field %+v", created.Fields[1])
	}
}

func TestRedis_EnsureIndex_Exists(t *testing.T) {
	ms := &mockStore{}
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return true, nil }
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		t.Error("CreateIndex must not be called for an existing index")
		return nil
	}

	if err := NewRedis(ms, "askdb:").EnsureIndex(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRedis_EnsureIndex_RaceIsIgnored(t *testing.T) {
	ms := &mockStore{}
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		return &db.Error{Op: db.OpCreateIndex, Err: db.ErrIndexExists}
	}

	if err := NewRedis(ms, "askdb:").EnsureIndex(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRedis_Put_WithEmbedding(t *testing.T) {
	ms := &mockStore{}
	var gotKey string
	var gotFields map[string]string
	ms.hsetFn = func(_ context.Context, key string, fields map[string]string) error {
		gotKey, gotFields = key, fields
		return nil
	}
	ms.delFn = func(_ context.Context, _ ...string) error {
		t.Error("Del must not be called for an embedded element")
		return nil
	}

	rec := indexed(schema.KindTable, "customers", "", 1, 0)
	if err := NewRedis(ms, "askdb:").Put(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "askdb:schema:el:customers" {
		t.Errorf("unexpected key %q", gotKey)
	}
	if gotFields["kind"] != "TABLE" || gotFields["hash"] != rec.Hash {
		t.Errorf("unexpected fields %v", gotFields)
	}
	if len(gotFields["vector"]) != 8 {
		t.Errorf("expected 8-byte vector blob, got %d bytes", len(gotFields["vector"]))
	}
}

func TestRedis_Put_WithoutEmbeddingDropsStaleVector(t *testing.T) {
	ms := &mockStore{}
	var calls []string
	ms.delFn = func(_ context.Context, keys ...string) error {
		calls = append(calls, "del:"+keys[0])
		return nil
	}
	ms.hsetFn = func(_ context.Context, key string, fields map[string]string) error {
		if _, ok := fields["vector"]; ok {
			t.Error("vector field must be omitted")
		}
		calls = append(calls, "hset:"+key)
		return nil
	}

	if err := NewRedis(ms, "askdb:").Put(context.Background(), indexed(schema.KindTable, "orders", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "del:askdb:schema:el:orders" || calls[1] != "hset:askdb:schema:el:orders" {
		t.Errorf("unexpected call order %v", calls)
	}
}

func TestRedis_Load_RoundTrip(t *testing.T) {
	recs := []schema.Indexed{
		indexed(schema.KindTable, "customers", "", 0.5, 0.25),
		indexed(schema.KindColumn, "name", "customers"),
	}
	ms := &mockStore{}
	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "askdb:schema:el:*" {
			t.Errorf("unexpected pattern %q", pattern)
		}
		return []string{"askdb:schema:el:customers", "askdb:schema:el:gone", "askdb:schema:el:customers.name"}, nil
	}
	ms.hgetAllMultiFn = func(_ context.Context, _ []string) ([]map[string]string, error) {
		return []map[string]string{toHash(recs[0]), {}, toHash(recs[1])}, nil
	}

	got, err := NewRedis(ms, "askdb:").Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Element.QualifiedName() != "customers" || got[0].Hash != recs[0].Hash {
		t.Errorf("unexpected first record %+v", got[0])
	}
	if v := got[0].Element.Embedding(); len(v) != 2 || v[0] != 0.5 || v[1] != 0.25 {
		t.Errorf("unexpected vector %v", v)
	}
	if got[1].Element.Parent() != "customers" || got[1].Element.HasEmbedding() {
		t.Errorf("unexpected column record %+v", got[1].Element)
	}
}

func TestRedis_Load_BadRecord(t *testing.T) {
	ms := &mockStore{}
	ms.scanFn = func(_ context.Context, _ string) ([]string, error) { return []string{"k"}, nil }
	ms.hgetAllMultiFn = func(_ context.Context, _ []string) ([]map[string]string, error) {
		return []map[string]string{{"kind": "INDEX", "name": "x"}}, nil
	}

	if _, err := NewRedis(ms, "askdb:").Load(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedis_Search_KindFilter(t *testing.T) {
	ms := &mockStore{}
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "askdb:schema:idx" || q.K != 7 {
			t.Errorf("unexpected query %+v", q)
		}
		if len(q.Tags) != 1 || q.Tags[0].Field != "kind" || len(q.Tags[0].Values) != 2 {
			t.Errorf("unexpected tags %+v", q.Tags)
		}
		return &db.SearchResult{Total: 2, Entries: []db.SearchEntry{
			{Key: "askdb:schema:el:customers", Score: 0.9, Fields: map[string]string{"name": "customers"}},
			{Key: "askdb:schema:el:broken", Score: 0.8, Fields: map[string]string{}},
		}}, nil
	}

	hits, err := NewRedis(ms, "askdb:").Search(context.Background(), []float32{1}, 7,
		[]schema.Kind{schema.KindTable, schema.KindView})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].Name != "customers" || hits[0].Score != 0.9 {
		t.Errorf("unexpected hits %+v", hits)
	}
}

func TestRedis_Search_Error(t *testing.T) {
	ms := &mockStore{}
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, &db.Error{Op: db.OpSearch, Err: db.ErrIndexNotFound}
	}

	_, err := NewRedis(ms, "askdb:").Search(context.Background(), []float32{1}, 3, nil)
	if !errors.Is(err, db.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestRedis_Delete(t *testing.T) {
	ms := &mockStore{}
	var got []string
	ms.delFn = func(_ context.Context, keys ...string) error {
		got = keys
		return nil
	}

	if err := NewRedis(ms, "askdb:").Delete(context.Background(), "a", "b.c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "askdb:schema:el:a" || got[1] != "askdb:schema:el:b.c" {
		t.Errorf("unexpected keys %v", got)
	}
}
