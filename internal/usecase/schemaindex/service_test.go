package schemaindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// --- Mocks ---

type memRepo struct {
	mu      sync.Mutex
	records map[string]schema.Indexed
	puts    int
	hits    []schema.Hit
	putErr  error
	gotK    int
	kinds   []schema.Kind
}

func newMemRepo() *memRepo { return &memRepo{records: map[string]schema.Indexed{}} }

func (m *memRepo) EnsureIndex(context.Context, int) error { return nil }

func (m *memRepo) Put(_ context.Context, rec schema.Indexed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.records[rec.Element.QualifiedName()] = rec
	return nil
}

func (m *memRepo) Delete(_ context.Context, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.records, n)
	}
	return nil
}

func (m *memRepo) Load(context.Context) ([]schema.Indexed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Indexed, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRepo) Search(_ context.Context, _ []float32, k int, kinds []schema.Kind) ([]schema.Hit, error) {
	m.gotK, m.kinds = k, kinds
	return m.hits, nil
}

type mockEmbedder struct {
	calls atomic.Int64
	fail  map[string]error // substring of text -> error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls.Add(1)
	for sub, err := range m.fail {
		if strings.Contains(text, sub) {
			return domain.EmbeddingResult{}, err
		}
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text)), 1}, TotalTokens: 3}, nil
}

// batchEmbedder records the size of every batch it receives.
type batchEmbedder struct {
	mockEmbedder
	mu    sync.Mutex
	sizes []int
	short bool // return one vector less than asked for
}

func (m *batchEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.mu.Lock()
	m.sizes = append(m.sizes, len(texts))
	m.mu.Unlock()
	out := domain.BatchEmbeddingResult{}
	for _, text := range texts {
		for sub, err := range m.fail {
			if strings.Contains(text, sub) {
				return domain.BatchEmbeddingResult{}, err
			}
		}
		out.Embeddings = append(out.Embeddings, []float32{float32(len(text)), 1})
	}
	if m.short {
		out.Embeddings = out.Embeddings[1:]
	}
	return out, nil
}

type staticSource struct {
	elements []schema.Element
}

func (s staticSource) ListElements(context.Context) ([]schema.Element, error) { return s.elements, nil }
func (s staticSource) Describe(e schema.Element) string                       { return Describe(e) }

func tables(names ...string) []schema.Element {
	out := make([]schema.Element, len(names))
	for i, n := range names {
		out[i] = schema.New(schema.KindTable, n, "", n+" table")
	}
	return out
}

// --- Tests ---

func TestUpsert_EmbedsOnlyChanged(t *testing.T) {
	repo, emb := newMemRepo(), &mockEmbedder{}
	svc := New(repo, emb, nil)
	ctx := context.Background()

	stats, err := svc.Upsert(ctx, tables("customers", "orders"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Embedded != 2 || emb.calls.Load() != 2 {
		t.Fatalf("expected 2 embeddings, got stats=%+v calls=%d", stats, emb.calls.Load())
	}

	changed := tables("customers", "orders")
	changed[1] = changed[1].WithDescription("purchase orders")
	stats, err = svc.Upsert(ctx, changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Unchanged != 1 || stats.Embedded != 1 {
		t.Errorf("expected 1 unchanged + 1 embedded, got %+v", stats)
	}
	if emb.calls.Load() != 3 {
		t.Errorf("expected one more embedding call, got %d total", emb.calls.Load())
	}
	e, _ := svc.Element("orders")
	if e.Description() != "purchase orders" || !e.HasEmbedding() {
		t.Errorf("unexpected element %+v", e)
	}
}

func TestUpsert_PartialEmbeddingFailure(t *testing.T) {
	repo := newMemRepo()
	emb := &mockEmbedder{fail: map[string]error{"orders": domain.ErrEmbeddingProviderError}}
	svc := New(repo, emb, nil)

	stats, err := svc.Upsert(context.Background(), tables("customers", "orders"))

	var embErr *domain.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if embErr.Failed != 1 || embErr.Elements[0] != "orders" {
		t.Errorf("unexpected embedding error %+v", embErr)
	}
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Error("expected provider error to be wrapped")
	}
	if stats.Embedded != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	e, ok := svc.Element("orders")
	if !ok || e.HasEmbedding() {
		t.Errorf("failed element must be stored without embedding, got %+v ok=%v", e, ok)
	}
	if len(repo.records) != 2 {
		t.Errorf("expected both elements persisted, got %d", len(repo.records))
	}

	emb.fail = nil
	stats, err = svc.Upsert(context.Background(), tables("customers", "orders"))
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if stats.Embedded != 1 || stats.Unchanged != 1 {
		t.Errorf("expected only the unembedded element to be retried, got %+v", stats)
	}
}

func TestUpsert_QuotaHaltsEmbedding(t *testing.T) {
	emb := &mockEmbedder{fail: map[string]error{"table": domain.ErrEmbeddingQuotaExceeded}}
	svc := New(newMemRepo(), emb, nil).WithConcurrency(1)

	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("t%02d", i)
	}
	_, err := svc.Upsert(context.Background(), tables(names...))

	var embErr *domain.EmbeddingError
	if !errors.As(err, &embErr) || embErr.Failed != 10 {
		t.Fatalf("expected all 10 elements to fail, got %v", err)
	}
	if emb.calls.Load() != 1 {
		t.Errorf("expected embedding to stop after quota error, got %d calls", emb.calls.Load())
	}
	if svc.Len() != 10 {
		t.Errorf("expected all elements in catalog, got %d", svc.Len())
	}
}

func TestUpsert_BatchEmbedder(t *testing.T) {
	emb := &batchEmbedder{}
	svc := New(newMemRepo(), emb, nil).WithBatchSize(4)

	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("t%02d", i)
	}
	stats, err := svc.Upsert(context.Background(), tables(names...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Embedded != 10 {
		t.Errorf("expected 10 embedded, got %+v", stats)
	}
	sort.Ints(emb.sizes)
	if fmt.Sprint(emb.sizes) != "[2 4 4]" {
		t.Errorf("unexpected batch sizes %v", emb.sizes)
	}
	if emb.calls.Load() != 0 {
		t.Errorf("single embedding used %d times", emb.calls.Load())
	}
	for _, n := range names {
		if e, ok := svc.Element(n); !ok || !e.HasEmbedding() {
			t.Errorf("%s not embedded", n)
		}
	}
}

func TestUpsert_BatchFailureFailsItsElements(t *testing.T) {
	emb := &batchEmbedder{mockEmbedder: mockEmbedder{fail: map[string]error{"t03": domain.ErrEmbeddingProviderError}}}
	svc := New(newMemRepo(), emb, nil).WithBatchSize(3).WithConcurrency(1)

	names := make([]string, 6)
	for i := range names {
		names[i] = fmt.Sprintf("t%02d", i)
	}
	stats, err := svc.Upsert(context.Background(), tables(names...))

	var embErr *domain.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if fmt.Sprint(embErr.Elements) != "[t03 t04 t05]" {
		t.Errorf("unexpected failed elements %v", embErr.Elements)
	}
	if stats.Embedded != 3 || stats.Failed != 3 || svc.Len() != 6 {
		t.Errorf("unexpected stats %+v len=%d", stats, svc.Len())
	}
}

func TestUpsert_BatchQuotaHaltsLaterBatches(t *testing.T) {
	emb := &batchEmbedder{mockEmbedder: mockEmbedder{fail: map[string]error{"table": domain.ErrEmbeddingQuotaExceeded}}}
	svc := New(newMemRepo(), emb, nil).WithBatchSize(2).WithConcurrency(1)

	_, err := svc.Upsert(context.Background(), tables("a", "b", "c", "d", "e", "f"))

	var embErr *domain.EmbeddingError
	if !errors.As(err, &embErr) || embErr.Failed != 6 {
		t.Fatalf("expected all 6 elements to fail, got %v", err)
	}
	if !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Error("expected quota error to be wrapped")
	}
	if len(emb.sizes) != 1 {
		t.Errorf("expected embedding to stop after the first batch, got %d batches", len(emb.sizes))
	}
}

func TestUpsert_BatchVectorCountMismatch(t *testing.T) {
	emb := &batchEmbedder{short: true}
	svc := New(newMemRepo(), emb, nil)

	stats, err := svc.Upsert(context.Background(), tables("customers", "orders"))
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if stats.Failed != 2 || stats.Embedded != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestUpsert_WithoutEmbedder(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, nil, nil)

	stats, err := svc.Upsert(context.Background(), tables("customers"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Embedded != 0 || svc.Len() != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	stats, _ = svc.Upsert(context.Background(), tables("customers"))
	if stats.Unchanged != 1 || repo.puts != 1 {
		t.Errorf("unchanged element must not be rewritten: %+v puts=%d", stats, repo.puts)
	}
}

func TestUpsert_RepoError(t *testing.T) {
	repo := newMemRepo()
	repo.putErr = errors.New("connection refused")
	svc := New(repo, &mockEmbedder{}, nil)

	_, err := svc.Upsert(context.Background(), tables("customers"))
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected repo error, got %v", err)
	}
	var embErr *domain.EmbeddingError
	if errors.As(err, &embErr) {
		t.Error("storage failure must not be reported as an embedding error")
	}
}

func TestSync_RemovesAbsent(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, &mockEmbedder{}, nil)
	ctx := context.Background()

	if _, err := svc.Sync(ctx, tables("a", "b", "c")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats, err := svc.Sync(ctx, tables("a", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Removed != 1 {
		t.Errorf("expected 1 removed, got %+v", stats)
	}
	if _, ok := svc.Element("b"); ok {
		t.Error("b must be pruned from the catalog")
	}
	if _, ok := repo.records["b"]; ok {
		t.Error("b must be pruned from the repository")
	}
}

func TestSync_PrunesDespiteEmbeddingError(t *testing.T) {
	emb := &mockEmbedder{}
	svc := New(newMemRepo(), emb, nil)
	ctx := context.Background()
	_, _ = svc.Sync(ctx, tables("a", "b"))

	emb.fail = map[string]error{"table": domain.ErrEmbeddingProviderError}
	stats, err := svc.Sync(ctx, tables("a", "c"))

	var embErr *domain.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if stats.Removed != 1 || svc.Len() != 2 {
		t.Errorf("expected b pruned, got %+v len=%d", stats, svc.Len())
	}
}

func TestReindex_FillsDescriptions(t *testing.T) {
	svc := New(newMemRepo(), nil, nil)
	src := staticSource{elements: []schema.Element{
		schema.New(schema.KindTable, "order_items", "", ""),
		schema.NewColumn(schema.KindColumn, "order_items", "unit_price", "numeric", ""),
	}}

	if _, err := svc.Reindex(context.Background(), src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tbl, _ := svc.Element("order_items")
	if tbl.Description() != "table of order items" {
		t.Errorf("unexpected table description %q", tbl.Description())
	}
	col, _ := svc.Element("order_items.unit_price")
	if col.Description() != "column unit price of order_items (numeric)" {
		t.Errorf("unexpected column description %q", col.Description())
	}
}

func TestLoad_WarmsCatalog(t *testing.T) {
	repo := newMemRepo()
	e := schema.New(schema.KindTable, "customers", "", "").WithEmbedding([]float32{1})
	repo.records["customers"] = schema.Indexed{Element: e, Hash: e.ContentHash()}

	emb := &mockEmbedder{}
	svc := New(repo, emb, nil)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats, _ := svc.Upsert(context.Background(), []schema.Element{schema.New(schema.KindTable, "customers", "", "")})
	if stats.Unchanged != 1 || emb.calls.Load() != 0 {
		t.Errorf("loaded element must not be re-embedded: %+v calls=%d", stats, emb.calls.Load())
	}
}

func TestNearest_FiltersAndOrders(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, nil, nil).WithTieSlack(2)
	ctx := context.Background()
	_, _ = svc.Upsert(ctx, append(tables("accounts", "customers", "orders", "zones"),
		schema.NewColumn(schema.KindColumn, "orders", "id", "int", "")))

	repo.hits = []schema.Hit{
		{Name: "zones", Score: 0.9},
		{Name: "customers", Score: 0.9},
		{Name: "orders.id", Score: 0.85},
		{Name: "ghost", Score: 0.8},
		{Name: "orders", Score: 0.8},
		{Name: "accounts", Score: 0.4},
	}

	got, err := svc.Nearest(ctx, []float32{1}, 2, 0.5, []schema.Kind{schema.KindTable})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.gotK != 4 {
		t.Errorf("expected k + tie slack = 4, got %d", repo.gotK)
	}
	names := make([]string, len(got))
	for i, m := range got {
		names[i] = m.Element.QualifiedName()
	}
	if strings.Join(names, ",") != "customers,zones" {
		t.Errorf("unexpected matches %v", names)
	}

	got, _ = svc.Nearest(ctx, []float32{1}, 10, 0.5, nil)
	if len(got) != 4 {
		t.Errorf("expected 4 matches above threshold with unknown names skipped, got %d", len(got))
	}
	for _, m := range got {
		if m.Score < 0.5 {
			t.Errorf("match %s below threshold", m.Element.QualifiedName())
		}
	}
}

func TestNearest_Degenerate(t *testing.T) {
	svc := New(newMemRepo(), nil, nil)
	if got, err := svc.Nearest(context.Background(), []float32{1}, 0, 0, nil); err != nil || got != nil {
		t.Errorf("k=0 must return nothing, got %v, %v", got, err)
	}
	if got, err := svc.Nearest(context.Background(), nil, 3, 0, nil); err != nil || got != nil {
		t.Errorf("empty vector must return nothing, got %v, %v", got, err)
	}
}

func TestNearest_ConcurrentWithUpsert(t *testing.T) {
	repo := newMemRepo()
	repo.hits = []schema.Hit{{Name: "t00", Score: 1}}
	svc := New(repo, &mockEmbedder{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 20 {
			els := tables("t00")
			els[0] = els[0].WithDescription(fmt.Sprintf("version %d", i))
			_, _ = svc.Upsert(ctx, els)
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			got, _ := svc.Nearest(ctx, []float32{1}, 1, 0, nil)
			for _, m := range got {
				if !strings.HasPrefix(m.Element.Description(), "version") {
					t.Errorf("observed foreign description %q", m.Element.Description())
				}
			}
		}
	}()
	wg.Wait()

	names := make([]string, 0)
	for _, e := range svc.Elements() {
		names = append(names, e.QualifiedName())
	}
	if !sort.StringsAreSorted(names) || len(names) != 1 {
		t.Errorf("unexpected catalog %v", names)
	}
}
