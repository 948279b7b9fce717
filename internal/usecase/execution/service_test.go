package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/askdb/internal/db/sqlstore"
	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
)

// --- Mocks ---

var errFlaky = errors.New("connection reset")

type mockStore struct {
	driver   string
	failures []error // returned in order before succeeding
	calls    int
	queries  []string
}

func (m *mockStore) Run(ctx context.Context, query string, _ resultset.RunOptions) (resultset.ResultSet, error) {
	m.calls++
	m.queries = append(m.queries, query)
	if m.calls <= len(m.failures) {
		return resultset.ResultSet{}, m.failures[m.calls-1]
	}
	return resultset.ResultSet{Columns: []string{"n"}, Rows: []resultset.Row{{"n": 1}}}, nil
}

func (m *mockStore) IsTransient(err error) bool { return errors.Is(err, errFlaky) }

func (m *mockStore) Driver() string {
	if m.driver == "" {
		return "sqlite"
	}
	return m.driver
}

// --- Tests ---

func TestExecute_RetriesTransient(t *testing.T) {
	store := &mockStore{failures: []error{errFlaky, errFlaky}}
	svc := New(store, nil)

	rs, err := svc.Execute(context.Background(), "SELECT 1", Options{TransientRetries: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.calls != 3 || rs.Len() != 1 {
		t.Errorf("expected success on third call, got %d calls", store.calls)
	}
}

func TestExecute_TransientExhausted(t *testing.T) {
	store := &mockStore{failures: []error{errFlaky, errFlaky, errFlaky}}
	svc := New(store, nil)

	_, err := svc.Execute(context.Background(), "SELECT 1", Options{TransientRetries: 1})
	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !execErr.Transient() || execErr.Attempts != 2 || store.calls != 2 {
		t.Errorf("unexpected error %+v after %d calls", execErr, store.calls)
	}
}

func TestExecute_PermanentNotRetried(t *testing.T) {
	store := &mockStore{failures: []error{errors.New("no such table: suppliers")}}
	svc := New(store, nil)

	_, err := svc.Execute(context.Background(), "SELECT * FROM suppliers", Options{TransientRetries: 3})
	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Kind != domain.ExecutionPermanent || store.calls != 1 {
		t.Errorf("permanent errors must fail at once: kind %s, calls %d", execErr.Kind, store.calls)
	}
	if execErr.Query != "SELECT * FROM suppliers" {
		t.Errorf("error must carry the query, got %q", execErr.Query)
	}
}

func TestExecute_ReadOnlyRejectedBeforeSending(t *testing.T) {
	tests := []struct {
		driver string
		query  string
	}{
		{"sqlite", "DELETE FROM customers"},
		{"sqlite", "ATTACH DATABASE 'x.db' AS x"},
		{"sqlite", "pragma writable_schema = 1"},
		{"postgres", "WITH gone AS (DELETE FROM t RETURNING *) SELECT * FROM gone"},
		{"postgres", "SELECT 1; DROP TABLE t"},
		{"postgres", "COPY t TO '/tmp/x'"},
		{"postgres", "WITH x AS (SELECT 1 AS id) INSERT INTO t SELECT id FROM x"},
		{"sqlite", "WITH x AS (SELECT 1 AS id) INSERT INTO t SELECT id FROM x"},
		{"postgres", "WITH x AS (SELECT 1) DELETE FROM customers"},
		{"sqlite", "WITH RECURSIVE x(n) AS (SELECT 1), y AS MATERIALIZED (SELECT 2) DELETE FROM customers"},
		{"postgres", "EXPLAIN ANALYZE DELETE FROM customers"},
		{"postgres", "EXPLAIN (ANALYZE, FORMAT JSON) UPDATE customers SET name = 'x'"},
		{"sqlite", "EXPLAIN QUERY PLAN DELETE FROM customers"},
		{"neo4j", "MATCH (n) DETACH DELETE n"},
		{"neo4j", "MATCH (n:Person) SET n.age = 1 RETURN n"},
		{"neo4j", "LOAD CSV FROM 'file:///x.csv' AS row RETURN row"},
		{"neo4j", "CALL dbms.security.createUser('x', 'y')"},
	}
	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.query, func(t *testing.T) {
			store := &mockStore{driver: tt.driver}
			svc := New(store, nil)

			_, err := svc.Execute(context.Background(), tt.query, Options{ReadOnly: true})
			if !errors.Is(err, domain.ErrReadOnlyViolation) {
				t.Fatalf("expected read-only violation, got %v", err)
			}
			if store.calls != 0 {
				t.Error("query must not reach the store")
			}
		})
	}
}

func TestExecute_ReadOnlyAllows(t *testing.T) {
	tests := []struct {
		driver string
		query  string
	}{
		{"sqlite", "SELECT comment, \"delete\" FROM reviews WHERE note = 'DROP TABLE x'"},
		{"sqlite", "SELECT replace(name, 'a', 'b') FROM customers -- delete later"},
		{"postgres", "SELECT count(comment) FROM reviews"},
		{"postgres", "SELECT created_at::date FROM orders"},
		{"postgres", "EXPLAIN ANALYZE SELECT * FROM customers"},
		{"postgres", "WITH x AS (SELECT 1 AS id) SELECT count(id) comment FROM x"},
		{"sqlite", "EXPLAIN QUERY PLAN SELECT * FROM customers"},
		{"neo4j", "MATCH (n:Person) WHERE n.set = 1 RETURN n {.name, create: n.created}"},
		{"neo4j", "MATCH (n) RETURN n.name // DELETE n"},
		{"neo4j", "CALL db.labels() YIELD label RETURN label"},
	}
	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.query, func(t *testing.T) {
			store := &mockStore{driver: tt.driver}
			svc := New(store, nil)

			if _, err := svc.Execute(context.Background(), tt.query, Options{ReadOnly: true}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if store.calls != 1 {
				t.Errorf("expected one call, got %d", store.calls)
			}
		})
	}
}

func TestExecute_ReadOnlyOff(t *testing.T) {
	store := &mockStore{}
	svc := New(store, nil)

	if _, err := svc.Execute(context.Background(), "DELETE FROM t", Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecute_CancelledDuringRetryDelay(t *testing.T) {
	store := &mockStore{failures: []error{errFlaky, errFlaky}}
	svc := New(store, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Execute(ctx, "SELECT 1", Options{TransientRetries: 5, RetryDelay: time.Hour})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if store.calls != 1 {
		t.Errorf("expected one call before cancellation, got %d", store.calls)
	}
}

func TestExecute_SQLiteStore(t *testing.T) {
	store, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:", sqlstore.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if _, err := store.DB().Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := store.DB().Exec(`INSERT INTO customers (name) VALUES ('a'), ('b'), ('c')`); err != nil {
		t.Fatal(err)
	}
	svc := New(store, nil)
	opts := Options{ReadOnly: true, Timeout: 5 * time.Second, MaxRows: 2, TransientRetries: 2}

	rs, err := svc.Execute(context.Background(), "SELECT name FROM customers ORDER BY id", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Len() != 2 || !rs.Truncated {
		t.Errorf("expected 2 truncated rows, got %d (truncated=%v)", rs.Len(), rs.Truncated)
	}

	_, err = svc.Execute(context.Background(), "SELECT email FROM customers", opts)
	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) || execErr.Kind != domain.ExecutionPermanent || execErr.Attempts != 1 {
		t.Errorf("expected permanent ExecutionError after one attempt, got %v", err)
	}
}
