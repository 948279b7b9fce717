// Package sqlstore runs read queries against PostgreSQL (lib/pq) and SQLite
// (modernc.org/sqlite) and extracts their relational schema.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"    // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/kailas-cloud/askdb/internal/db"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Operations reported in *db.Error.
const (
	OpBegin  = "BEGIN"
	OpQuery  = "QUERY"
	OpScan   = "SCAN"
	OpPragma = "PRAGMA"
	OpSchema = "SCHEMA"
)

// Options tune schema extraction.
type Options struct {
	Schema       string // postgres schema, default "public"
	IncludeViews bool
	MaxTables    int // default 50
}

// Store is a SQL data store shared by concurrent runs.
type Store struct {
	db     *sql.DB
	driver string
	opts   Options
}

// Open connects to dsn with driver "postgres" or "sqlite".
func Open(driver, dsn string, opts Options) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	// every :memory: connection sees its own database
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		conn.SetMaxOpenConns(1)
	}
	return New(conn, driver, opts), nil
}

// New wraps an existing pool.
func New(conn *sql.DB, driver string, opts Options) *Store {
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.MaxTables <= 0 {
		opts.MaxTables = 50
	}
	return &Store{db: conn, driver: driver, opts: opts}
}

// Driver returns the driver name.
func (s *Store) Driver() string { return s.driver }

// Dialect returns the query language the store accepts.
func (s *Store) Dialect() string { return "sql" }

// DB exposes the pool for fixtures and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Run executes query and streams at most opts.MaxRows rows.
// PostgreSQL enforces ReadOnly with a READ ONLY transaction, SQLite with
// PRAGMA query_only on a dedicated connection.
func (s *Store) Run(ctx context.Context, query string, opts resultset.RunOptions) (resultset.ResultSet, error) {
	if s.driver == DriverSQLite {
		return s.runSQLite(ctx, query, opts)
	}
	if !opts.ReadOnly {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return resultset.ResultSet{}, &db.Error{Op: OpQuery, Err: err}
		}
		return collect(rows, opts.MaxRows)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpBegin, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpQuery, Err: err}
	}
	return collect(rows, opts.MaxRows)
}

func (s *Store) runSQLite(ctx context.Context, query string, opts resultset.RunOptions) (resultset.ResultSet, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpQuery, Err: err}
	}
	defer conn.Close()

	if opts.ReadOnly {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return resultset.ResultSet{}, &db.Error{Op: OpPragma, Err: err}
		}
		defer func() {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF")
		}()
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpQuery, Err: err}
	}
	return collect(rows, opts.MaxRows)
}

// collect closes rows once the cap is reached.
func collect(rows *sql.Rows, maxRows int) (resultset.ResultSet, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpScan, Err: err}
	}
	rs := resultset.ResultSet{Columns: cols, Rows: []resultset.Row{}}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) == maxRows {
			rs.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return resultset.ResultSet{}, &db.Error{Op: OpScan, Err: err}
		}
		row := make(resultset.Row, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpQuery, Err: err}
	}
	return rs, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
