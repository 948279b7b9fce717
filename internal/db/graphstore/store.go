// Package graphstore runs Cypher queries against Neo4j and extracts the
// graph schema (labels, relationship types and their properties).
package graphstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kailas-cloud/askdb/internal/db"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
)

// DriverNeo4j is the configured driver name.
const DriverNeo4j = "neo4j"

// Operations reported in *db.Error.
const (
	OpConnect = "CONNECT"
	OpRun     = "RUN"
	OpSchema  = "SCHEMA"
)

// Options configure the connection and schema extraction.
type Options struct {
	Username  string
	Password  string
	Database  string // empty: server default
	MaxLabels int    // default 50
}

// Store is a Neo4j data store shared by concurrent runs.
type Store struct {
	driver neo4j.DriverWithContext
	opts   Options
}

// Open creates a driver for uri (bolt://, neo4j://) and verifies connectivity.
func Open(ctx context.Context, uri string, opts Options) (*Store, error) {
	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}
	drv, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, &db.Error{Op: OpConnect, Err: err}
	}
	if err := drv.VerifyConnectivity(ctx); err != nil {
		_ = drv.Close(ctx)
		return nil, &db.Error{Op: OpConnect, Err: err}
	}
	return New(drv, opts), nil
}

// New wraps an existing driver.
func New(drv neo4j.DriverWithContext, opts Options) *Store {
	if opts.MaxLabels <= 0 {
		opts.MaxLabels = 50
	}
	return &Store{driver: drv, opts: opts}
}

// Driver returns the driver name.
func (s *Store) Driver() string { return DriverNeo4j }

// Dialect returns the query language the store accepts.
func (s *Store) Dialect() string { return "cypher" }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.driver.VerifyConnectivity(ctx) }

// Close closes the driver.
func (s *Store) Close() error { return s.driver.Close(context.Background()) }

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.opts.Database})
}

// Run executes query in an auto-commit transaction. ReadOnly opens a read
// session, so the server refuses writes. At most opts.MaxRows records are read.
func (s *Store) Run(ctx context.Context, query string, opts resultset.RunOptions) (resultset.ResultSet, error) {
	mode := neo4j.AccessModeWrite
	if opts.ReadOnly {
		mode = neo4j.AccessModeRead
	}
	sess := s.session(ctx, mode)
	defer func() { _ = sess.Close(context.WithoutCancel(ctx)) }()

	res, err := sess.Run(ctx, query, nil)
	if err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpRun, Err: err}
	}
	keys, err := res.Keys()
	if err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpRun, Err: err}
	}

	rs := resultset.ResultSet{Columns: keys, Rows: []resultset.Row{}}
	for res.Next(ctx) {
		if opts.MaxRows > 0 && len(rs.Rows) == opts.MaxRows {
			rs.Truncated = true
			break
		}
		rec := res.Record()
		row := make(resultset.Row, len(rec.Keys))
		for i, k := range rec.Keys {
			row[k] = normalize(rec.Values[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := res.Err(); err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpRun, Err: err}
	}
	if rs.Truncated {
		// no need to drain: closing the session cancels the stream
		return rs, nil
	}
	if _, err := res.Consume(ctx); err != nil {
		return resultset.ResultSet{}, &db.Error{Op: OpRun, Err: fmt.Errorf("consume: %w", err)}
	}
	return rs, nil
}

// IsTransient reports whether the driver marks err retryable.
func (s *Store) IsTransient(err error) bool { return IsTransient(err) }

// IsTransient classifies driver errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err)
}
