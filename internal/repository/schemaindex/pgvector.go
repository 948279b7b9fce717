package schemaindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// DefaultPgvectorTable holds schema elements in the pgvector backend.
const DefaultPgvectorTable = "askdb_schema_elements"

// Pgvector stores elements in a PostgreSQL table with a pgvector column.
type Pgvector struct {
	db    *sql.DB
	table string
}

// OpenPgvector connects with lib/pq. An empty table uses DefaultPgvectorTable.
func OpenPgvector(dsn, table string) (*Pgvector, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPgvector(conn, table), nil
}

// NewPgvector wraps an existing connection pool.
func NewPgvector(conn *sql.DB, table string) *Pgvector {
	if table == "" {
		table = DefaultPgvectorTable
	}
	return &Pgvector{db: conn, table: pq.QuoteIdentifier(table)}
}

// Close closes the connection pool.
func (p *Pgvector) Close() error { return p.db.Close() }

// EnsureIndex creates the extension, the table and the HNSW cosine index.
func (p *Pgvector) EnsureIndex(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name        TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			parent      TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			data_type   TEXT NOT NULL DEFAULT '',
			hash        TEXT NOT NULL,
			embedding   vector(%d)
		)`, p.table, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pq.QuoteIdentifier(indexIdent(p.table)), p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

// Put upserts one element in a single statement.
func (p *Pgvector) Put(ctx context.Context, rec schema.Indexed) error {
	e := rec.Element
	var embedding any
	if e.HasEmbedding() {
		embedding = pgvector.NewVector(e.Embedding())
	}

	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, kind, parent, description, data_type, hash, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind,
			parent = EXCLUDED.parent,
			description = EXCLUDED.description,
			data_type = EXCLUDED.data_type,
			hash = EXCLUDED.hash,
			embedding = EXCLUDED.embedding`, p.table),
		e.QualifiedName(), string(e.Kind()), e.Parent(), e.Description(), e.DataType(), rec.Hash, embedding,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.QualifiedName(), err)
	}
	return nil
}

// Delete removes elements by qualified name.
func (p *Pgvector) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE name = ANY($1)`, p.table), pq.Array(names))
	if err != nil {
		return fmt.Errorf("delete elements: %w", err)
	}
	return nil
}

// Load reads every stored element.
func (p *Pgvector) Load(ctx context.Context) ([]schema.Indexed, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT name, kind, parent, description, data_type, hash, embedding::real[] FROM %s ORDER BY name`, p.table))
	if err != nil {
		return nil, fmt.Errorf("load elements: %w", err)
	}
	defer rows.Close()

	var out []schema.Indexed
	for rows.Next() {
		var (
			name, kind, parent, description, dataType, hash string
			embedding                                        []float32
		)
		if err := rows.Scan(&name, &kind, &parent, &description, &dataType, &hash, pq.Array(&embedding)); err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		k, err := schema.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", name, err)
		}
		e := schema.New(k, name, parent, description).WithDataType(dataType)
		if len(embedding) > 0 {
			e = e.WithEmbedding(embedding)
		}
		out = append(out, schema.Indexed{Element: e, Hash: hash})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate elements: %w", err)
	}
	return out, nil
}

// Search orders by cosine distance; scores are 1 - distance.
func (p *Pgvector) Search(ctx context.Context, vector []float32, k int, kinds []schema.Kind) ([]schema.Hit, error) {
	query := fmt.Sprintf(`SELECT name, 1 - (embedding <=> $1) AS score FROM %s
		WHERE embedding IS NOT NULL`, p.table)
	args := []any{pgvector.NewVector(vector)}
	if len(kinds) > 0 {
		query += ` AND kind = ANY($3)`
	}
	query += ` ORDER BY embedding <=> $1, name LIMIT $2`
	args = append(args, k)
	if len(kinds) > 0 {
		args = append(args, pq.Array(kindStrings(kinds)))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	defer rows.Close()

	var hits []schema.Hit
	for rows.Next() {
		var h schema.Hit
		if err := rows.Scan(&h.Name, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

func indexIdent(quotedTable string) string {
	name := quotedTable
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	return name + "_embedding_idx"
}
