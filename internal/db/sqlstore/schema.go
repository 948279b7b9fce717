package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kailas-cloud/askdb/internal/db"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/usecase/schemaindex"
)

type table struct {
	name        string
	kind        schema.Kind
	description string
}

// ListElements returns tables (and views when enabled) with their columns,
// capped at Options.MaxTables tables in name order.
func (s *Store) ListElements(ctx context.Context) ([]schema.Element, error) {
	var (
		out []schema.Element
		err error
	)
	if s.driver == DriverSQLite {
		out, err = s.sqliteElements(ctx)
	} else {
		out, err = s.postgresElements(ctx)
	}
	if err != nil {
		return nil, &db.Error{Op: OpSchema, Err: err}
	}
	return out, nil
}

// Describe prefers database comments and falls back to the element structure.
func (s *Store) Describe(e schema.Element) string { return schemaindex.Describe(e) }

func (s *Store) tableTypes() []string {
	if s.opts.IncludeViews {
		return []string{"BASE TABLE", "VIEW"}
	}
	return []string{"BASE TABLE"}
}

func (s *Store) qualify(table string) string {
	if s.opts.Schema == "public" {
		return table
	}
	return s.opts.Schema + "." + table
}

func (s *Store) postgresElements(ctx context.Context) ([]schema.Element, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.table_name, t.table_type,
		       COALESCE(obj_description(format('%I.%I', t.table_schema, t.table_name)::regclass, 'pg_class'), '')
		FROM information_schema.tables t
		WHERE t.table_schema = $1 AND t.table_type = ANY($2)
		ORDER BY t.table_name
		LIMIT $3`, s.opts.Schema, pq.Array(s.tableTypes()), s.opts.MaxTables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var tables []table
	for rows.Next() {
		var name, typ, desc string
		if err := rows.Scan(&name, &typ, &desc); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		kind := schema.KindTable
		if typ == "VIEW" {
			kind = schema.KindView
		}
		tables = append(tables, table{name: name, kind: kind, description: desc})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, nil
	}

	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.name
	}
	rows, err = s.db.QueryContext(ctx, `
		SELECT c.table_name, c.column_name, c.data_type,
		       COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position::int), '')
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = ANY($2)
		ORDER BY c.table_name, c.ordinal_position`, s.opts.Schema, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string][]schema.Element, len(tables))
	for rows.Next() {
		var tbl, col, typ, desc string
		if err := rows.Scan(&tbl, &col, &typ, &desc); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		parent := s.qualify(tbl)
		columns[tbl] = append(columns[tbl], schema.NewColumn(schema.KindColumn, parent, col, typ, desc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	return assemble(tables, columns, s.qualify), nil
}

func (s *Store) sqliteElements(ctx context.Context) ([]schema.Element, error) {
	types := []string{"'table'"}
	if s.opts.IncludeViews {
		types = append(types, "'view'")
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name, type FROM sqlite_master
		WHERE type IN (%s) AND name NOT LIKE 'sqlite_%%'
		ORDER BY name
		LIMIT ?`, strings.Join(types, ", ")), s.opts.MaxTables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var tables []table
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		kind := schema.KindTable
		if typ == "view" {
			kind = schema.KindView
		}
		tables = append(tables, table{name: name, kind: kind})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	columns := make(map[string][]schema.Element, len(tables))
	for _, t := range tables {
		cols, err := s.sqliteColumns(ctx, t.name)
		if err != nil {
			return nil, err
		}
		columns[t.name] = cols
	}
	return assemble(tables, columns, func(name string) string { return name }), nil
}

func (s *Store) sqliteColumns(ctx context.Context, tbl string) ([]schema.Element, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, tbl)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", tbl, err)
	}
	defer rows.Close()

	var out []schema.Element
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out = append(out, schema.NewColumn(schema.KindColumn, tbl, name, strings.ToLower(typ), ""))
	}
	return out, rows.Err()
}

// assemble emits each table followed by its columns.
func assemble(tables []table, columns map[string][]schema.Element, qualify func(string) string) []schema.Element {
	var out []schema.Element
	for _, t := range tables {
		out = append(out, schema.New(t.kind, qualify(t.name), "", t.description))
		out = append(out, columns[t.name]...)
	}
	return out
}
