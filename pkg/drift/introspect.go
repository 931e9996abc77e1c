package drift

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DB is the query surface introspection needs. *pgxpool.Pool satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// IntrospectOptions scopes a snapshot.
type IntrospectOptions struct {
	IncludeIndexes     bool
	IncludeConstraints bool

	// ExcludeTables are skipped entirely, typically the migration
	// tracking table whose presence is operational, not structural.
	ExcludeTables []string
}

var castSuffix = regexp.MustCompile(`::[a-zA-Z_][a-zA-Z0-9_ ]*(\[\])?$`)

// normalizeDefault strips the type cast Postgres appends to column
// defaults so that `'x'::text` and `'x'::character varying` compare
// equal, and trims whitespace.
func normalizeDefault(def string) string {
	def = strings.TrimSpace(def)
	return castSuffix.ReplaceAllString(def, "")
}

// Introspect snapshots one schema's structure.
func Introspect(ctx context.Context, db DB, schema string, opts IntrospectOptions) (*Snapshot, error) {
	excluded := make(map[string]struct{}, len(opts.ExcludeTables))
	for _, t := range opts.ExcludeTables {
		excluded[t] = struct{}{}
	}

	snap := &Snapshot{Schema: schema, Tables: make(map[string]Table)}

	if err := loadTables(ctx, db, schema, excluded, snap); err != nil {
		return nil, err
	}
	if err := loadColumns(ctx, db, schema, snap); err != nil {
		return nil, err
	}
	if opts.IncludeIndexes {
		if err := loadIndexes(ctx, db, schema, snap); err != nil {
			return nil, err
		}
	}
	if opts.IncludeConstraints {
		if err := loadConstraints(ctx, db, schema, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func loadTables(ctx context.Context, db DB, schema string, excluded map[string]struct{}, snap *Snapshot) error {
	rows, err := db.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
		schema,
	)
	if err != nil {
		return fmt.Errorf("listing tables in %s: %w", schema, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if _, skip := excluded[name]; skip {
			continue
		}
		snap.Tables[name] = Table{
			Name:        name,
			Columns:     make(map[string]Column),
			Indexes:     make(map[string]Index),
			Constraints: make(map[string]Constraint),
		}
	}
	return rows.Err()
}

func loadColumns(ctx context.Context, db DB, schema string, snap *Snapshot) error {
	rows, err := db.Query(ctx, `
		SELECT table_name, column_name, data_type, is_nullable,
		       COALESCE(column_default, ''), ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`,
		schema,
	)
	if err != nil {
		return fmt.Errorf("listing columns in %s: %w", schema, err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, nullable string
		var col Column
		if err := rows.Scan(&table, &col.Name, &col.DataType, &nullable, &col.Default, &col.Position); err != nil {
			return err
		}
		t, ok := snap.Tables[table]
		if !ok {
			continue
		}
		col.Nullable = nullable == "YES"
		col.Default = normalizeDefault(col.Default)
		t.Columns[col.Name] = col
	}
	return rows.Err()
}

func loadIndexes(ctx context.Context, db DB, schema string, snap *Snapshot) error {
	rows, err := db.Query(ctx, `
		SELECT t.relname, i.relname, ix.indisunique,
		       array_agg(a.attname ORDER BY k.ord)
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1
		GROUP BY t.relname, i.relname, ix.indisunique
		ORDER BY t.relname, i.relname`,
		schema,
	)
	if err != nil {
		return fmt.Errorf("listing indexes in %s: %w", schema, err)
	}
	defer rows.Close()

	for rows.Next() {
		var table string
		var idx Index
		if err := rows.Scan(&table, &idx.Name, &idx.Unique, &idx.Columns); err != nil {
			return err
		}
		t, ok := snap.Tables[table]
		if !ok {
			continue
		}
		t.Indexes[idx.Name] = idx
	}
	return rows.Err()
}

// constraintQuery casts contype to text: the column is "char" (OID 18),
// which pgx's binary protocol will not scan into a Go string.
const constraintQuery = `
	SELECT t.relname, c.conname, c.contype::text, pg_get_constraintdef(c.oid)
	FROM pg_constraint c
	JOIN pg_class t ON t.oid = c.conrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	WHERE n.nspname = $1
	ORDER BY t.relname, c.conname`

func loadConstraints(ctx context.Context, db DB, schema string, snap *Snapshot) error {
	rows, err := db.Query(ctx, constraintQuery, schema)
	if err != nil {
		return fmt.Errorf("listing constraints in %s: %w", schema, err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, contype string
		var con Constraint
		if err := rows.Scan(&table, &con.Name, &contype, &con.Definition); err != nil {
			return err
		}
		t, ok := snap.Tables[table]
		if !ok {
			continue
		}
		con.Type = contype
		con.Definition = strings.TrimSpace(con.Definition)
		t.Constraints[con.Name] = con
	}
	return rows.Err()
}

// sortedKeys returns map keys in deterministic order for stable reports.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
