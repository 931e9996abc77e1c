package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// columnInfo is one information_schema.columns row for the tracking table.
type columnInfo struct {
	Name     string
	DataType string
}

// layout pairs a recognized format with the timestamp column the
// table actually carries. The name format appears in the wild with
// either applied_at or created_at, so the column is captured at
// detection time rather than assumed.
type layout struct {
	format   Format
	tsColumn string
}

// defaultLayout is the column shape EnsureTable creates for a format.
func defaultLayout(format Format) layout {
	return layout{format: format, tsColumn: defaultTimestampColumn(format)}
}

func defaultTimestampColumn(format Format) string {
	if format == FormatName {
		return "applied_at"
	}
	return "created_at"
}

// classifyColumns maps a tracking table's column shape to a layout.
// A table carrying both name and hash columns is ambiguous and is
// reported as unknown rather than preferentially mapped.
func classifyColumns(cols []columnInfo) (layout, error) {
	var hasName, hasHash, hasApplied, hasCreated bool
	createdType := ""
	for _, c := range cols {
		switch strings.ToLower(c.Name) {
		case "name":
			hasName = true
		case "hash":
			hasHash = true
		case "applied_at":
			hasApplied = true
		case "created_at":
			hasCreated = true
			createdType = strings.ToLower(c.DataType)
		}
	}

	switch {
	case hasName && hasHash:
		return layout{}, fmt.Errorf("%w: table has both name and hash columns", ErrUnknownFormat)
	case hasName:
		lay := layout{format: FormatName, tsColumn: "applied_at"}
		if !hasApplied && hasCreated {
			lay.tsColumn = "created_at"
		}
		return lay, nil
	case hasHash && createdType == "bigint":
		return layout{format: FormatDrizzleKit, tsColumn: "created_at"}, nil
	case hasHash:
		return layout{format: FormatHash, tsColumn: "created_at"}, nil
	default:
		return layout{}, fmt.Errorf("%w: no name or hash column", ErrUnknownFormat)
	}
}

// detectLayout introspects the tracking table. exists is false when
// the table is absent, in which case the layout is empty.
func detectLayout(ctx context.Context, db DB, schema, table string) (lay layout, exists bool, err error) {
	rows, err := db.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`,
		schema, table,
	)
	if err != nil {
		return layout{}, false, fmt.Errorf("introspecting tracking table %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.Name, &c.DataType); err != nil {
			return layout{}, false, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return layout{}, false, err
	}
	if len(cols) == 0 {
		return layout{}, false, nil
	}

	lay, err = classifyColumns(cols)
	if err != nil {
		return layout{}, true, err
	}
	return lay, true, nil
}

// DetectFormat introspects the tracking table. exists is false when the
// table is absent, in which case format is empty.
func DetectFormat(ctx context.Context, db DB, schema, table string) (format Format, exists bool, err error) {
	lay, exists, err := detectLayout(ctx, db, schema, table)
	return lay.format, exists, err
}

// EnsureTable creates the tracking table with the exact column shape of
// the given format. It never alters an existing table.
func EnsureTable(ctx context.Context, db DB, schema, table string, format Format) error {
	ident := pgx.Identifier{schema, table}.Sanitize()
	var ddl string
	switch format {
	case FormatName:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			name text NOT NULL,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`, ident)
	case FormatHash:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			hash text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, ident)
	case FormatDrizzleKit:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			hash text NOT NULL,
			created_at bigint NOT NULL
		)`, ident)
	default:
		return fmt.Errorf("cannot create tracking table with format %q", format)
	}
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating tracking table %s: %w", ident, err)
	}
	return nil
}

// trackingIdent quotes the schema-qualified tracking table name.
func trackingIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// identifier returns the value a file is recorded under in the given format.
func identifier(f File, format Format) string {
	if format == FormatName {
		return f.Name
	}
	return f.Hash
}

// identifierColumn returns the tracking column holding the identifier.
func identifierColumn(format Format) string {
	if format == FormatName {
		return "name"
	}
	return "hash"
}

// insertSQL builds the tracking-table INSERT for one migration. The
// returned args carry the identifier and, for the drizzle-kit format,
// the millisecond timestamp; timestamptz formats use now() server-side.
func insertSQL(schema, table string, lay layout, f File) (string, []any) {
	ident := pgx.Identifier{schema, table}.Sanitize()
	switch lay.format {
	case FormatDrizzleKit:
		q := fmt.Sprintf("INSERT INTO %s (hash, created_at) VALUES ($1, $2)", ident)
		return q, []any{f.Hash, time.Now().UnixMilli()}
	default:
		q := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, now())",
			ident, identifierColumn(lay.format), lay.tsColumn)
		return q, []any{identifier(f, lay.format)}
	}
}

// selectAppliedSQL builds the ordered identifier query.
func selectAppliedSQL(schema, table string, lay layout) string {
	ident := pgx.Identifier{schema, table}.Sanitize()
	if lay.format == FormatDrizzleKit {
		return fmt.Sprintf(
			"SELECT hash, to_timestamp(created_at / 1000.0) FROM %s ORDER BY id", ident)
	}
	return fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY id",
		identifierColumn(lay.format), lay.tsColumn, ident)
}
