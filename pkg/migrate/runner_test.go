package migrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB answers the two queries the runner issues (tracking-table
// introspection and the applied-rows select) from in-memory state and
// records every statement executed through it or its transactions.
type fakeDB struct {
	cols      []columnInfo
	applied   []string
	failSQL   string // tx.Exec on this statement fails
	stmts     []string
	committed int
	rolled    int
}

func (d *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.stmts = append(d.stmts, sql)
	return pgconn.CommandTag{}, nil
}

func (d *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if strings.Contains(sql, "information_schema.columns") {
		rows := make([][]any, len(d.cols))
		for i, c := range d.cols {
			rows[i] = []any{c.Name, c.DataType}
		}
		return &fakeRows{rows: rows}, nil
	}
	rows := make([][]any, len(d.applied))
	for i, id := range d.applied {
		rows[i] = []any{id, time.Now()}
	}
	return &fakeRows{rows: rows}, nil
}

func (d *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: d}, nil
}

// fakeTx buffers tracking inserts until Commit so a rolled-back
// transaction leaves no applied rows behind.
type fakeTx struct {
	pgx.Tx
	db       *fakeDB
	inserted []string
	done     bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if sql == t.db.failSQL {
		return pgconn.CommandTag{}, errors.New("syntax error at or near")
	}
	t.db.stmts = append(t.db.stmts, sql)
	if strings.HasPrefix(sql, "INSERT INTO") && len(args) > 0 {
		if id, ok := args[0].(string); ok {
			t.inserted = append(t.inserted, id)
		}
	}
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.db.applied = append(t.db.applied, t.inserted...)
	t.db.committed++
	t.done = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.done {
		t.db.rolled++
		t.done = true
	}
	return nil
}

type fakeRows struct {
	pgx.Rows
	rows [][]any
	i    int
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = row[i].(string)
		case *time.Time:
			*d = row[i].(time.Time)
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

func nameTableColumns() []columnInfo {
	return []columnInfo{
		{"id", "bigint"},
		{"name", "text"},
		{"applied_at", "timestamp with time zone"},
	}
}

func runnerFiles() []File {
	return []File{
		{Name: "0001_init", Hash: "h1", SQL: "CREATE TABLE burrows (id uuid PRIMARY KEY)"},
		{Name: "0002_owners", Hash: "h2", SQL: "CREATE TABLE owners (id uuid PRIMARY KEY)"},
		{Name: "0003_index", Hash: "h3", SQL: "CREATE INDEX owners_id_idx ON owners (id)"},
	}
}

func newTestRunner() *runner {
	return &runner{
		table:      DefaultTable,
		configured: FormatAuto,
		fallback:   FormatName,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func containsStmt(stmts []string, sql string) bool {
	for _, s := range stmts {
		if s == sql {
			return true
		}
	}
	return false
}

func TestRunAppliesPendingInOrder(t *testing.T) {
	db := &fakeDB{cols: nameTableColumns()}
	files := runnerFiles()

	res := newTestRunner().run(context.Background(), db, "tenant_a", "tenant_a", files, Options{})
	if !res.Success || res.Err != nil {
		t.Fatalf("run failed: %v", res.Err)
	}
	want := []string{"0001_init", "0002_owners", "0003_index"}
	if len(res.AppliedMigrations) != len(want) {
		t.Fatalf("applied = %v, want %v", res.AppliedMigrations, want)
	}
	for i := range want {
		if res.AppliedMigrations[i] != want[i] {
			t.Fatalf("applied = %v, want %v", res.AppliedMigrations, want)
		}
		if db.applied[i] != want[i] {
			t.Fatalf("tracking rows = %v, want %v", db.applied, want)
		}
	}
	if db.committed != 3 {
		t.Errorf("committed = %d, want 3", db.committed)
	}
	for _, f := range files {
		if !containsStmt(db.stmts, f.SQL) {
			t.Errorf("migration SQL for %s never executed", f.Name)
		}
	}
	if res.Format != FormatName {
		t.Errorf("format = %s, want %s", res.Format, FormatName)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	files := runnerFiles()
	db := &fakeDB{cols: nameTableColumns(), failSQL: files[1].SQL}

	res := newTestRunner().run(context.Background(), db, "tenant_a", "tenant_a", files, Options{})
	if res.Success || res.Err == nil {
		t.Fatal("run should have failed on the second migration")
	}
	if !strings.Contains(res.Err.Error(), "0002_owners") {
		t.Errorf("err = %v, should name the failing migration", res.Err)
	}

	// The committed prefix survives, the failing transaction rolls
	// back, and nothing past the failure runs.
	if len(res.AppliedMigrations) != 1 || res.AppliedMigrations[0] != "0001_init" {
		t.Errorf("applied = %v, want [0001_init]", res.AppliedMigrations)
	}
	if len(db.applied) != 1 || db.applied[0] != "0001_init" {
		t.Errorf("tracking rows = %v, want [0001_init]", db.applied)
	}
	if db.committed != 1 {
		t.Errorf("committed = %d, want 1", db.committed)
	}
	if db.rolled == 0 {
		t.Error("failing transaction was never rolled back")
	}
	if containsStmt(db.stmts, files[2].SQL) {
		t.Error("migration after the failure must not run")
	}
}

func TestRunMarkOnlySkipsSQL(t *testing.T) {
	db := &fakeDB{cols: nameTableColumns()}
	files := runnerFiles()

	res := newTestRunner().run(context.Background(), db, "tenant_a", "tenant_a", files, Options{MarkOnly: true})
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err)
	}
	for _, f := range files {
		if containsStmt(db.stmts, f.SQL) {
			t.Errorf("mark-only run executed migration SQL for %s", f.Name)
		}
	}
	if len(db.applied) != 3 {
		t.Errorf("tracking rows = %v, want all three recorded", db.applied)
	}
}

func TestRunSecondRunIsIdempotent(t *testing.T) {
	db := &fakeDB{cols: nameTableColumns()}
	files := runnerFiles()
	r := newTestRunner()

	if res := r.run(context.Background(), db, "tenant_a", "tenant_a", files, Options{}); !res.Success {
		t.Fatalf("first run failed: %v", res.Err)
	}
	committed := db.committed

	res := r.run(context.Background(), db, "tenant_a", "tenant_a", files, Options{})
	if !res.Success {
		t.Fatalf("second run failed: %v", res.Err)
	}
	if len(res.AppliedMigrations) != 0 {
		t.Errorf("second run applied %v, want nothing", res.AppliedMigrations)
	}
	if db.committed != committed {
		t.Errorf("second run committed %d new transactions", db.committed-committed)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	db := &fakeDB{cols: nameTableColumns()}
	files := runnerFiles()

	res := newTestRunner().run(context.Background(), db, "tenant_a", "tenant_a", files, Options{DryRun: true})
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err)
	}
	if len(res.AppliedMigrations) != 3 {
		t.Errorf("dry run reported %v, want all three pending", res.AppliedMigrations)
	}
	if db.committed != 0 || len(db.applied) != 0 || len(db.stmts) != 0 {
		t.Errorf("dry run wrote: stmts=%v applied=%v", db.stmts, db.applied)
	}
}

func TestRunUsesExistingTimestampColumn(t *testing.T) {
	db := &fakeDB{cols: []columnInfo{
		{"id", "integer"},
		{"name", "character varying"},
		{"created_at", "timestamp with time zone"},
	}}

	res := newTestRunner().run(context.Background(), db, "tenant_a", "tenant_a", runnerFiles(), Options{})
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err)
	}
	found := false
	for _, s := range db.stmts {
		if strings.HasPrefix(s, "INSERT INTO") {
			if !strings.Contains(s, "(name, created_at)") {
				t.Fatalf("insert targets the wrong timestamp column: %q", s)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("no tracking insert was executed")
	}
}
