package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// runner holds the per-schema migration mechanics shared by the tenant
// executor and the shared-namespace executor.
type runner struct {
	table      string
	configured Format // tracking format from configuration, may be auto
	fallback   Format // used when configured is auto and no table exists
	hooks      Hooks
	logger     *slog.Logger
}

// resolveLayout detects the existing tracking table's layout or, when
// the table is absent, creates it in the configured format.
func (r *runner) resolveLayout(ctx context.Context, db DB, schema string) (layout, error) {
	lay, exists, err := detectLayout(ctx, db, schema, r.table)
	if err != nil {
		return layout{}, err
	}
	if exists {
		return lay, nil
	}
	format := r.configured
	if format == FormatAuto || format == "" {
		format = r.fallback
	}
	if format == "" {
		format = FormatName
	}
	if err := EnsureTable(ctx, db, schema, r.table, format); err != nil {
		return layout{}, err
	}
	return defaultLayout(format), nil
}

// applied reads the tracking table in insertion order.
func (r *runner) applied(ctx context.Context, db DB, schema string, lay layout) ([]Applied, map[string]struct{}, error) {
	rows, err := db.Query(ctx, selectAppliedSQL(schema, r.table, lay))
	if err != nil {
		return nil, nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var list []Applied
	set := make(map[string]struct{})
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Identifier, &a.AppliedAt); err != nil {
			return nil, nil, err
		}
		list = append(list, a)
		set[a.Identifier] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return list, set, nil
}

// applyOne applies a single migration in its own transaction: the SQL
// (unless markOnly) and the tracking-table INSERT commit atomically, so
// a crash cannot record a half-applied migration.
func (r *runner) applyOne(ctx context.Context, db DB, schema string, lay layout, f File, markOnly bool) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !markOnly {
		if _, err := tx.Exec(ctx, f.SQL); err != nil {
			return err
		}
	}
	q, args := insertSQL(schema, r.table, lay, f)
	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit(ctx)
}

// run executes the pending migrations for one schema in file-name
// order, stopping at the first failure.
func (r *runner) run(ctx context.Context, db DB, schema, label string, files []File, opts Options) *TenantResult {
	start := time.Now()
	res := &TenantResult{TenantID: label, AppliedMigrations: []string{}}

	lay, err := r.resolveLayout(ctx, db, schema)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	res.Format = lay.format

	_, appliedSet, err := r.applied(ctx, db, schema, lay)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	pending := Pending(files, appliedSet, lay.format)

	r.fireBeforeTenant(label, len(pending))

	if opts.DryRun {
		for _, f := range pending {
			res.AppliedMigrations = append(res.AppliedMigrations, f.Name)
		}
		res.Success = true
		res.Duration = time.Since(start)
		r.fireAfterTenant(label, res)
		return res
	}

	for i, f := range pending {
		r.fireBeforeMigration(label, f)
		err := r.applyOne(ctx, db, schema, lay, f, opts.MarkOnly)
		r.fireAfterMigration(label, f, err)
		if err != nil {
			res.Err = fmt.Errorf("applying %s: %w", f.Name, err)
			res.Duration = time.Since(start)
			r.logger.Error("migration failed",
				"schema", schema, "migration", f.Name, "error", err)
			r.fireAfterTenant(label, res)
			return res
		}
		res.AppliedMigrations = append(res.AppliedMigrations, f.Name)
		if opts.OnProgress != nil {
			opts.OnProgress(label, f.Name, i+1, len(pending))
		}
		r.logger.Debug("migration applied", "schema", schema, "migration", f.Name)
	}

	res.Success = true
	res.Duration = time.Since(start)
	r.fireAfterTenant(label, res)
	return res
}

// status reports applied vs pending without mutating anything. An
// absent tracking table means everything is pending in the configured
// format.
func (r *runner) status(ctx context.Context, db DB, schema, label string, files []File) (*TenantStatus, error) {
	lay, exists, err := detectLayout(ctx, db, schema, r.table)
	if err != nil {
		return nil, err
	}
	st := &TenantStatus{TenantID: label}
	if !exists {
		format := r.configured
		if format == FormatAuto || format == "" {
			format = r.fallback
		}
		st.Format = format
		for _, f := range files {
			st.Pending = append(st.Pending, f.Name)
		}
		return st, nil
	}
	st.Format = lay.format

	list, set, err := r.applied(ctx, db, schema, lay)
	if err != nil {
		return nil, err
	}
	st.Applied = list
	for _, f := range Pending(files, set, lay.format) {
		st.Pending = append(st.Pending, f.Name)
	}
	return st, nil
}

func (r *runner) fireBeforeTenant(label string, pending int) {
	r.fireHook("BeforeTenant", label, func() {
		if r.hooks.BeforeTenant != nil {
			r.hooks.BeforeTenant(label, pending)
		}
	})
}

func (r *runner) fireAfterTenant(label string, res *TenantResult) {
	r.fireHook("AfterTenant", label, func() {
		if r.hooks.AfterTenant != nil {
			r.hooks.AfterTenant(label, res)
		}
	})
}

func (r *runner) fireBeforeMigration(label string, f File) {
	r.fireHook("BeforeMigration", label, func() {
		if r.hooks.BeforeMigration != nil {
			r.hooks.BeforeMigration(label, f)
		}
	})
}

func (r *runner) fireAfterMigration(label string, f File, err error) {
	r.fireHook("AfterMigration", label, func() {
		if r.hooks.AfterMigration != nil {
			r.hooks.AfterMigration(label, f, err)
		}
	})
}

// fireHook runs a user hook inside its own recover scope so a
// panicking hook cannot corrupt the ongoing run.
func (r *runner) fireHook(name, label string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("migration hook panicked",
				"hook", name, "tenant_id", label, "panic", rec)
		}
	}()
	fn()
}
