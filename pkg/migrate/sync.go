package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/burrow/internal/fanout"
)

// SyncStatus reconciles disk state against the tracking table for one
// tenant: missing migrations exist on disk but not in the table,
// orphans exist in the table but have no matching file.
type SyncStatus struct {
	TenantID string
	Missing  []string
	Orphans  []string
	InSync   bool
	Format   Format
	Err      error
	Skipped  bool
}

// SyncResult reports a sync mutation.
type SyncResult struct {
	TenantID         string
	MarkedMigrations []string
	RemovedOrphans   []string
}

// SyncSummary aggregates a fleet-wide sync status scan.
type SyncSummary struct {
	Total     int
	InSync    int
	OutOfSync int
	Failed    int
	Skipped   int
	Details   []*SyncStatus
	Duration  time.Duration
}

// reconcile computes the missing and orphan sets. Disk identity is the
// file name in the name format and the content hash otherwise.
func reconcile(files []File, applied []Applied, format Format) (missing, orphans []string) {
	diskSet := make(map[string]struct{}, len(files))
	for _, f := range files {
		diskSet[identifier(f, format)] = struct{}{}
	}
	appliedSet := make(map[string]struct{}, len(applied))
	for _, a := range applied {
		appliedSet[a.Identifier] = struct{}{}
	}

	for _, f := range files {
		if _, ok := appliedSet[identifier(f, format)]; !ok {
			missing = append(missing, f.Name)
		}
	}
	for _, a := range applied {
		if _, ok := diskSet[a.Identifier]; !ok {
			orphans = append(orphans, a.Identifier)
		}
	}
	return missing, orphans
}

// syncStatus computes the reconciliation for one schema.
func (r *runner) syncStatus(ctx context.Context, db DB, schema, label string, files []File) *SyncStatus {
	st := &SyncStatus{TenantID: label}

	lay, err := r.resolveLayout(ctx, db, schema)
	if err != nil {
		st.Err = err
		return st
	}
	st.Format = lay.format

	applied, _, err := r.applied(ctx, db, schema, lay)
	if err != nil {
		st.Err = err
		return st
	}
	st.Missing, st.Orphans = reconcile(files, applied, lay.format)
	st.InSync = len(st.Missing) == 0 && len(st.Orphans) == 0
	return st
}

// markMissing inserts tracking rows for every missing migration in one
// transaction. No SQL is executed.
func (r *runner) markMissing(ctx context.Context, db DB, schema, label string, files []File) (*SyncResult, error) {
	lay, err := r.resolveLayout(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	applied, _, err := r.applied(ctx, db, schema, lay)
	if err != nil {
		return nil, err
	}
	missing, _ := reconcile(files, applied, lay.format)
	missingSet := make(map[string]struct{}, len(missing))
	for _, name := range missing {
		missingSet[name] = struct{}{}
	}

	res := &SyncResult{TenantID: label}
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, f := range files {
		if _, ok := missingSet[f.Name]; !ok {
			continue
		}
		q, args := insertSQL(schema, r.table, lay, f)
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return nil, fmt.Errorf("marking %s: %w", f.Name, err)
		}
		res.MarkedMigrations = append(res.MarkedMigrations, f.Name)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// cleanOrphans deletes tracking rows with no matching disk file in one
// transaction.
func (r *runner) cleanOrphans(ctx context.Context, db DB, schema, label string, files []File) (*SyncResult, error) {
	lay, err := r.resolveLayout(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	applied, _, err := r.applied(ctx, db, schema, lay)
	if err != nil {
		return nil, err
	}
	_, orphans := reconcile(files, applied, lay.format)

	res := &SyncResult{TenantID: label}
	if len(orphans) == 0 {
		return res, nil
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		trackingIdent(schema, r.table), identifierColumn(lay.format))
	for _, orphan := range orphans {
		if _, err := tx.Exec(ctx, del, orphan); err != nil {
			return nil, fmt.Errorf("removing orphan %s: %w", orphan, err)
		}
		res.RemovedOrphans = append(res.RemovedOrphans, orphan)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// SyncStatusTenant reconciles one tenant.
func (e *Executor) SyncStatusTenant(ctx context.Context, tenantID string, files []File) *SyncStatus {
	db, err := e.pools.GetDB(ctx, tenantID)
	if err != nil {
		return &SyncStatus{TenantID: tenantID, Err: err}
	}
	return e.runner.syncStatus(ctx, db, e.pools.SchemaName(tenantID), tenantID, files)
}

// SyncStatusAll reconciles the fleet with bounded concurrency.
func (e *Executor) SyncStatusAll(ctx context.Context, tenantIDs []string, files []File, opts BatchOptions) *SyncSummary {
	start := time.Now()
	results := fanout.Run(ctx, tenantIDs, fanout.Options{
		Concurrency: opts.Concurrency,
		OnError:     opts.OnError,
		OnProgress:  opts.OnProgress,
	}, func(ctx context.Context, tenantID string) (*SyncStatus, error) {
		st := e.SyncStatusTenant(ctx, tenantID, files)
		return st, st.Err
	})

	sum := &SyncSummary{Total: len(tenantIDs)}
	for _, r := range results {
		st := r.Value
		if st == nil {
			st = &SyncStatus{TenantID: r.TenantID, Err: r.Err}
		}
		st.Skipped = r.Skipped
		switch {
		case r.Skipped:
			sum.Skipped++
		case st.Err != nil:
			sum.Failed++
		case st.InSync:
			sum.InSync++
		default:
			sum.OutOfSync++
		}
		sum.Details = append(sum.Details, st)
	}
	sum.Duration = time.Since(start)
	return sum
}

// MarkMissing records missing migrations for one tenant without
// executing SQL.
func (e *Executor) MarkMissing(ctx context.Context, tenantID string, files []File) (*SyncResult, error) {
	db, err := e.pools.GetDB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return e.runner.markMissing(ctx, db, e.pools.SchemaName(tenantID), tenantID, files)
}

// CleanOrphans removes orphan tracking rows for one tenant.
func (e *Executor) CleanOrphans(ctx context.Context, tenantID string, files []File) (*SyncResult, error) {
	db, err := e.pools.GetDB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return e.runner.cleanOrphans(ctx, db, e.pools.SchemaName(tenantID), tenantID, files)
}
