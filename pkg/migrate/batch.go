package migrate

import (
	"context"
	"time"

	"github.com/wisbric/burrow/internal/fanout"
)

// ErrorAction is re-exported so callers do not import internal packages.
type ErrorAction = fanout.Action

const (
	Continue = fanout.Continue
	Abort    = fanout.Abort
)

// BatchOptions controls a fleet-wide run.
type BatchOptions struct {
	// Concurrency is the batch size; batches are strictly sequential.
	// Defaults to 10.
	Concurrency int

	DryRun   bool
	MarkOnly bool

	// OnProgress fires after each tenant settles.
	OnProgress func(completed, total int, tenantID string)

	// OnError decides whether a tenant failure aborts the run.
	// Nil means Continue.
	OnError func(tenantID string, err error) ErrorAction
}

// Summary aggregates a fleet-wide run. Failed excludes skipped tenants.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Details   []*TenantResult
	Duration  time.Duration
}

// MigrateAll migrates every tenant with bounded concurrency. Within a
// tenant, migrations apply in file-name order; across tenants there is
// no ordering beyond the batch boundary.
func (e *Executor) MigrateAll(ctx context.Context, tenantIDs []string, files []File, opts BatchOptions) *Summary {
	start := time.Now()
	results := fanout.Run(ctx, tenantIDs, fanout.Options{
		Concurrency: opts.Concurrency,
		OnError:     opts.OnError,
		OnProgress:  opts.OnProgress,
	}, func(ctx context.Context, tenantID string) (*TenantResult, error) {
		res := e.MigrateTenant(ctx, tenantID, files, Options{DryRun: opts.DryRun, MarkOnly: opts.MarkOnly})
		return res, res.Err
	})

	sum := &Summary{Total: len(tenantIDs)}
	for _, r := range results {
		detail := r.Value
		if detail == nil {
			detail = &TenantResult{TenantID: r.TenantID, Err: r.Err}
		}
		detail.Skipped = r.Skipped
		if detail.Duration == 0 {
			detail.Duration = r.Duration
		}
		switch {
		case r.Skipped:
			sum.Skipped++
		case detail.Err != nil:
			sum.Failed++
		default:
			sum.Succeeded++
		}
		sum.Details = append(sum.Details, detail)
	}
	sum.Duration = time.Since(start)
	return sum
}

// MarkAllAsApplied records pending migrations for every tenant without
// executing SQL.
func (e *Executor) MarkAllAsApplied(ctx context.Context, tenantIDs []string, files []File, opts BatchOptions) *Summary {
	opts.MarkOnly = true
	opts.DryRun = false
	return e.MigrateAll(ctx, tenantIDs, files, opts)
}
