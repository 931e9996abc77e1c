package drift

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wisbric/burrow/internal/fanout"
	"github.com/wisbric/burrow/pkg/pool"
)

// Options controls a fleet-wide drift scan.
type Options struct {
	// ReferenceTenant is the tenant whose schema defines the expected
	// shape. Defaults to the first entry of TenantIDs.
	ReferenceTenant string

	TenantIDs []string

	Concurrency int

	IncludeIndexes     bool
	IncludeConstraints bool

	// ExcludeTables defaults to the migration tracking table.
	ExcludeTables []string

	OnProgress func(completed, total int, tenantID string)
}

// DefaultOptions returns the standard scan scope: indexes and
// constraints included, tracking table excluded, concurrency 10.
func DefaultOptions(tenantIDs []string) Options {
	return Options{
		TenantIDs:          tenantIDs,
		Concurrency:        fanout.DefaultConcurrency,
		IncludeIndexes:     true,
		IncludeConstraints: true,
	}
}

// Detector introspects and diffs tenant schemas through the pool manager.
type Detector struct {
	pools         *pool.Manager
	trackingTable string
	logger        *slog.Logger
}

// NewDetector builds a detector. trackingTable is excluded from
// snapshots by default.
func NewDetector(pools *pool.Manager, trackingTable string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{pools: pools, trackingTable: trackingTable, logger: logger}
}

// IntrospectTenant snapshots one tenant's schema.
func (d *Detector) IntrospectTenant(ctx context.Context, tenantID string, opts Options) (*Snapshot, error) {
	db, err := d.pools.GetDB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return Introspect(ctx, db, d.pools.SchemaName(tenantID), d.introspectOptions(opts))
}

// DetectDrift snapshots the reference tenant, then diffs every other
// tenant against it with bounded concurrency. The reference itself
// appears in the report with HasDrift=false; an introspection failure
// marks only that tenant's entry.
func (d *Detector) DetectDrift(ctx context.Context, opts Options) (*Report, error) {
	if len(opts.TenantIDs) == 0 {
		return nil, fmt.Errorf("drift detection requires at least one tenant")
	}
	reference := opts.ReferenceTenant
	if reference == "" {
		reference = opts.TenantIDs[0]
	}

	start := time.Now()
	refSnap, err := d.IntrospectTenant(ctx, reference, opts)
	if err != nil {
		return nil, fmt.Errorf("introspecting reference tenant %s: %w", reference, err)
	}

	var others []string
	for _, id := range opts.TenantIDs {
		if id != reference {
			others = append(others, id)
		}
	}

	results := fanout.Run(ctx, others, fanout.Options{
		Concurrency: opts.Concurrency,
		OnProgress:  opts.OnProgress,
	}, func(ctx context.Context, tenantID string) (*TenantReport, error) {
		snap, err := d.IntrospectTenant(ctx, tenantID, opts)
		if err != nil {
			return nil, err
		}
		tables := Diff(refSnap, snap)
		return &TenantReport{
			TenantID: tenantID,
			HasDrift: hasDrift(tables),
			Tables:   tables,
		}, nil
	})

	report := &Report{
		ReferenceTenant: reference,
		Timestamp:       start,
		Details:         []*TenantReport{{TenantID: reference}},
	}
	report.NoDrift++ // the reference

	for _, r := range results {
		tr := r.Value
		if tr == nil {
			tr = &TenantReport{TenantID: r.TenantID, Err: r.Err, Skipped: r.Skipped}
		}
		switch {
		case tr.Skipped:
			report.Skipped++
		case tr.Err != nil:
			report.Errored++
			d.logger.Warn("drift introspection failed",
				"tenant_id", tr.TenantID, "error", tr.Err)
		case tr.HasDrift:
			report.WithDrift++
		default:
			report.NoDrift++
		}
		report.Details = append(report.Details, tr)
	}
	report.Duration = time.Since(start)
	return report, nil
}

func (d *Detector) introspectOptions(opts Options) IntrospectOptions {
	exclude := opts.ExcludeTables
	if exclude == nil && d.trackingTable != "" {
		exclude = []string{d.trackingTable}
	}
	return IntrospectOptions{
		IncludeIndexes:     opts.IncludeIndexes,
		IncludeConstraints: opts.IncludeConstraints,
		ExcludeTables:      exclude,
	}
}
