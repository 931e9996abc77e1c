// Package seed runs caller-supplied data loaders against tenant and
// shared schemas. A seed function receives a live handle bound to the
// tenant's search_path and manages its own transactions; nothing is
// wrapped implicitly.
package seed

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/burrow/internal/fanout"
	"github.com/wisbric/burrow/pkg/pool"
)

// Func seeds one tenant.
type Func func(ctx context.Context, db *pgxpool.Pool, tenantID string) error

// SharedFunc seeds the shared namespace.
type SharedFunc func(ctx context.Context, db *pgxpool.Pool) error

// Result is one tenant's seeding outcome.
type Result struct {
	TenantID string
	Err      error
	Skipped  bool
	Duration time.Duration
}

// Summary aggregates a fleet-wide seeding run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Details   []Result
	Duration  time.Duration
}

// Options controls a fan-out seeding run.
type Options struct {
	Concurrency int
	OnError     func(tenantID string, err error) fanout.Action
	OnProgress  func(completed, total int, tenantID string)
}

// Seeder resolves pools and drives seed functions.
type Seeder struct {
	pools  *pool.Manager
	logger *slog.Logger
}

// NewSeeder builds a seeder on top of the pool manager.
func NewSeeder(pools *pool.Manager, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{pools: pools, logger: logger}
}

// SeedTenant runs fn against one tenant's pool.
func (s *Seeder) SeedTenant(ctx context.Context, tenantID string, fn Func) error {
	db, err := s.pools.GetDB(ctx, tenantID)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := fn(ctx, db, tenantID); err != nil {
		return err
	}
	s.logger.Info("tenant seeded", "tenant_id", tenantID, "duration", time.Since(start))
	return nil
}

// SeedTenants runs fn across tenants with bounded concurrency.
func (s *Seeder) SeedTenants(ctx context.Context, tenantIDs []string, fn Func, opts Options) *Summary {
	start := time.Now()
	results := fanout.Run(ctx, tenantIDs, fanout.Options{
		Concurrency: opts.Concurrency,
		OnError:     opts.OnError,
		OnProgress:  opts.OnProgress,
	}, func(ctx context.Context, tenantID string) (struct{}, error) {
		return struct{}{}, s.SeedTenant(ctx, tenantID, fn)
	})

	sum := &Summary{Total: len(tenantIDs)}
	for _, r := range results {
		detail := Result{
			TenantID: r.TenantID,
			Err:      r.Err,
			Skipped:  r.Skipped,
			Duration: r.Duration,
		}
		switch {
		case r.Skipped:
			sum.Skipped++
		case r.Err != nil:
			sum.Failed++
		default:
			sum.Succeeded++
		}
		sum.Details = append(sum.Details, detail)
	}
	sum.Duration = time.Since(start)
	return sum
}

// SeedShared runs fn once against the shared pool.
func (s *Seeder) SeedShared(ctx context.Context, fn SharedFunc) error {
	db, err := s.pools.GetSharedDB(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := fn(ctx, db); err != nil {
		return err
	}
	s.logger.Info("shared schema seeded", "duration", time.Since(start))
	return nil
}
