package migrate

import (
	"context"
	"log/slog"

	"github.com/wisbric/burrow/pkg/pool"
)

// SharedLabel identifies the shared namespace in results.
const SharedLabel = "shared"

// Shared applies migrations to the shared namespace. It uses the
// shared pool — which is never evicted — and an independent tracking
// table: a shared migration applies once globally, not per tenant.
type Shared struct {
	pools  *pool.Manager
	runner runner
}

// SharedConfig configures the shared executor.
type SharedConfig struct {
	// Table is the tracking table inside the shared namespace.
	// Defaults to DefaultSharedTable.
	Table string

	TableFormat   Format
	DefaultFormat Format

	Hooks Hooks
}

// NewShared builds the shared-namespace executor.
func NewShared(pools *pool.Manager, cfg SharedConfig, logger *slog.Logger) *Shared {
	if cfg.Table == "" {
		cfg.Table = DefaultSharedTable
	}
	if cfg.TableFormat == "" {
		cfg.TableFormat = FormatAuto
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = FormatName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Shared{
		pools: pools,
		runner: runner{
			table:      cfg.Table,
			configured: cfg.TableFormat,
			fallback:   cfg.DefaultFormat,
			hooks:      cfg.Hooks,
			logger:     logger,
		},
	}
}

// Table returns the shared tracking table name.
func (s *Shared) Table() string { return s.runner.table }

// Migrate applies all pending shared migrations.
func (s *Shared) Migrate(ctx context.Context, files []File, opts Options) *TenantResult {
	db, err := s.pools.GetSharedDB(ctx)
	if err != nil {
		return &TenantResult{TenantID: SharedLabel, Err: err}
	}
	return s.runner.run(ctx, db, s.pools.SharedSchema(), SharedLabel, files, opts)
}

// MarkAsApplied records pending shared migrations without executing SQL.
func (s *Shared) MarkAsApplied(ctx context.Context, files []File) *TenantResult {
	return s.Migrate(ctx, files, Options{MarkOnly: true})
}

// Status reports applied and pending shared migrations.
func (s *Shared) Status(ctx context.Context, files []File) (*TenantStatus, error) {
	db, err := s.pools.GetSharedDB(ctx)
	if err != nil {
		return nil, err
	}
	return s.runner.status(ctx, db, s.pools.SharedSchema(), SharedLabel, files)
}
