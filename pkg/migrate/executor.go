package migrate

import (
	"context"
	"log/slog"

	"github.com/wisbric/burrow/pkg/pool"
)

// ExecutorConfig configures the per-tenant executor.
type ExecutorConfig struct {
	// Table is the tracking table name inside each tenant schema.
	// Defaults to DefaultTable.
	Table string

	// TableFormat is the configured tracking format; FormatAuto
	// detects the existing table and falls back to DefaultFormat.
	TableFormat Format

	// DefaultFormat is used when TableFormat is auto and no tracking
	// table exists yet. Defaults to FormatName.
	DefaultFormat Format

	Hooks Hooks
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.TableFormat == "" {
		c.TableFormat = FormatAuto
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = FormatName
	}
	return c
}

// Executor applies migrations to tenant schemas, one tenant at a time;
// parallelism happens across tenants, never within one.
type Executor struct {
	pools  *pool.Manager
	runner runner
}

// NewExecutor builds a tenant migration executor on top of the pool manager.
func NewExecutor(pools *pool.Manager, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
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

// Table returns the tenant tracking table name.
func (e *Executor) Table() string { return e.runner.table }

// MigrateTenant applies all pending migrations to one tenant. Each
// migration commits atomically with its tracking-table row; the first
// failure rolls back and aborts the remainder.
func (e *Executor) MigrateTenant(ctx context.Context, tenantID string, files []File, opts Options) *TenantResult {
	db, err := e.pools.GetDB(ctx, tenantID)
	if err != nil {
		return &TenantResult{TenantID: tenantID, Err: err}
	}
	schema := e.pools.SchemaName(tenantID)
	return e.runner.run(ctx, db, schema, tenantID, files, opts)
}

// MarkAsApplied records all pending migrations in the tracking table
// without executing their SQL.
func (e *Executor) MarkAsApplied(ctx context.Context, tenantID string, files []File) *TenantResult {
	return e.MigrateTenant(ctx, tenantID, files, Options{MarkOnly: true})
}

// Status reports applied and pending migrations for one tenant.
func (e *Executor) Status(ctx context.Context, tenantID string, files []File) (*TenantStatus, error) {
	db, err := e.pools.GetDB(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	schema := e.pools.SchemaName(tenantID)
	return e.runner.status(ctx, db, schema, tenantID, files)
}
