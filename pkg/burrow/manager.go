package burrow

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/burrow/pkg/pool"
)

// Manager is the pool-facing facade surface.
type Manager struct {
	cfg   Config
	pools *pool.Manager
}

// NewManager validates cfg and builds the pool manager behind the
// facade. Dispose must be called to release cached pools.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pools, err := pool.NewManager(cfg.poolConfig(), cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, pools: pools}, nil
}

// GetDB returns the tenant's schema-bound pool, creating it on first
// access.
func (m *Manager) GetDB(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	return m.pools.GetDB(ctx, tenantID)
}

// GetSharedDB returns the shared-namespace pool.
func (m *Manager) GetSharedDB(ctx context.Context) (*pgxpool.Pool, error) {
	return m.pools.GetSharedDB(ctx)
}

// GetSchemaName maps a tenant id to its schema name.
func (m *Manager) GetSchemaName(tenantID string) string {
	return m.pools.SchemaName(tenantID)
}

// EvictPool removes and closes the tenant's cached pool if present.
func (m *Manager) EvictPool(ctx context.Context, tenantID string) error {
	return m.pools.EvictPool(ctx, tenantID)
}

// Warmup pre-creates pools for the given tenants.
func (m *Manager) Warmup(ctx context.Context, tenantIDs []string) error {
	return m.pools.Warmup(ctx, tenantIDs)
}

// HealthCheck pings cached pools and classifies each.
func (m *Manager) HealthCheck(ctx context.Context, opts pool.HealthCheckOptions) (*pool.HealthReport, error) {
	return m.pools.HealthCheck(ctx, opts)
}

// Metrics snapshots cache and per-pool connection statistics.
func (m *Manager) Metrics() pool.Metrics {
	return m.pools.Metrics()
}

// Dispose closes every cached pool and stops background work.
func (m *Manager) Dispose(ctx context.Context) error {
	return m.pools.Dispose(ctx)
}

// Pools exposes the underlying pool manager for composition with the
// Migrator and the tenant middleware provider.
func (m *Manager) Pools() *pool.Manager {
	return m.pools
}
