package burrow

import (
	"context"
	"fmt"

	"github.com/wisbric/burrow/pkg/drift"
	"github.com/wisbric/burrow/pkg/migrate"
	"github.com/wisbric/burrow/pkg/schema"
	"github.com/wisbric/burrow/pkg/seed"
)

// Migrator is the schema-facing facade surface: migrations, sync,
// drift, seeding and tenant provisioning. Migration files are read
// from disk on each operation so a deploy can drop new files without
// restarting the process.
type Migrator struct {
	cfg      Config
	manager  *Manager
	executor *migrate.Executor
	shared   *migrate.Shared
	schemas  *schema.Manager
	detector *drift.Detector
	seeder   *seed.Seeder
}

// NewMigrator builds the migrator on top of an existing Manager.
func NewMigrator(m *Manager) *Migrator {
	cfg := m.cfg
	pools := m.Pools()
	return &Migrator{
		cfg:     cfg,
		manager: m,
		executor: migrate.NewExecutor(pools, migrate.ExecutorConfig{
			Table:         cfg.Migrations.Table,
			TableFormat:   cfg.Migrations.TableFormat,
			DefaultFormat: cfg.Migrations.DefaultFormat,
			Hooks:         cfg.migrateHooks(),
		}, cfg.Logger),
		shared: migrate.NewShared(pools, migrate.SharedConfig{
			Table:         cfg.Migrations.SharedTable,
			TableFormat:   cfg.Migrations.TableFormat,
			DefaultFormat: cfg.Migrations.DefaultFormat,
			Hooks:         cfg.migrateHooks(),
		}, cfg.Logger),
		schemas:  schema.NewManager(pools, cfg.Logger),
		detector: drift.NewDetector(pools, cfg.Migrations.Table, cfg.Logger),
		seeder:   seed.NewSeeder(pools, cfg.Logger),
	}
}

// New builds both facade halves from one config.
func New(cfg Config) (*Manager, *Migrator, error) {
	m, err := NewManager(cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, NewMigrator(m), nil
}

func (mg *Migrator) tenantFiles() ([]migrate.File, error) {
	return migrate.LoadDir(mg.cfg.Migrations.TenantFolder, false)
}

func (mg *Migrator) sharedFiles() ([]migrate.File, error) {
	if mg.cfg.Migrations.SharedFolder == "" {
		return nil, nil
	}
	return migrate.LoadDir(mg.cfg.Migrations.SharedFolder, true)
}

// DiscoverTenants enumerates the fleet via the configured discovery
// function.
func (mg *Migrator) DiscoverTenants(ctx context.Context) ([]string, error) {
	ids, err := mg.cfg.Migrations.TenantDiscovery(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering tenants: %w", err)
	}
	return ids, nil
}

// MigrateAll discovers the fleet and migrates every tenant.
func (mg *Migrator) MigrateAll(ctx context.Context, opts migrate.BatchOptions) (*migrate.Summary, error) {
	ids, err := mg.DiscoverTenants(ctx)
	if err != nil {
		return nil, err
	}
	return mg.MigrateTenants(ctx, ids, opts)
}

// MigrateTenants migrates an explicit tenant list.
func (mg *Migrator) MigrateTenants(ctx context.Context, tenantIDs []string, opts migrate.BatchOptions) (*migrate.Summary, error) {
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	return mg.executor.MigrateAll(ctx, tenantIDs, files, opts), nil
}

// MigrateTenant migrates one tenant.
func (mg *Migrator) MigrateTenant(ctx context.Context, tenantID string, opts migrate.Options) (*migrate.TenantResult, error) {
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	return mg.executor.MigrateTenant(ctx, tenantID, files, opts), nil
}

// MarkAsApplied records pending migrations for one tenant without
// executing SQL.
func (mg *Migrator) MarkAsApplied(ctx context.Context, tenantID string) (*migrate.TenantResult, error) {
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	return mg.executor.MarkAsApplied(ctx, tenantID, files), nil
}

// MarkAllAsApplied records pending migrations for the whole fleet.
func (mg *Migrator) MarkAllAsApplied(ctx context.Context, opts migrate.BatchOptions) (*migrate.Summary, error) {
	ids, err := mg.DiscoverTenants(ctx)
	if err != nil {
		return nil, err
	}
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	return mg.executor.MarkAllAsApplied(ctx, ids, files, opts), nil
}

// GetTenantStatus reports applied and pending migrations for one tenant.
func (mg *Migrator) GetTenantStatus(ctx context.Context, tenantID string) (*migrate.TenantStatus, error) {
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	return mg.executor.Status(ctx, tenantID, files)
}

// GetStatus reports migration status for the whole fleet.
func (mg *Migrator) GetStatus(ctx context.Context) ([]*migrate.TenantStatus, error) {
	ids, err := mg.DiscoverTenants(ctx)
	if err != nil {
		return nil, err
	}
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	statuses := make([]*migrate.TenantStatus, 0, len(ids))
	for _, id := range ids {
		st, err := mg.executor.Status(ctx, id, files)
		if err != nil {
			return nil, fmt.Errorf("status for tenant %s: %w", id, err)
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// CreateTenant provisions the tenant's schema and migrates it.
func (mg *Migrator) CreateTenant(ctx context.Context, tenantID string) (*migrate.TenantResult, error) {
	if err := mg.schemas.CreateSchema(ctx, tenantID); err != nil {
		return nil, err
	}
	return mg.MigrateTenant(ctx, tenantID, migrate.Options{})
}

// DropTenant evicts the tenant's pool and drops its schema.
func (mg *Migrator) DropTenant(ctx context.Context, tenantID string, opts schema.DropOptions) error {
	return mg.schemas.DropSchema(ctx, tenantID, opts)
}

// TenantExists reports whether the tenant's schema is present.
func (mg *Migrator) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	return mg.schemas.SchemaExists(ctx, tenantID)
}

// GetSyncStatus reconciles disk state against tracking tables for the
// fleet.
func (mg *Migrator) GetSyncStatus(ctx context.Context, opts migrate.BatchOptions) (*migrate.SyncSummary, error) {
	ids, err := mg.DiscoverTenants(ctx)
	if err != nil {
		return nil, err
	}
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	return mg.executor.SyncStatusAll(ctx, ids, files, opts), nil
}

// MarkMissing records unapplied-but-on-disk migrations for one tenant.
func (mg *Migrator) MarkMissing(ctx context.Context, tenantID string) (*migrate.SyncResult, error) {
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	return mg.executor.MarkMissing(ctx, tenantID, files)
}

// MarkAllMissing runs MarkMissing across the fleet.
func (mg *Migrator) MarkAllMissing(ctx context.Context) ([]*migrate.SyncResult, error) {
	ids, err := mg.DiscoverTenants(ctx)
	if err != nil {
		return nil, err
	}
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	results := make([]*migrate.SyncResult, 0, len(ids))
	for _, id := range ids {
		res, err := mg.executor.MarkMissing(ctx, id, files)
		if err != nil {
			return results, fmt.Errorf("marking missing for tenant %s: %w", id, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// CleanOrphans deletes tracking rows with no disk file for one tenant.
func (mg *Migrator) CleanOrphans(ctx context.Context, tenantID string) (*migrate.SyncResult, error) {
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	return mg.executor.CleanOrphans(ctx, tenantID, files)
}

// CleanAllOrphans runs CleanOrphans across the fleet.
func (mg *Migrator) CleanAllOrphans(ctx context.Context) ([]*migrate.SyncResult, error) {
	ids, err := mg.DiscoverTenants(ctx)
	if err != nil {
		return nil, err
	}
	files, err := mg.tenantFiles()
	if err != nil {
		return nil, err
	}
	results := make([]*migrate.SyncResult, 0, len(ids))
	for _, id := range ids {
		res, err := mg.executor.CleanOrphans(ctx, id, files)
		if err != nil {
			return results, fmt.Errorf("cleaning orphans for tenant %s: %w", id, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// GetSchemaDrift scans the discovered fleet for structural drift.
func (mg *Migrator) GetSchemaDrift(ctx context.Context) (*drift.Report, error) {
	ids, err := mg.DiscoverTenants(ctx)
	if err != nil {
		return nil, err
	}
	return mg.detector.DetectDrift(ctx, drift.DefaultOptions(ids))
}

// GetTenantSchemaDrift scans an explicit tenant list with custom options.
func (mg *Migrator) GetTenantSchemaDrift(ctx context.Context, opts drift.Options) (*drift.Report, error) {
	return mg.detector.DetectDrift(ctx, opts)
}

// IntrospectTenantSchema snapshots one tenant's structure.
func (mg *Migrator) IntrospectTenantSchema(ctx context.Context, tenantID string) (*drift.Snapshot, error) {
	return mg.detector.IntrospectTenant(ctx, tenantID, drift.DefaultOptions(nil))
}

// SeedTenant runs fn against one tenant.
func (mg *Migrator) SeedTenant(ctx context.Context, tenantID string, fn seed.Func) error {
	return mg.seeder.SeedTenant(ctx, tenantID, fn)
}

// SeedTenants runs fn across an explicit tenant list.
func (mg *Migrator) SeedTenants(ctx context.Context, tenantIDs []string, fn seed.Func, opts seed.Options) *seed.Summary {
	return mg.seeder.SeedTenants(ctx, tenantIDs, fn, opts)
}

// SeedAll discovers the fleet and seeds every tenant.
func (mg *Migrator) SeedAll(ctx context.Context, fn seed.Func, opts seed.Options) (*seed.Summary, error) {
	ids, err := mg.DiscoverTenants(ctx)
	if err != nil {
		return nil, err
	}
	return mg.seeder.SeedTenants(ctx, ids, fn, opts), nil
}

// SeedShared runs fn once against the shared namespace.
func (mg *Migrator) SeedShared(ctx context.Context, fn seed.SharedFunc) error {
	return mg.seeder.SeedShared(ctx, fn)
}

// MigrateShared applies pending shared-namespace migrations.
func (mg *Migrator) MigrateShared(ctx context.Context, opts migrate.Options) (*migrate.TenantResult, error) {
	files, err := mg.sharedFiles()
	if err != nil {
		return nil, err
	}
	return mg.shared.Migrate(ctx, files, opts), nil
}

// MarkSharedAsApplied records pending shared migrations without
// executing SQL.
func (mg *Migrator) MarkSharedAsApplied(ctx context.Context) (*migrate.TenantResult, error) {
	files, err := mg.sharedFiles()
	if err != nil {
		return nil, err
	}
	return mg.shared.MarkAsApplied(ctx, files), nil
}

// GetSharedStatus reports applied and pending shared migrations.
func (mg *Migrator) GetSharedStatus(ctx context.Context) (*migrate.TenantStatus, error) {
	files, err := mg.sharedFiles()
	if err != nil {
		return nil, err
	}
	return mg.shared.Status(ctx, files)
}
