// Package app wires config, telemetry and the facade, and dispatches
// the selected run mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/burrow/internal/config"
	"github.com/wisbric/burrow/internal/telemetry"
	"github.com/wisbric/burrow/pkg/burrow"
	"github.com/wisbric/burrow/pkg/drift"
	"github.com/wisbric/burrow/pkg/migrate"
	"github.com/wisbric/burrow/pkg/pool"
	"github.com/wisbric/burrow/pkg/seed"
)

// Run is the main entry point. It builds the facade from config and
// runs the selected mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting burrow",
		"mode", cfg.Mode,
		"max_pools", cfg.MaxPools,
		"pool_ttl", cfg.PoolTTL,
		"tenants", len(cfg.Tenants),
	)

	// Metrics registry is created even without exposition so collectors
	// are exercised and panics on duplicate registration surface early.
	telemetry.NewMetricsRegistry()

	bcfg := cfg.Burrow()
	bcfg.Logger = logger
	bcfg.Hooks.OnPoolCreated = func(tenantID string) {
		telemetry.PoolsActive.Inc()
	}
	bcfg.Hooks.OnPoolEvicted = func(tenantID string, reason pool.EvictReason, err error) {
		telemetry.PoolsActive.Dec()
		telemetry.PoolEvictionsTotal.WithLabelValues(string(reason)).Inc()
	}
	bcfg.Hooks.AfterMigration = func(tenantID string, file migrate.File, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		telemetry.MigrationsAppliedTotal.WithLabelValues(result).Inc()
	}
	bcfg.Hooks.AfterTenant = func(tenantID string, result *migrate.TenantResult) {
		telemetry.MigrationDuration.Observe(result.Duration.Seconds())
	}

	manager, migrator, err := burrow.New(bcfg)
	if err != nil {
		return fmt.Errorf("building facade: %w", err)
	}
	defer func() {
		disposeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Dispose(disposeCtx); err != nil {
			logger.Error("disposing pools", "error", err)
		}
	}()

	switch cfg.Mode {
	case "migrate":
		return runMigrate(ctx, cfg, logger, migrator)
	case "status":
		return runStatus(ctx, logger, migrator)
	case "sync":
		return runSync(ctx, cfg, logger, migrator)
	case "drift":
		return runDrift(ctx, cfg, logger, migrator)
	case "seed":
		return runSeed(ctx, cfg, logger, migrator)
	case "health":
		return runHealth(ctx, logger, manager)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// runMigrate applies shared migrations first, then fans out across the
// tenant fleet.
func runMigrate(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrator *burrow.Migrator) error {
	shared, err := migrator.MigrateShared(ctx, migrate.Options{DryRun: cfg.DryRun})
	if err != nil {
		return fmt.Errorf("shared migrations: %w", err)
	}
	if shared.Err != nil {
		return fmt.Errorf("shared migrations: %w", shared.Err)
	}
	logger.Info("shared migrations done",
		"applied", len(shared.AppliedMigrations), "format", shared.Format)

	sum, err := migrator.MigrateAll(ctx, migrate.BatchOptions{
		Concurrency: cfg.Concurrency,
		DryRun:      cfg.DryRun,
		OnProgress: func(completed, total int, tenantID string) {
			logger.Info("tenant migrated", "tenant_id", tenantID, "completed", completed, "total", total)
		},
	})
	if err != nil {
		return err
	}
	logger.Info("fleet migration done",
		"total", sum.Total,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"duration", sum.Duration,
	)
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d tenants failed to migrate", sum.Failed, sum.Total)
	}
	return nil
}

func runStatus(ctx context.Context, logger *slog.Logger, migrator *burrow.Migrator) error {
	sharedStatus, err := migrator.GetSharedStatus(ctx)
	if err != nil {
		return fmt.Errorf("shared status: %w", err)
	}
	logger.Info("shared status",
		"format", sharedStatus.Format,
		"applied", len(sharedStatus.Applied),
		"pending", len(sharedStatus.Pending),
	)

	statuses, err := migrator.GetStatus(ctx)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		logger.Info("tenant status",
			"tenant_id", st.TenantID,
			"format", st.Format,
			"applied", len(st.Applied),
			"pending", len(st.Pending),
		)
	}
	return nil
}

func runSync(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrator *burrow.Migrator) error {
	sum, err := migrator.GetSyncStatus(ctx, migrate.BatchOptions{Concurrency: cfg.Concurrency})
	if err != nil {
		return err
	}
	for _, st := range sum.Details {
		if st.Err != nil {
			logger.Error("sync status failed", "tenant_id", st.TenantID, "error", st.Err)
			continue
		}
		if !st.InSync {
			logger.Warn("tenant out of sync",
				"tenant_id", st.TenantID,
				"missing", st.Missing,
				"orphans", st.Orphans,
			)
		}
	}
	logger.Info("sync scan done",
		"total", sum.Total,
		"in_sync", sum.InSync,
		"out_of_sync", sum.OutOfSync,
		"failed", sum.Failed,
	)
	if sum.Failed > 0 {
		return errors.New("sync status failed for some tenants")
	}
	return nil
}

// driftOptions builds the scan options from configuration. An empty
// reference tenant falls back to the first discovered tenant inside
// the detector.
func driftOptions(cfg *config.Config, tenantIDs []string) drift.Options {
	opts := drift.DefaultOptions(tenantIDs)
	opts.ReferenceTenant = cfg.DriftReference
	if cfg.Concurrency > 0 {
		opts.Concurrency = cfg.Concurrency
	}
	return opts
}

func runDrift(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrator *burrow.Migrator) error {
	ids, err := migrator.DiscoverTenants(ctx)
	if err != nil {
		return err
	}
	report, err := migrator.GetTenantSchemaDrift(ctx, driftOptions(cfg, ids))
	if err != nil {
		return err
	}
	for _, tr := range report.Details {
		issues := 0
		for _, tbl := range tr.Tables {
			if tbl.Status != drift.TableOK {
				issues++
			}
		}
		telemetry.DriftIssues.WithLabelValues(tr.TenantID).Set(float64(issues))
		if tr.HasDrift {
			logger.Warn("schema drift detected", "tenant_id", tr.TenantID, "tables", issues)
		}
	}
	logger.Info("drift scan done",
		"reference", report.ReferenceTenant,
		"no_drift", report.NoDrift,
		"with_drift", report.WithDrift,
		"errored", report.Errored,
		"duration", report.Duration,
	)
	if report.WithDrift > 0 || report.Errored > 0 {
		return fmt.Errorf("drift detected in %d tenants (%d errored)", report.WithDrift, report.Errored)
	}
	return nil
}

// runSeed demonstrates the seeding surface with a no-op closure; real
// deployments inject their own seed functions through the library API.
func runSeed(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrator *burrow.Migrator) error {
	sum, err := migrator.SeedAll(ctx, func(ctx context.Context, db *pgxpool.Pool, tenantID string) error {
		_, err := db.Exec(ctx, "SELECT 1")
		return err
	}, seed.Options{Concurrency: cfg.Concurrency})
	if err != nil {
		return err
	}
	logger.Info("seeding done",
		"total", sum.Total, "succeeded", sum.Succeeded, "failed", sum.Failed)
	if sum.Failed > 0 {
		return errors.New("seeding failed for some tenants")
	}
	return nil
}

func runHealth(ctx context.Context, logger *slog.Logger, manager *burrow.Manager) error {
	report, err := manager.HealthCheck(ctx, pool.HealthCheckOptions{})
	if err != nil {
		return err
	}
	for _, p := range report.Pools {
		logger.Info("pool health",
			"tenant_id", p.TenantID, "status", p.Status, "ping", p.PingTime)
	}
	logger.Info("health check done",
		"healthy", report.Healthy,
		"total", report.TotalPools,
		"degraded", report.DegradedPools,
		"unhealthy", report.UnhealthyPools,
	)
	if !report.Healthy {
		return errors.New("one or more pools unhealthy")
	}
	return nil
}
