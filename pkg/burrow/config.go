// Package burrow is the top-level facade: one Config, a Manager for
// pool lifecycle and a Migrator for everything that touches tenant
// schemas (migrations, sync, drift, seeding, provisioning).
package burrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wisbric/burrow/pkg/migrate"
	"github.com/wisbric/burrow/pkg/pool"
	"github.com/wisbric/burrow/pkg/retry"
	"github.com/wisbric/burrow/pkg/tenant"
)

// TenantDiscoveryFunc enumerates the tenant fleet for fan-out
// operations that are called without an explicit tenant list.
type TenantDiscoveryFunc func(ctx context.Context) ([]string, error)

// ConnectionConfig carries cluster connection settings.
type ConnectionConfig struct {
	// URL is the PostgreSQL connection URL.
	URL string

	MaxConns    int32
	MinConns    int32
	IdleTimeout time.Duration
	PingTimeout time.Duration

	Retry retry.Config
}

// IsolationConfig carries tenant isolation settings.
type IsolationConfig struct {
	// SchemaName maps a tenant id to its schema name. Defaults to
	// "tenant_" + id.
	SchemaName tenant.SchemaNameFunc

	// MaxPools bounds the cached tenant pools. Defaults to 50.
	MaxPools int

	// PoolTTL evicts idle pools. Defaults to 1h; zero disables.
	PoolTTL time.Duration

	// SharedSchema is the shared namespace. Defaults to "public".
	SharedSchema string
}

// MigrationsConfig carries migration discovery and tracking settings.
type MigrationsConfig struct {
	// TenantFolder holds per-tenant .sql migrations.
	TenantFolder string

	// SharedFolder holds shared-namespace migrations; optional.
	SharedFolder string

	// Table is the tenant tracking table. Defaults to
	// migrate.DefaultTable.
	Table string

	// SharedTable is the shared tracking table. Defaults to
	// migrate.DefaultSharedTable.
	SharedTable string

	// TenantDiscovery enumerates tenants for fleet-wide operations.
	TenantDiscovery TenantDiscoveryFunc

	// TableFormat is the expected tracking format; auto detects.
	TableFormat migrate.Format

	// DefaultFormat is used when detection finds no table and
	// TableFormat is auto. Defaults to name.
	DefaultFormat migrate.Format
}

// Hooks aggregates pool and migration lifecycle callbacks.
type Hooks struct {
	OnPoolCreated func(tenantID string)
	OnPoolEvicted func(tenantID string, reason pool.EvictReason, err error)

	BeforeTenant    func(tenantID string, pending int)
	AfterTenant     func(tenantID string, result *migrate.TenantResult)
	BeforeMigration func(tenantID string, file migrate.File)
	AfterMigration  func(tenantID string, file migrate.File, err error)
}

// Config is the single configuration object. Treat it as immutable
// once validated.
type Config struct {
	Connection ConnectionConfig
	Isolation  IsolationConfig
	Migrations MigrationsConfig
	Hooks      Hooks

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Isolation.SchemaName == nil {
		c.Isolation.SchemaName = tenant.DefaultSchemaName
	}
	if c.Isolation.MaxPools == 0 {
		c.Isolation.MaxPools = 50
	}
	if c.Isolation.PoolTTL == 0 {
		c.Isolation.PoolTTL = time.Hour
	}
	if c.Isolation.SharedSchema == "" {
		c.Isolation.SharedSchema = "public"
	}
	if c.Migrations.Table == "" {
		c.Migrations.Table = migrate.DefaultTable
	}
	if c.Migrations.SharedTable == "" {
		c.Migrations.SharedTable = migrate.DefaultSharedTable
	}
	if c.Migrations.TableFormat == "" {
		c.Migrations.TableFormat = migrate.FormatAuto
	}
	if c.Migrations.DefaultFormat == "" {
		c.Migrations.DefaultFormat = migrate.FormatName
	}
	if c.Connection.Retry.MaxAttempts == 0 {
		c.Connection.Retry = retry.DefaultConfig()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if c.Connection.URL == "" {
		return errors.New("burrow: connection URL is required")
	}
	if c.Isolation.MaxPools < 1 {
		return fmt.Errorf("burrow: max pools must be >= 1, got %d", c.Isolation.MaxPools)
	}
	if c.Isolation.PoolTTL < 0 {
		return fmt.Errorf("burrow: pool TTL must be >= 0, got %s", c.Isolation.PoolTTL)
	}
	if c.Isolation.SchemaName == nil {
		return errors.New("burrow: schema name function is required")
	}
	if c.Migrations.TenantDiscovery == nil {
		return errors.New("burrow: tenant discovery function is required")
	}
	if c.Migrations.TenantFolder == "" {
		return errors.New("burrow: tenant migrations folder is required")
	}
	if !c.Migrations.TableFormat.Valid(true) {
		return fmt.Errorf("burrow: invalid table format %q", c.Migrations.TableFormat)
	}
	if !c.Migrations.DefaultFormat.Valid(false) {
		return fmt.Errorf("burrow: invalid default format %q", c.Migrations.DefaultFormat)
	}
	return c.Connection.Retry.Validate()
}

// poolConfig projects the facade config onto the pool manager's.
func (c Config) poolConfig() pool.Config {
	return pool.Config{
		URL:          c.Connection.URL,
		MaxConns:     c.Connection.MaxConns,
		MinConns:     c.Connection.MinConns,
		IdleTimeout:  c.Connection.IdleTimeout,
		PingTimeout:  c.Connection.PingTimeout,
		MaxPools:     c.Isolation.MaxPools,
		PoolTTL:      c.Isolation.PoolTTL,
		SharedSchema: c.Isolation.SharedSchema,
		SchemaName:   c.Isolation.SchemaName,
		Retry:        c.Connection.Retry,
		Hooks: pool.Hooks{
			OnPoolCreated: c.Hooks.OnPoolCreated,
			OnPoolEvicted: c.Hooks.OnPoolEvicted,
		},
	}
}

func (c Config) migrateHooks() migrate.Hooks {
	return migrate.Hooks{
		BeforeTenant:    c.Hooks.BeforeTenant,
		AfterTenant:     c.Hooks.AfterTenant,
		BeforeMigration: c.Hooks.BeforeMigration,
		AfterMigration:  c.Hooks.AfterMigration,
	}
}
