// Package config maps environment variables onto the facade
// configuration. The binary is env-driven; library consumers build a
// burrow.Config directly and never touch this package.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/wisbric/burrow/pkg/burrow"
	"github.com/wisbric/burrow/pkg/migrate"
)

// Config holds all environment-driven settings.
type Config struct {
	// Mode selects what the binary does.
	Mode string `env:"BURROW_MODE" envDefault:"migrate"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Database
	DatabaseURL string        `env:"DATABASE_URL"`
	MaxConns    int32         `env:"BURROW_MAX_CONNS" envDefault:"4"`
	MinConns    int32         `env:"BURROW_MIN_CONNS" envDefault:"0"`
	IdleTimeout time.Duration `env:"BURROW_IDLE_TIMEOUT" envDefault:"5m"`
	PingTimeout time.Duration `env:"BURROW_PING_TIMEOUT" envDefault:"5s"`

	// Isolation
	SchemaPrefix string        `env:"BURROW_SCHEMA_PREFIX" envDefault:"tenant_"`
	SharedSchema string        `env:"BURROW_SHARED_SCHEMA" envDefault:"public"`
	MaxPools     int           `env:"BURROW_MAX_POOLS" envDefault:"50"`
	PoolTTL      time.Duration `env:"BURROW_POOL_TTL" envDefault:"1h"`

	// Migrations
	MigrationsTenantDir string `env:"MIGRATIONS_TENANT_DIR" envDefault:"migrations/tenant"`
	MigrationsSharedDir string `env:"MIGRATIONS_SHARED_DIR"`
	MigrationsTable     string `env:"BURROW_MIGRATIONS_TABLE" envDefault:"__drizzle_migrations"`
	SharedTable         string `env:"BURROW_SHARED_TABLE" envDefault:"__drizzle_shared_migrations"`
	TableFormat         string `env:"BURROW_TABLE_FORMAT" envDefault:"auto"`
	DefaultFormat       string `env:"BURROW_DEFAULT_FORMAT" envDefault:"name"`

	// Fleet
	Tenants        []string `env:"BURROW_TENANTS" envSeparator:","`
	Concurrency    int      `env:"BURROW_CONCURRENCY" envDefault:"10"`
	DriftReference string   `env:"BURROW_DRIFT_REFERENCE"`
	DryRun         bool     `env:"BURROW_DRY_RUN"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// Burrow projects the env config onto the facade config. The tenant
// fleet comes from the static BURROW_TENANTS list.
func (c *Config) Burrow() burrow.Config {
	tenants := c.Tenants
	return burrow.Config{
		Connection: burrow.ConnectionConfig{
			URL:         c.DatabaseURL,
			MaxConns:    c.MaxConns,
			MinConns:    c.MinConns,
			IdleTimeout: c.IdleTimeout,
			PingTimeout: c.PingTimeout,
		},
		Isolation: burrow.IsolationConfig{
			SchemaName:   func(tenantID string) string { return c.SchemaPrefix + tenantID },
			MaxPools:     c.MaxPools,
			PoolTTL:      c.PoolTTL,
			SharedSchema: c.SharedSchema,
		},
		Migrations: burrow.MigrationsConfig{
			TenantFolder:  c.MigrationsTenantDir,
			SharedFolder:  c.MigrationsSharedDir,
			Table:         c.MigrationsTable,
			SharedTable:   c.SharedTable,
			TableFormat:   migrate.Format(c.TableFormat),
			DefaultFormat: migrate.Format(c.DefaultFormat),
			TenantDiscovery: func(ctx context.Context) ([]string, error) {
				return tenants, nil
			},
		},
	}
}
