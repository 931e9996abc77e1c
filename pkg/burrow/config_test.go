package burrow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wisbric/burrow/pkg/migrate"
	"github.com/wisbric/burrow/pkg/retry"
)

func validConfig() Config {
	return Config{
		Connection: ConnectionConfig{URL: "postgres://localhost:5432/app"},
		Migrations: MigrationsConfig{
			TenantFolder: "migrations/tenant",
			TenantDiscovery: func(ctx context.Context) ([]string, error) {
				return []string{"acme"}, nil
			},
		},
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := validConfig().withDefaults()

	if cfg.Isolation.MaxPools != 50 {
		t.Errorf("MaxPools = %d, want 50", cfg.Isolation.MaxPools)
	}
	if cfg.Isolation.PoolTTL != time.Hour {
		t.Errorf("PoolTTL = %s, want 1h", cfg.Isolation.PoolTTL)
	}
	if cfg.Isolation.SharedSchema != "public" {
		t.Errorf("SharedSchema = %q, want public", cfg.Isolation.SharedSchema)
	}
	if cfg.Isolation.SchemaName == nil {
		t.Fatal("SchemaName not defaulted")
	}
	if got := cfg.Isolation.SchemaName("acme"); got != "tenant_acme" {
		t.Errorf("SchemaName(acme) = %q, want tenant_acme", got)
	}
	if cfg.Migrations.Table != migrate.DefaultTable {
		t.Errorf("Table = %q", cfg.Migrations.Table)
	}
	if cfg.Migrations.SharedTable != migrate.DefaultSharedTable {
		t.Errorf("SharedTable = %q", cfg.Migrations.SharedTable)
	}
	if cfg.Migrations.TableFormat != migrate.FormatAuto {
		t.Errorf("TableFormat = %q, want auto", cfg.Migrations.TableFormat)
	}
	if cfg.Migrations.DefaultFormat != migrate.FormatName {
		t.Errorf("DefaultFormat = %q, want name", cfg.Migrations.DefaultFormat)
	}
	if cfg.Connection.Retry.MaxAttempts == 0 {
		t.Error("Retry not defaulted")
	}
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaulted config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty URL",
			mutate:  func(c *Config) { c.Connection.URL = "" },
			wantErr: "connection URL",
		},
		{
			name:    "max pools below one",
			mutate:  func(c *Config) { c.Isolation.MaxPools = -1 },
			wantErr: "max pools",
		},
		{
			name:    "negative pool TTL",
			mutate:  func(c *Config) { c.Isolation.PoolTTL = -time.Second },
			wantErr: "pool TTL",
		},
		{
			name:    "missing tenant discovery",
			mutate:  func(c *Config) { c.Migrations.TenantDiscovery = nil },
			wantErr: "tenant discovery",
		},
		{
			name:    "missing tenant folder",
			mutate:  func(c *Config) { c.Migrations.TenantFolder = "" },
			wantErr: "migrations folder",
		},
		{
			name:    "invalid table format",
			mutate:  func(c *Config) { c.Migrations.TableFormat = "yaml" },
			wantErr: "invalid table format",
		},
		{
			name:    "auto is not a valid default format",
			mutate:  func(c *Config) { c.Migrations.DefaultFormat = migrate.FormatAuto },
			wantErr: "invalid default format",
		},
		{
			name: "retry delay inversion",
			mutate: func(c *Config) {
				c.Connection.Retry = retry.Config{
					MaxAttempts:  3,
					InitialDelay: 10 * time.Second,
					MaxDelay:     time.Second,
					Multiplier:   2,
				}
			},
			wantErr: "delay",
		},
		{
			name: "retry multiplier below one",
			mutate: func(c *Config) {
				c.Connection.Retry = retry.Config{
					MaxAttempts:  3,
					InitialDelay: time.Second,
					MaxDelay:     10 * time.Second,
					Multiplier:   0.5,
				}
			},
			wantErr: "multiplier",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig().withDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestPoolConfigProjection(t *testing.T) {
	cfg := validConfig()
	cfg.Connection.MaxConns = 12
	cfg.Connection.MinConns = 2
	cfg.Isolation.MaxPools = 7
	cfg.Isolation.SharedSchema = "common"
	cfg = cfg.withDefaults()

	pc := cfg.poolConfig()
	if pc.URL != cfg.Connection.URL || pc.MaxConns != 12 || pc.MinConns != 2 {
		t.Errorf("connection fields not carried over: %+v", pc)
	}
	if pc.MaxPools != 7 || pc.SharedSchema != "common" {
		t.Errorf("isolation fields not carried over: %+v", pc)
	}
}
