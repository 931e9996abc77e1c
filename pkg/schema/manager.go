// Package schema manages tenant schema lifecycle: creation, guarded
// drops and discovery. All DDL runs on the shared pool so that a
// tenant pool is never required to provision or tear down its schema.
package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/burrow/pkg/pool"
	"github.com/wisbric/burrow/pkg/tenant"
)

// ErrNotEmpty is returned by DropSchema when the schema still holds
// objects and neither Cascade nor Force was requested.
var ErrNotEmpty = fmt.Errorf("schema is not empty")

// Manager provisions and removes tenant schemas.
type Manager struct {
	pools  *pool.Manager
	logger *slog.Logger
}

// NewManager builds a schema manager on top of the pool manager.
func NewManager(pools *pool.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{pools: pools, logger: logger}
}

// DropOptions controls DropSchema.
type DropOptions struct {
	// Cascade drops the schema's objects along with it.
	Cascade bool

	// Force skips the emptiness guard for a plain (non-cascade) drop.
	Force bool
}

// CreateSchema creates the tenant's schema if it does not already
// exist. Safe to call repeatedly.
func (m *Manager) CreateSchema(ctx context.Context, tenantID string) error {
	if err := tenant.ValidateID(tenantID); err != nil {
		return err
	}
	db, err := m.pools.GetSharedDB(ctx)
	if err != nil {
		return err
	}

	name := m.pools.SchemaName(tenantID)
	ddl := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{name}.Sanitize())
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating schema %s: %w", name, err)
	}
	m.logger.Info("schema created", "tenant_id", tenantID, "schema", name)
	return nil
}

// DropSchema removes the tenant's schema. The cached tenant pool is
// evicted first so no connection keeps the schema in its search_path.
// A non-cascade drop refuses a non-empty schema unless forced.
func (m *Manager) DropSchema(ctx context.Context, tenantID string, opts DropOptions) error {
	if err := tenant.ValidateID(tenantID); err != nil {
		return err
	}
	if err := m.pools.EvictPool(ctx, tenantID); err != nil {
		return fmt.Errorf("evicting pool for %s: %w", tenantID, err)
	}

	db, err := m.pools.GetSharedDB(ctx)
	if err != nil {
		return err
	}
	name := m.pools.SchemaName(tenantID)

	if !opts.Cascade && !opts.Force {
		empty, err := m.schemaEmpty(ctx, db, name)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("dropping schema %s: %w", name, ErrNotEmpty)
		}
	}

	ddl := fmt.Sprintf("DROP SCHEMA IF EXISTS %s", pgx.Identifier{name}.Sanitize())
	if opts.Cascade {
		ddl += " CASCADE"
	}
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("dropping schema %s: %w", name, err)
	}
	m.logger.Info("schema dropped",
		"tenant_id", tenantID, "schema", name, "cascade", opts.Cascade)
	return nil
}

// SchemaExists reports whether the tenant's schema is present.
func (m *Manager) SchemaExists(ctx context.Context, tenantID string) (bool, error) {
	if err := tenant.ValidateID(tenantID); err != nil {
		return false, err
	}
	db, err := m.pools.GetSharedDB(ctx)
	if err != nil {
		return false, err
	}

	name := m.pools.SchemaName(tenantID)
	var exists bool
	err = db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking schema %s: %w", name, err)
	}
	return exists, nil
}

// ListTenantSchemas enumerates schemas whose names match the tenant
// naming template, excluding system schemas.
func (m *Manager) ListTenantSchemas(ctx context.Context, prefix string) ([]string, error) {
	db, err := m.pools.GetSharedDB(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name LIKE $1 || '%'
		  AND schema_name NOT LIKE 'pg\_%'
		  AND schema_name <> 'information_schema'
		ORDER BY schema_name`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing schemas: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// schemaEmpty checks for any table, view or sequence in the schema.
func (m *Manager) schemaEmpty(ctx context.Context, db querier, name string) (bool, error) {
	var count int
	err := db.QueryRow(ctx, `
		SELECT count(*)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'v', 'm', 'S', 'p')`,
		name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("inspecting schema %s: %w", name, err)
	}
	return count == 0, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
