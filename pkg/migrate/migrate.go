// Package migrate discovers SQL migration files on disk and applies
// them per tenant schema, tracking progress in a per-schema table that
// may use one of three recognized column layouts. It also reconciles
// disk state against the tracking table (sync) and fans out across
// the tenant fleet with bounded concurrency.
package migrate

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Format tags the tracking table's column layout.
type Format string

const (
	// FormatAuto means "detect, fall back to the configured default".
	FormatAuto Format = "auto"
	// FormatName records migrations by file name.
	FormatName Format = "name"
	// FormatHash records migrations by content hash with a timestamptz.
	FormatHash Format = "hash"
	// FormatDrizzleKit records migrations by content hash with a
	// bigint millisecond timestamp, matching drizzle-kit's layout.
	FormatDrizzleKit Format = "drizzle-kit"
)

// Valid reports whether f names a known format. allowAuto permits the
// auto placeholder.
func (f Format) Valid(allowAuto bool) bool {
	switch f {
	case FormatName, FormatHash, FormatDrizzleKit:
		return true
	case FormatAuto:
		return allowAuto
	default:
		return false
	}
}

// DefaultTable is the tenant tracking table name.
const DefaultTable = "__drizzle_migrations"

// DefaultSharedTable is the shared-namespace tracking table name.
const DefaultSharedTable = "__drizzle_shared_migrations"

// ErrUnknownFormat is returned when an existing tracking table matches
// none of the recognized layouts. The tenant is unusable for
// migrations but other tenants continue.
var ErrUnknownFormat = errors.New("tracking table format not recognized")

// DB is the slice of pgxpool this package needs. *pgxpool.Pool
// satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Applied is one tracking-table row.
type Applied struct {
	Identifier string
	AppliedAt  time.Time
}

// TenantResult reports one tenant's migration run.
type TenantResult struct {
	TenantID          string
	Success           bool
	AppliedMigrations []string
	Skipped           bool
	Err               error
	Duration          time.Duration
	Format            Format
}

// TenantStatus reports applied vs pending for one tenant.
type TenantStatus struct {
	TenantID string
	Format   Format
	Applied  []Applied
	Pending  []string
}

// Hooks are optional callbacks around migration steps. A failing or
// panicking hook is logged and never fails the surrounding operation.
type Hooks struct {
	BeforeTenant    func(tenantID string, pending int)
	AfterTenant     func(tenantID string, result *TenantResult)
	BeforeMigration func(tenantID string, file File)
	AfterMigration  func(tenantID string, file File, err error)
}

// Options controls a single-tenant migration run.
type Options struct {
	// DryRun reports what would be applied without touching the
	// database.
	DryRun bool

	// MarkOnly records migrations in the tracking table without
	// executing their SQL.
	MarkOnly bool

	// OnProgress fires after each applied migration.
	OnProgress func(tenantID, migration string, applied, total int)
}

// Pending returns the ordered subsequence of files not yet applied.
// For the name format the identifier is the file name; hash formats
// accept either the name or the hash, tolerating rows written under a
// prior format.
func Pending(files []File, applied map[string]struct{}, format Format) []File {
	var out []File
	for _, f := range files {
		if format == FormatName {
			if _, ok := applied[f.Name]; ok {
				continue
			}
		} else {
			if _, ok := applied[f.Hash]; ok {
				continue
			}
			if _, ok := applied[f.Name]; ok {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}
