// Package tenant defines tenant identity, schema naming, and the
// per-request context holder used by HTTP adapters.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

// idPattern matches valid tenant identifiers. The schema name derived
// from an id must itself be a valid PostgreSQL identifier, so ids are
// restricted to identifier-safe characters.
var idPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// maxIDLen is the PostgreSQL identifier limit.
const maxIDLen = 63

// ErrInvalidID is returned for tenant ids that fail validation.
var ErrInvalidID = errors.New("invalid tenant id")

// ValidateID checks a tenant id before any I/O is attempted on its behalf.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidID, id, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// SchemaNameFunc converts a tenant id to its PostgreSQL schema name.
// The result must be a valid identifier.
type SchemaNameFunc func(id string) string

// DefaultSchemaName is the conventional tenant_<id> template.
func DefaultSchemaName(id string) string {
	return fmt.Sprintf("tenant_%s", id)
}

// Context holds the per-request tenant binding handed to application
// handlers: the tenant id plus borrowed database handles. The handles
// are owned by the pool manager and must not be retained past the
// request.
type Context struct {
	TenantID string
	TenantDB *pgxpool.Pool
	SharedDB *pgxpool.Pool
}

type contextKey string

const holderKey contextKey = "tenant_context"

// NewContext stores the tenant binding in the context.
func NewContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, holderKey, tc)
}

// FromContext extracts the tenant binding from the context.
// Returns nil if no tenant is set.
func FromContext(ctx context.Context) *Context {
	v, _ := ctx.Value(holderKey).(*Context)
	return v
}
