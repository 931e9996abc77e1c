package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Resolver identifies the tenant for the current request.
type Resolver interface {
	Resolve(r *http.Request) (id string, err error)
}

// HeaderResolver resolves the tenant from a request header.
// Intended for development and testing; production should use JWT/API-key resolvers.
type HeaderResolver struct {
	Header string // defaults to X-Tenant-ID
}

func (h HeaderResolver) Resolve(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = "X-Tenant-ID"
	}
	id := r.Header.Get(name)
	if id == "" {
		return "", fmt.Errorf("missing %s header", name)
	}
	return id, nil
}

// DBProvider is the slice of the pool manager the middleware needs.
type DBProvider interface {
	GetDB(ctx context.Context, tenantID string) (*pgxpool.Pool, error)
	GetSharedDB(ctx context.Context) (*pgxpool.Pool, error)
}

// Middleware returns an HTTP middleware that resolves the tenant,
// obtains the tenant-scoped and shared handles, and stores the binding
// in the request context for downstream handlers.
func Middleware(provider DBProvider, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "tenant resolution failed")
				return
			}
			if err := ValidateID(id); err != nil {
				respondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
				return
			}

			tenantDB, err := provider.GetDB(r.Context(), id)
			if err != nil {
				logger.Error("acquiring tenant pool", "tenant_id", id, "error", err)
				respondError(w, http.StatusServiceUnavailable, "unavailable", "tenant database unavailable")
				return
			}
			sharedDB, err := provider.GetSharedDB(r.Context())
			if err != nil {
				logger.Error("acquiring shared pool", "error", err)
				respondError(w, http.StatusServiceUnavailable, "unavailable", "shared database unavailable")
				return
			}

			ctx := NewContext(r.Context(), &Context{
				TenantID: id,
				TenantDB: tenantDB,
				SharedDB: sharedDB,
			})

			logger.Debug("tenant resolved", "tenant_id", id)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// respondError writes a JSON error response without importing an HTTP framework.
func respondError(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
