// Package pool maintains a bounded LRU+TTL cache of per-schema
// PostgreSQL connection pools. Each tenant schema gets at most one
// pgxpool whose connections are bound to the schema via search_path;
// one distinguished shared pool serves the shared namespace and is
// never evicted.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/wisbric/burrow/pkg/retry"
	"github.com/wisbric/burrow/pkg/tenant"
)

const (
	defaultMaxPools    = 50
	defaultPoolTTL     = time.Hour
	defaultPingTimeout = 5 * time.Second
	defaultShared      = "public"

	// graceWindow bounds how long an evicted pool may take to quiesce
	// its in-flight connections before the eviction hook fires anyway.
	graceWindow = 5 * time.Second

	maxSweepInterval = time.Minute
)

// EvictReason tells the eviction hook why a pool was removed.
type EvictReason string

const (
	EvictLRU    EvictReason = "lru"
	EvictTTL    EvictReason = "ttl"
	EvictManual EvictReason = "manual"
)

// Hooks are optional lifecycle callbacks. They are invoked outside the
// cache lock and a panicking hook is recovered and logged, never
// propagated.
type Hooks struct {
	OnPoolCreated func(tenantID string)
	OnPoolEvicted func(tenantID string, reason EvictReason, err error)
}

// Config configures a Manager.
type Config struct {
	// URL is the PostgreSQL connection URL for the cluster.
	URL string

	// Per-pool connection settings.
	MaxConns    int32
	MinConns    int32
	IdleTimeout time.Duration

	// MaxPools bounds the number of concurrently cached tenant pools.
	// Defaults to 50. The shared pool does not count against it.
	MaxPools int

	// PoolTTL evicts pools idle longer than this. Defaults to 1h;
	// zero disables TTL eviction.
	PoolTTL time.Duration

	// PingTimeout bounds each health-check ping. Defaults to 5s.
	PingTimeout time.Duration

	// SharedSchema is the shared namespace, conventionally "public".
	SharedSchema string

	// SchemaName converts a tenant id to its schema name.
	// Defaults to tenant.DefaultSchemaName.
	SchemaName tenant.SchemaNameFunc

	Retry retry.Config
	Hooks Hooks
}

func (c Config) withDefaults() Config {
	if c.MaxPools == 0 {
		c.MaxPools = defaultMaxPools
	}
	if c.PoolTTL == 0 {
		c.PoolTTL = defaultPoolTTL
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = defaultPingTimeout
	}
	if c.SharedSchema == "" {
		c.SharedSchema = defaultShared
	}
	if c.SchemaName == nil {
		c.SchemaName = tenant.DefaultSchemaName
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	return c
}

// Validate checks the configuration before a Manager is built.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("pool: connection URL is required")
	}
	if c.MaxPools < 1 {
		return fmt.Errorf("pool: max pools must be >= 1, got %d", c.MaxPools)
	}
	if c.PoolTTL < 0 {
		return fmt.Errorf("pool: pool TTL must be >= 0, got %s", c.PoolTTL)
	}
	return c.Retry.Validate()
}

// CreationError is returned when a pool could not be created after
// exhausting the retry budget.
type CreationError struct {
	TenantID string
	Schema   string
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("creating pool for tenant %q (schema %q): %v", e.TenantID, e.Schema, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// ErrExhausted is returned when the cache is at capacity and no entry
// can be evicted to make room.
var ErrExhausted = errors.New("pool cache exhausted: no entry can be evicted")

// ErrDisposed is returned for operations on a disposed Manager.
var ErrDisposed = errors.New("pool manager is disposed")

type entry struct {
	pool         *pgxpool.Pool
	schema       string
	tenantID     string
	createdAt    time.Time
	lastAccessed time.Time
	elem         *list.Element
}

// Manager owns the pool cache. All cache mutation paths (GetDB miss,
// EvictPool, the TTL sweeper, Dispose) serialize on one mutex;
// per-pool acquire/release is delegated to pgxpool.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	id     string // instance id, used only in log lines

	mu       sync.Mutex
	entries  map[string]*entry // keyed by schema name
	order    *list.List        // front = least recently used
	shared   *pgxpool.Pool
	disposed bool

	group singleflight.Group

	// newPool is swappable in tests to avoid a live server.
	newPool func(ctx context.Context, schema string) (*pgxpool.Pool, error)

	done      chan struct{}
	closeOnce sync.Once
	sweeperWG sync.WaitGroup
}

// NewManager validates cfg, applies defaults, and starts the TTL sweeper.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		id:      uuid.NewString(),
		entries: make(map[string]*entry),
		order:   list.New(),
		done:    make(chan struct{}),
	}
	m.newPool = m.connect

	if cfg.PoolTTL > 0 {
		m.sweeperWG.Add(1)
		go m.sweep()
	}

	logger.Info("pool manager started",
		"manager_id", m.id,
		"max_pools", cfg.MaxPools,
		"pool_ttl", cfg.PoolTTL,
		"shared_schema", cfg.SharedSchema,
	)
	return m, nil
}

// GetDB returns the connection pool bound to the tenant's schema,
// creating it on first access. Concurrent first accesses share a
// single construction.
func (m *Manager) GetDB(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	if err := tenant.ValidateID(tenantID); err != nil {
		return nil, err
	}
	schema := m.cfg.SchemaName(tenantID)

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if e, ok := m.entries[schema]; ok {
		e.lastAccessed = time.Now()
		m.order.MoveToBack(e.elem)
		m.mu.Unlock()
		return e.pool, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("t:"+schema, func() (any, error) {
		return m.createEntry(ctx, tenantID, schema)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

// createEntry runs inside singleflight: at most one construction per
// schema is in flight at any time.
func (m *Manager) createEntry(ctx context.Context, tenantID, schema string) (*pgxpool.Pool, error) {
	// Re-check under the lock: a sibling flight may have finished
	// between our miss and this call.
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if e, ok := m.entries[schema]; ok {
		e.lastAccessed = time.Now()
		m.order.MoveToBack(e.elem)
		m.mu.Unlock()
		return e.pool, nil
	}

	// At capacity: evict the least-recently-used entry first.
	var victims []*entry
	for len(m.entries) >= m.cfg.MaxPools {
		v := m.removeOldestLocked()
		if v == nil {
			m.mu.Unlock()
			return nil, ErrExhausted
		}
		victims = append(victims, v)
	}
	m.mu.Unlock()

	for _, v := range victims {
		m.closeEvicted(v, EvictLRU)
	}

	pool, err := m.newPool(ctx, schema)
	if err != nil {
		return nil, &CreationError{TenantID: tenantID, Schema: schema, Err: err}
	}

	now := time.Now()
	e := &entry{
		pool:         pool,
		schema:       schema,
		tenantID:     tenantID,
		createdAt:    now,
		lastAccessed: now,
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		pool.Close()
		return nil, ErrDisposed
	}
	// A concurrent flight for another schema may have filled the slot
	// we made; enforce the bound again before inserting.
	for len(m.entries) >= m.cfg.MaxPools {
		v := m.removeOldestLocked()
		if v == nil {
			break
		}
		m.mu.Unlock()
		m.closeEvicted(v, EvictLRU)
		m.mu.Lock()
		// An eviction hook may dispose the manager while the lock is
		// released; inserting afterwards would leak the pool.
		if m.disposed {
			m.mu.Unlock()
			pool.Close()
			return nil, ErrDisposed
		}
	}
	e.elem = m.order.PushBack(e)
	m.entries[schema] = e
	m.mu.Unlock()

	m.logger.Debug("pool created", "manager_id", m.id, "tenant_id", tenantID, "schema", schema)
	m.fireCreated(tenantID)
	return pool, nil
}

// connect builds a pgxpool for one schema, retrying transient failures.
// Every new connection pins search_path to the schema plus the shared
// namespace.
func (m *Manager) connect(ctx context.Context, schema string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection URL: %w", err)
	}
	if m.cfg.MaxConns > 0 {
		poolCfg.MaxConns = m.cfg.MaxConns
	}
	if m.cfg.MinConns > 0 {
		poolCfg.MinConns = m.cfg.MinConns
	}
	if m.cfg.IdleTimeout > 0 {
		poolCfg.MaxConnIdleTime = m.cfg.IdleTimeout
	}

	searchPath := fmt.Sprintf("SET search_path = %s, %s",
		pgx.Identifier{schema}.Sanitize(),
		pgx.Identifier{m.cfg.SharedSchema}.Sanitize(),
	)
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, searchPath)
		return err
	}

	pool, _, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	return pool, err
}

// GetSharedDB returns the pool bound to the shared namespace, creating
// it on first access. The shared pool is never evicted.
func (m *Manager) GetSharedDB(ctx context.Context) (*pgxpool.Pool, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if m.shared != nil {
		p := m.shared
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("s:"+m.cfg.SharedSchema, func() (any, error) {
		m.mu.Lock()
		if m.shared != nil {
			p := m.shared
			m.mu.Unlock()
			return p, nil
		}
		m.mu.Unlock()

		p, err := m.newPool(ctx, m.cfg.SharedSchema)
		if err != nil {
			return nil, &CreationError{TenantID: "", Schema: m.cfg.SharedSchema, Err: err}
		}

		m.mu.Lock()
		if m.disposed {
			m.mu.Unlock()
			p.Close()
			return nil, ErrDisposed
		}
		m.shared = p
		m.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

// HasPool reports whether a live pool exists for the tenant.
func (m *Manager) HasPool(tenantID string) bool {
	schema := m.cfg.SchemaName(tenantID)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[schema]
	return ok
}

// PoolCount returns the number of cached tenant pools.
func (m *Manager) PoolCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ActiveTenantIDs returns the ids of all tenants with a live pool,
// sorted for determinism.
func (m *Manager) ActiveTenantIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		ids = append(ids, e.tenantID)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// SchemaName exposes the configured tenant-to-schema template.
func (m *Manager) SchemaName(tenantID string) string {
	return m.cfg.SchemaName(tenantID)
}

// SharedSchema returns the shared namespace name.
func (m *Manager) SharedSchema() string {
	return m.cfg.SharedSchema
}

// EvictPool removes and closes the tenant's pool if present. Eviction
// failures are routed to the eviction hook, never returned.
func (m *Manager) EvictPool(ctx context.Context, tenantID string) error {
	if err := tenant.ValidateID(tenantID); err != nil {
		return err
	}
	schema := m.cfg.SchemaName(tenantID)

	m.mu.Lock()
	e, ok := m.entries[schema]
	if ok {
		delete(m.entries, schema)
		m.order.Remove(e.elem)
	}
	m.mu.Unlock()

	if ok {
		m.closeEvicted(e, EvictManual)
	}
	return nil
}

// Warmup eagerly creates pools for the given tenants. Individual
// failures are joined into one error.
func (m *Manager) Warmup(ctx context.Context, tenantIDs []string) error {
	var errs []error
	for _, id := range tenantIDs {
		if _, err := m.GetDB(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("warmup %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Dispose tears down all pools in parallel and stops the sweeper.
// Individual teardown failures are joined into one error.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	victims := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		victims = append(victims, e)
	}
	m.entries = make(map[string]*entry)
	m.order.Init()
	shared := m.shared
	m.shared = nil
	m.mu.Unlock()

	m.closeOnce.Do(func() { close(m.done) })
	m.sweeperWG.Wait()

	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	closeOne := func(name string, p *pgxpool.Pool) {
		defer wg.Done()
		if err := closeWithGrace(p); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("disposing pool %q: %w", name, err))
			mu.Unlock()
		}
	}
	for _, e := range victims {
		wg.Add(1)
		go closeOne(e.schema, e.pool)
	}
	if shared != nil {
		wg.Add(1)
		go closeOne(m.cfg.SharedSchema, shared)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("pool manager disposed", "manager_id", m.id, "pools", len(victims))
	return errors.Join(errs...)
}

// sweep periodically evicts pools idle longer than PoolTTL. The shared
// pool is exempt and the sweeper stands down once Dispose begins.
func (m *Manager) sweep() {
	defer m.sweeperWG.Done()
	interval := m.cfg.PoolTTL / 4
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweepOnce(time.Now())
		}
	}
}

func (m *Manager) sweepOnce(now time.Time) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	var expired []*entry
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now.Sub(e.lastAccessed) > m.cfg.PoolTTL {
			delete(m.entries, e.schema)
			m.order.Remove(el)
			expired = append(expired, e)
		}
		el = next
	}
	m.mu.Unlock()

	for _, e := range expired {
		m.logger.Debug("pool expired", "manager_id", m.id, "tenant_id", e.tenantID, "idle", now.Sub(e.lastAccessed))
		m.closeEvicted(e, EvictTTL)
	}
}

// removeOldestLocked pops the LRU entry. Caller holds the lock.
func (m *Manager) removeOldestLocked() *entry {
	front := m.order.Front()
	if front == nil {
		return nil
	}
	e := front.Value.(*entry)
	m.order.Remove(front)
	delete(m.entries, e.schema)
	return e
}

// closeEvicted quiesces the pool within the grace window, then fires
// the eviction hook. Errors never reach the caller.
func (m *Manager) closeEvicted(e *entry, reason EvictReason) {
	err := closeWithGrace(e.pool)
	if err != nil {
		m.logger.Warn("evicted pool did not quiesce in time",
			"manager_id", m.id, "tenant_id", e.tenantID, "reason", string(reason))
	}
	m.fireEvicted(e.tenantID, reason, err)
}

// closeWithGrace closes a pool, waiting up to graceWindow for in-flight
// connections to be released.
func closeWithGrace(p *pgxpool.Pool) error {
	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(graceWindow):
		return fmt.Errorf("pool close did not finish within %s", graceWindow)
	}
}

func (m *Manager) fireCreated(tenantID string) {
	hook := m.cfg.Hooks.OnPoolCreated
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("OnPoolCreated hook panicked", "tenant_id", tenantID, "panic", r)
		}
	}()
	hook(tenantID)
}

func (m *Manager) fireEvicted(tenantID string, reason EvictReason, err error) {
	hook := m.cfg.Hooks.OnPoolEvicted
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("OnPoolEvicted hook panicked", "tenant_id", tenantID, "panic", r)
		}
	}()
	hook(tenantID, reason, err)
}
