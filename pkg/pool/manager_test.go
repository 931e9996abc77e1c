package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/burrow/pkg/tenant"
)

// lazyPool builds a pgxpool that never dials: pgxpool connects on first
// use, so cache behavior is testable without a server.
func lazyPool(ctx context.Context) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, "postgres://127.0.0.1:5432/burrow_test?sslmode=disable")
}

type hookRecorder struct {
	mu      sync.Mutex
	created []string
	evicted []string
	reasons []EvictReason
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnPoolCreated: func(tenantID string) {
			h.mu.Lock()
			h.created = append(h.created, tenantID)
			h.mu.Unlock()
		},
		OnPoolEvicted: func(tenantID string, reason EvictReason, err error) {
			h.mu.Lock()
			h.evicted = append(h.evicted, tenantID)
			h.reasons = append(h.reasons, reason)
			h.mu.Unlock()
		},
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *hookRecorder) {
	t.Helper()
	rec := &hookRecorder{}
	if cfg.URL == "" {
		cfg.URL = "postgres://127.0.0.1:5432/burrow_test?sslmode=disable"
	}
	cfg.Hooks = rec.hooks()
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.newPool = func(ctx context.Context, schema string) (*pgxpool.Pool, error) {
		return lazyPool(ctx)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Dispose(ctx)
	})
	return m, rec
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{URL: "postgres://x"}, false},
		{"missing url", Config{}, true},
		{"negative max pools", Config{URL: "postgres://x", MaxPools: -1}, true},
		{"negative ttl", Config{URL: "postgres://x", PoolTTL: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.withDefaults().Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDBRejectsInvalidID(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	calls := 0
	m.newPool = func(ctx context.Context, schema string) (*pgxpool.Pool, error) {
		calls++
		return lazyPool(ctx)
	}

	_, err := m.GetDB(context.Background(), "1bad")
	if !errors.Is(err, tenant.ErrInvalidID) {
		t.Fatalf("err = %v, want ErrInvalidID", err)
	}
	if calls != 0 {
		t.Errorf("pool constructor ran %d times before validation", calls)
	}
}

func TestLRUEviction(t *testing.T) {
	m, rec := newTestManager(t, Config{MaxPools: 2})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.GetDB(ctx, id); err != nil {
			t.Fatalf("GetDB(%q): %v", id, err)
		}
	}

	if m.HasPool("a") {
		t.Error("pool for a should have been evicted")
	}
	if !m.HasPool("b") || !m.HasPool("c") {
		t.Error("pools for b and c should be live")
	}
	if n := m.PoolCount(); n != 2 {
		t.Errorf("PoolCount() = %d, want 2", n)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.evicted) != 1 || rec.evicted[0] != "a" {
		t.Errorf("evicted = %v, want [a]", rec.evicted)
	}
	if rec.reasons[0] != EvictLRU {
		t.Errorf("reason = %s, want %s", rec.reasons[0], EvictLRU)
	}
}

func TestGetDBHitRefreshesRecency(t *testing.T) {
	m, rec := newTestManager(t, Config{MaxPools: 2})
	ctx := context.Background()

	mustGet := func(id string) {
		t.Helper()
		if _, err := m.GetDB(ctx, id); err != nil {
			t.Fatalf("GetDB(%q): %v", id, err)
		}
	}
	mustGet("a")
	mustGet("b")
	mustGet("a") // a becomes most recently used
	mustGet("c") // should evict b, not a

	if !m.HasPool("a") || !m.HasPool("c") {
		t.Error("pools for a and c should be live")
	}
	if m.HasPool("b") {
		t.Error("pool for b should have been evicted")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.evicted) != 1 || rec.evicted[0] != "b" {
		t.Errorf("evicted = %v, want [b]", rec.evicted)
	}
}

func TestConcurrentFirstAccess(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	var constructions atomic.Int32
	m.newPool = func(ctx context.Context, schema string) (*pgxpool.Pool, error) {
		constructions.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return lazyPool(ctx)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	pools := make([]*pgxpool.Pool, 2)
	for i := range pools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.GetDB(ctx, "t1")
			if err != nil {
				t.Errorf("GetDB: %v", err)
				return
			}
			pools[i] = p
		}()
	}
	wg.Wait()

	if n := constructions.Load(); n != 1 {
		t.Errorf("constructions = %d, want 1", n)
	}
	if pools[0] != pools[1] {
		t.Error("concurrent callers received different pools")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.created) != 1 {
		t.Errorf("OnPoolCreated fired %d times, want 1", len(rec.created))
	}
}

func TestCreationFailureLeavesNoEntry(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	boom := errors.New("boom")
	m.newPool = func(ctx context.Context, schema string) (*pgxpool.Pool, error) {
		return nil, boom
	}

	_, err := m.GetDB(context.Background(), "t1")
	var ce *CreationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CreationError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err should wrap the underlying failure")
	}
	if m.HasPool("t1") || m.PoolCount() != 0 {
		t.Error("failed creation must not leave a cache entry")
	}
}

func TestEvictPoolManual(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := m.GetDB(ctx, "t1"); err != nil {
		t.Fatalf("GetDB: %v", err)
	}
	if err := m.EvictPool(ctx, "t1"); err != nil {
		t.Fatalf("EvictPool: %v", err)
	}
	if m.HasPool("t1") {
		t.Error("pool should be gone after eviction")
	}
	// Evicting an absent pool is not an error.
	if err := m.EvictPool(ctx, "t1"); err != nil {
		t.Errorf("second EvictPool: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.evicted) != 1 || rec.reasons[0] != EvictManual {
		t.Errorf("evicted=%v reasons=%v, want one manual eviction", rec.evicted, rec.reasons)
	}
}

func TestTTLSweep(t *testing.T) {
	m, rec := newTestManager(t, Config{PoolTTL: time.Hour})
	ctx := context.Background()

	if _, err := m.GetDB(ctx, "t1"); err != nil {
		t.Fatalf("GetDB: %v", err)
	}
	if _, err := m.GetSharedDB(ctx); err != nil {
		t.Fatalf("GetSharedDB: %v", err)
	}

	m.sweepOnce(time.Now().Add(2 * time.Hour))

	if m.HasPool("t1") {
		t.Error("idle pool should have been swept")
	}
	if !m.Metrics().SharedInitialized {
		t.Error("shared pool must survive the sweep")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.reasons) != 1 || rec.reasons[0] != EvictTTL {
		t.Errorf("reasons = %v, want [ttl]", rec.reasons)
	}
}

func TestSweepSkipsFreshPools(t *testing.T) {
	m, rec := newTestManager(t, Config{PoolTTL: time.Hour})
	if _, err := m.GetDB(context.Background(), "t1"); err != nil {
		t.Fatalf("GetDB: %v", err)
	}

	m.sweepOnce(time.Now().Add(30 * time.Minute))

	if !m.HasPool("t1") {
		t.Error("fresh pool must not be swept")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.evicted) != 0 {
		t.Errorf("evicted = %v, want none", rec.evicted)
	}
}

func TestDispose(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := m.GetDB(ctx, "t1"); err != nil {
		t.Fatalf("GetDB: %v", err)
	}
	if err := m.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if _, err := m.GetDB(ctx, "t1"); !errors.Is(err, ErrDisposed) {
		t.Errorf("GetDB after dispose = %v, want ErrDisposed", err)
	}
	if _, err := m.GetSharedDB(ctx); !errors.Is(err, ErrDisposed) {
		t.Errorf("GetSharedDB after dispose = %v, want ErrDisposed", err)
	}
	// Dispose is idempotent.
	if err := m.Dispose(ctx); err != nil {
		t.Errorf("second Dispose: %v", err)
	}
}

func TestEvictionDuringInsertHonorsDispose(t *testing.T) {
	hold := make(chan struct{})
	reached := make(chan struct{})

	// Disposing from the eviction hook lands exactly between the
	// evicting goroutine's unlock and its re-lock, so the insert path
	// must notice the disposal instead of caching a new pool.
	var m *Manager
	cfg := Config{
		URL:      "postgres://127.0.0.1:5432/burrow_test?sslmode=disable",
		MaxPools: 1,
		Hooks: Hooks{
			OnPoolEvicted: func(tenantID string, reason EvictReason, err error) {
				if tenantID == "c" {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					_ = m.Dispose(ctx)
				}
			},
		},
	}
	var err error
	m, err = NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Dispose(ctx)
	})
	blocked := m.SchemaName("b")
	m.newPool = func(ctx context.Context, schema string) (*pgxpool.Pool, error) {
		if schema == blocked {
			close(reached)
			<-hold
		}
		return lazyPool(ctx)
	}

	ctx := context.Background()
	if _, err := m.GetDB(ctx, "a"); err != nil {
		t.Fatalf("GetDB(a): %v", err)
	}

	got := make(chan error, 1)
	go func() {
		_, err := m.GetDB(ctx, "b")
		got <- err
	}()

	<-reached // b evicted a and is building its pool without the lock
	if _, err := m.GetDB(ctx, "c"); err != nil {
		t.Fatalf("GetDB(c): %v", err)
	}
	close(hold) // b resumes: evicts c, whose hook disposes the manager

	if err := <-got; !errors.Is(err, ErrDisposed) {
		t.Fatalf("GetDB(b) = %v, want ErrDisposed", err)
	}
	if n := m.PoolCount(); n != 0 {
		t.Errorf("PoolCount = %d after dispose, want 0", n)
	}
}

func TestActiveTenantIDsAndMetrics(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxPools: 10})
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if _, err := m.GetDB(ctx, id); err != nil {
			t.Fatalf("GetDB(%q): %v", id, err)
		}
	}

	ids := m.ActiveTenantIDs()
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("ActiveTenantIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ActiveTenantIDs() = %v, want %v", ids, want)
		}
	}

	snap := m.Metrics()
	if snap.PoolCount != 3 {
		t.Errorf("PoolCount = %d, want 3", snap.PoolCount)
	}
	if snap.MaxPools != 10 {
		t.Errorf("MaxPools = %d, want 10", snap.MaxPools)
	}
	if len(snap.Tenants) != 3 {
		t.Errorf("Tenants = %d entries, want 3", len(snap.Tenants))
	}
	if snap.SharedInitialized {
		t.Error("shared pool should not be initialized yet")
	}
}

func TestWarmup(t *testing.T) {
	m, rec := newTestManager(t, Config{MaxPools: 10})
	if err := m.Warmup(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if m.PoolCount() != 2 {
		t.Errorf("PoolCount = %d, want 2", m.PoolCount())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.created) != 2 {
		t.Errorf("OnPoolCreated fired %d times, want 2", len(rec.created))
	}
}
