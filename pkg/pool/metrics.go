package pool

import (
	"sort"
	"time"
)

// Stats is a point-in-time view of one pgxpool.
type Stats struct {
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	MaxConns      int32
}

// TenantMetrics describes one cached tenant pool.
type TenantMetrics struct {
	TenantID       string
	Schema         string
	Stats          Stats
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Metrics is a read-only snapshot of the cache. It carries values
// only; rendering (Prometheus or otherwise) happens elsewhere.
type Metrics struct {
	PoolCount         int
	MaxPools          int
	Tenants           []TenantMetrics
	SharedInitialized bool
	SharedStats       Stats
	Timestamp         time.Time
}

// Metrics returns a snapshot of the pool cache.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	snap := Metrics{
		PoolCount: len(m.entries),
		MaxPools:  m.cfg.MaxPools,
		Timestamp: time.Now(),
	}
	for _, e := range m.entries {
		st := e.pool.Stat()
		snap.Tenants = append(snap.Tenants, TenantMetrics{
			TenantID: e.tenantID,
			Schema:   e.schema,
			Stats: Stats{
				TotalConns:    st.TotalConns(),
				IdleConns:     st.IdleConns(),
				AcquiredConns: st.AcquiredConns(),
				MaxConns:      st.MaxConns(),
			},
			CreatedAt:      e.createdAt,
			LastAccessedAt: e.lastAccessed,
		})
	}
	if m.shared != nil {
		st := m.shared.Stat()
		snap.SharedInitialized = true
		snap.SharedStats = Stats{
			TotalConns:    st.TotalConns(),
			IdleConns:     st.IdleConns(),
			AcquiredConns: st.AcquiredConns(),
			MaxConns:      st.MaxConns(),
		}
	}
	m.mu.Unlock()

	sort.Slice(snap.Tenants, func(i, j int) bool {
		return snap.Tenants[i].TenantID < snap.Tenants[j].TenantID
	})
	return snap
}
