package pool

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Status classifies one pool's health.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// PoolHealth is the probe result for one pool.
type PoolHealth struct {
	TenantID string
	Schema   string
	Status   Status
	PingTime time.Duration
	Error    string
}

// HealthReport aggregates a health check across pools.
type HealthReport struct {
	Healthy        bool
	TotalPools     int
	DegradedPools  int
	UnhealthyPools int
	Duration       time.Duration
	Pools          []PoolHealth
	Shared         *PoolHealth
}

// HealthCheckOptions narrows a health check. Zero value checks every
// active tenant pool plus the shared pool.
type HealthCheckOptions struct {
	TenantIDs   []string
	PingTimeout time.Duration
}

// HealthCheck pings each requested pool with a per-pool deadline and
// classifies it: ok when the ping finishes within half the timeout and
// the pool has spare capacity, degraded when slower or saturated,
// unhealthy on error or timeout.
func (m *Manager) HealthCheck(ctx context.Context, opts HealthCheckOptions) (*HealthReport, error) {
	start := time.Now()
	timeout := opts.PingTimeout
	if timeout == 0 {
		timeout = m.cfg.PingTimeout
	}

	type probe struct {
		tenantID string
		schema   string
		pool     *pgxpool.Pool
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	var probes []probe
	if len(opts.TenantIDs) == 0 {
		for _, e := range m.entries {
			probes = append(probes, probe{e.tenantID, e.schema, e.pool})
		}
	} else {
		for _, id := range opts.TenantIDs {
			if e, ok := m.entries[m.cfg.SchemaName(id)]; ok {
				probes = append(probes, probe{e.tenantID, e.schema, e.pool})
			}
		}
	}
	shared := m.shared
	m.mu.Unlock()

	results := make([]PoolHealth, len(probes))
	var sharedResult *PoolHealth

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		g.Go(func() error {
			results[i] = pingPool(gctx, p.tenantID, p.schema, p.pool, timeout)
			return nil
		})
	}
	if shared != nil {
		g.Go(func() error {
			r := pingPool(gctx, "", m.cfg.SharedSchema, shared, timeout)
			sharedResult = &r
			return nil
		})
	}
	_ = g.Wait()

	report := &HealthReport{
		Healthy:    true,
		TotalPools: len(probes),
		Pools:      results,
		Shared:     sharedResult,
		Duration:   time.Since(start),
	}
	tally := func(h PoolHealth) {
		switch h.Status {
		case StatusDegraded:
			report.DegradedPools++
			report.Healthy = false
		case StatusUnhealthy:
			report.UnhealthyPools++
			report.Healthy = false
		}
	}
	for _, h := range results {
		tally(h)
	}
	if sharedResult != nil {
		tally(*sharedResult)
	}
	return report, nil
}

func pingPool(ctx context.Context, tenantID, schema string, p *pgxpool.Pool, timeout time.Duration) PoolHealth {
	h := PoolHealth{TenantID: tenantID, Schema: schema}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(pingCtx)
	h.PingTime = time.Since(start)

	if err != nil {
		h.Status = StatusUnhealthy
		h.Error = err.Error()
		return h
	}

	stat := p.Stat()
	saturated := stat.MaxConns() > 0 && stat.AcquiredConns() >= stat.MaxConns()
	if h.PingTime <= timeout/2 && !saturated {
		h.Status = StatusOK
	} else {
		h.Status = StatusDegraded
	}
	return h
}
