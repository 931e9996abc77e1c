package app

import (
	"testing"

	"github.com/wisbric/burrow/internal/config"
	"github.com/wisbric/burrow/internal/fanout"
)

func TestDriftOptions(t *testing.T) {
	ids := []string{"t1", "t2", "t3"}

	t.Run("configured reference and concurrency", func(t *testing.T) {
		cfg := &config.Config{DriftReference: "t2", Concurrency: 4}
		opts := driftOptions(cfg, ids)
		if opts.ReferenceTenant != "t2" {
			t.Errorf("ReferenceTenant = %q, want t2", opts.ReferenceTenant)
		}
		if opts.Concurrency != 4 {
			t.Errorf("Concurrency = %d, want 4", opts.Concurrency)
		}
		if len(opts.TenantIDs) != 3 {
			t.Errorf("TenantIDs = %v", opts.TenantIDs)
		}
		if !opts.IncludeIndexes || !opts.IncludeConstraints {
			t.Error("indexes and constraints must stay in scope")
		}
	})

	t.Run("defaults when unset", func(t *testing.T) {
		opts := driftOptions(&config.Config{}, ids)
		if opts.ReferenceTenant != "" {
			t.Errorf("ReferenceTenant = %q, want empty", opts.ReferenceTenant)
		}
		if opts.Concurrency != fanout.DefaultConcurrency {
			t.Errorf("Concurrency = %d, want %d", opts.Concurrency, fanout.DefaultConcurrency)
		}
	})
}
