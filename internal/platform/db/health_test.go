package db

import (
	"testing"
)

func TestPoolHealth_HealthyWithConns(t *testing.T) {
	h := &PoolHealth{
		Healthy:           true,
		TotalConns:        8,
		IdleConns:         3,
		AcquiredConns:     5,
		MaxConns:          20,
		AcquireCount:      412,
		EmptyAcquireCount: 2,
		AcquireDuration:   "950ms",
	}

	if !h.Healthy {
		t.Error("expected healthy pool")
	}
	if h.IdleConns+h.AcquiredConns != h.TotalConns {
		t.Errorf("idle %d + acquired %d should equal total %d", h.IdleConns, h.AcquiredConns, h.TotalConns)
	}
	if h.AcquireCount < h.EmptyAcquireCount {
		t.Errorf("acquire count %d cannot be below empty acquire count %d", h.AcquireCount, h.EmptyAcquireCount)
	}
}

func TestPoolHealth_UnhealthyWhenDrained(t *testing.T) {
	h := &PoolHealth{
		Healthy:    false,
		TotalConns: 0,
		MaxConns:   20,
	}

	if h.Healthy {
		t.Error("pool with zero connections must report unhealthy")
	}
}

func TestPoolHealth_PingLatencyOmittedWhenEmpty(t *testing.T) {
	h := &PoolHealth{Healthy: true, TotalConns: 1}
	if h.PingLatency != "" {
		t.Errorf("expected empty ping latency before measurement, got %q", h.PingLatency)
	}
}
