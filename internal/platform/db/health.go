package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// pingTimeout bounds the health check round trip so a stalled database
// cannot hang the probe.
const pingTimeout = 5 * time.Second

// PoolHealth is the snapshot reported by the database health endpoint.
type PoolHealth struct {
	Healthy           bool   `json:"healthy"`
	TotalConns        int32  `json:"total_conns"`
	IdleConns         int32  `json:"idle_conns"`
	AcquiredConns     int32  `json:"acquired_conns"`
	MaxConns          int32  `json:"max_conns"`
	AcquireCount      int64  `json:"acquire_count"`
	EmptyAcquireCount int64  `json:"empty_acquire_count"`
	AcquireDuration   string `json:"acquire_duration"`
	PingLatency       string `json:"ping_latency,omitempty"`
}

// ReadPoolHealth samples the pool counters. A pool with zero established
// connections is reported unhealthy even when the last ping succeeded.
func ReadPoolHealth(pool *pgxpool.Pool) *PoolHealth {
	s := pool.Stat()
	return &PoolHealth{
		Healthy:           s.TotalConns() > 0,
		TotalConns:        s.TotalConns(),
		IdleConns:         s.IdleConns(),
		AcquiredConns:     s.AcquiredConns(),
		MaxConns:          s.MaxConns(),
		AcquireCount:      s.AcquireCount(),
		EmptyAcquireCount: s.EmptyAcquireCount(),
		AcquireDuration:   s.AcquireDuration().String(),
	}
}

// HealthHandler serves the database health endpoint. It pings the database
// with a bounded timeout and reports pool counters alongside the result so
// operators can spot pool exhaustion before it turns into request failures.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
		defer cancel()

		start := time.Now()
		err := pool.Ping(ctx)
		latency := time.Since(start)

		health := ReadPoolHealth(pool)
		health.PingLatency = latency.String()

		if err != nil {
			health.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   health,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   health,
		})
	}
}
