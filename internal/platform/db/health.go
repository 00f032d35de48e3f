package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Probe checks one dependency besides the database, e.g. the ledger peer.
type Probe func(ctx context.Context) error

// HealthHandler pings the pool and every named probe. Any failure turns the
// response into a 503.
func HealthHandler(pool *pgxpool.Pool, probes map[string]Probe) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]interface{}{"status": "healthy"}

		stats := GetPoolStats(pool)
		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			status = http.StatusServiceUnavailable
			body["error"] = err.Error()
		}
		body["pool"] = stats

		checks := runProbes(ctx, probes)
		for _, result := range checks {
			if result != "ok" {
				status = http.StatusServiceUnavailable
			}
		}
		if len(checks) > 0 {
			body["checks"] = checks
		}

		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}

func runProbes(ctx context.Context, probes map[string]Probe) map[string]string {
	results := make(map[string]string, len(probes))
	for name, probe := range probes {
		if err := probe(ctx); err != nil {
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	return results
}
