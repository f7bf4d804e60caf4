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
	}
}

// Check probes one backing store.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
	// Details is optional extra information included in the response.
	Details func() interface{}
}

// PoolCheck probes a Postgres pool and reports its statistics.
func PoolCheck(name string, pool *pgxpool.Pool) Check {
	return Check{
		Name:    name,
		Probe:   pool.Ping,
		Details: func() interface{} { return GetPoolStats(pool) },
	}
}

// HealthHandler runs every check with a shared 5s deadline. Any failing
// check makes the endpoint return 503.
func HealthHandler(checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]interface{}, len(checks))
		for _, chk := range checks {
			res := map[string]interface{}{"status": "healthy"}
			if err := chk.Probe(ctx); err != nil {
				status = http.StatusServiceUnavailable
				res["status"] = "unhealthy"
				res["error"] = err.Error()
			}
			if chk.Details != nil {
				res["details"] = chk.Details()
			}
			results[chk.Name] = res
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		return c.JSON(status, map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	}
}
