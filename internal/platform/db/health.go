package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool section of the health report.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status            string    `json:"status"`
	Database          string    `json:"database"`
	PendingMigrations int       `json:"pending_migrations"`
	Pool              PoolStats `json:"pool"`
	Error             string    `json:"error,omitempty"`
}

func poolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
	}
}

func pendingMigrations(statuses []MigrationStatus) int {
	n := 0
	for _, s := range statuses {
		if !s.Applied {
			n++
		}
	}
	return n
}

// HealthHandler pings the database and reports pool usage and unapplied
// migrations. It answers 503 when the database is unreachable or the schema
// is behind the binary.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := HealthReport{Status: "healthy", Database: "up", Pool: poolStats(pool)}

		if err := pool.Ping(ctx); err != nil {
			report.Status = "unhealthy"
			report.Database = "down"
			report.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, report)
		}

		statuses, err := migrator.Status(ctx)
		if err != nil {
			report.Status = "unhealthy"
			report.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		report.PendingMigrations = pendingMigrations(statuses)
		if report.PendingMigrations > 0 {
			report.Status = "migrations pending"
			return c.JSON(http.StatusServiceUnavailable, report)
		}

		return c.JSON(http.StatusOK, report)
	}
}
