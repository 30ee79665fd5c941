package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// SchemaHealth describes the migration state of one tenant schema.
type SchemaHealth struct {
	Schema  string `json:"schema"`
	Pending int    `json:"pending_migrations"`
	Error   string `json:"error,omitempty"`
}

// HealthProbe supplies the health handler with its checks. Pending is
// optional; when set, a schema with unapplied migrations is unhealthy since
// the repositories would query tables that do not exist yet.
type HealthProbe struct {
	Ping    func(ctx context.Context) error
	Stats   func() *PoolStats
	Schema  string
	Pending func(ctx context.Context) (int, error)
}

// PoolProbe builds a HealthProbe backed by pool.
func PoolProbe(pool *pgxpool.Pool) HealthProbe {
	return HealthProbe{
		Ping:  pool.Ping,
		Stats: func() *PoolStats { return GetPoolStats(pool.Stat()) },
	}
}

// WithMigrations adds a pending-migration check for tenantID's schema.
func (p HealthProbe) WithMigrations(m *Migrator, tenantID string) HealthProbe {
	p.Schema = SchemaName(tenantID)
	p.Pending = func(ctx context.Context) (int, error) {
		statuses, err := m.Status(ctx, p.Schema)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, s := range statuses {
			if !s.Applied {
				n++
			}
		}
		return n, nil
	}
	return p
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(stat *pgxpool.Stat) *PoolStats {
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

type healthResponse struct {
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Pool   *PoolStats    `json:"pool"`
	Schema *SchemaHealth `json:"schema,omitempty"`
}

// HealthHandler pings the database, checks the schema when the probe asks
// for it, and reports pool statistics. Any failed check answers 503.
func HealthHandler(probe HealthProbe) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "healthy", Pool: probe.Stats()}
		if err := probe.Ping(ctx); err != nil {
			resp.Status, resp.Error = "unhealthy", err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}

		if probe.Pending != nil {
			resp.Schema = &SchemaHealth{Schema: probe.Schema}
			n, err := probe.Pending(ctx)
			switch {
			case err != nil:
				resp.Status, resp.Schema.Error = "unhealthy", err.Error()
			case n > 0:
				resp.Status, resp.Schema.Pending = "unhealthy", n
			}
		}

		if resp.Status != "healthy" {
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
