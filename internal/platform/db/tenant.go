package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
	connLockKey contextKey = "db_conn_lock"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema holding a clinic's data.
func SchemaName(tenantID string) string {
	return "tenant_" + tenantID
}

// TenantMiddleware pins one pooled connection to the request and points its
// search_path at the clinic's schema.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)

			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			ctx = bindConn(ctx, tenantID, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	// JWT claim first, then header, then query parameter.
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// ScopeToTenant acquires a connection for work that runs outside an HTTP
// request (CLI reports, the snapshot job) and binds it to the tenant schema.
// The returned release func must be called when done.
func ScopeToTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string) (context.Context, func(), error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return ctx, nil, fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID))); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("set search_path: %w", err)
	}
	return bindConn(ctx, tenantID, conn), conn.Release, nil
}

// bindConn pins conn to ctx together with the lock that serialises tasks
// sharing it.
func bindConn(ctx context.Context, tenantID string, conn *pgxpool.Conn) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return context.WithValue(ctx, connLockKey, &sync.Mutex{})
}

// CreateTenantSchema creates a clinic schema and, when migrations is non-nil,
// applies every migration to it.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrations fs.FS) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}

	schema := SchemaName(tenantID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations != nil {
		migrator := NewMigrator(pool, migrations)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}

// forkAcquireTimeout bounds how long a fork waits for a free pool connection
// before falling back to the pinned one.
const forkAcquireTimeout = 100 * time.Millisecond

// TenantForker gives concurrent tasks of one request their own connection
// bound to the request's tenant. A pinned connection runs one query at a
// time, so parallel reads must not share it.
//
// Forks never wait on each other: at most slots connections are forked
// process-wide, and an acquire that does not succeed within the timeout
// falls back to the pinned connection, taken in turn under its lock. Requests
// holding their pinned connection therefore cannot starve the pool.
type TenantForker struct {
	pool           *pgxpool.Pool
	slots          chan struct{}
	acquireTimeout time.Duration
}

func NewTenantForker(pool *pgxpool.Pool, slots int) *TenantForker {
	if slots < 0 {
		slots = 0
	}
	return &TenantForker{pool: pool, slots: make(chan struct{}, slots), acquireTimeout: forkAcquireTimeout}
}

// ForkTenant returns a fork hook that keeps half of the pool for pinned
// request connections.
func ForkTenant(pool *pgxpool.Pool) func(ctx context.Context) (context.Context, func(), error) {
	slots := 0
	if pool != nil {
		slots = int(pool.Config().MaxConns) / 2
	}
	return NewTenantForker(pool, slots).Fork
}

// Fork returns a context bound to a fresh tenant connection, or to the
// pinned connection held under its lock. The forked context carries no
// transaction. Without a tenant connection in ctx it changes nothing.
func (f *TenantForker) Fork(ctx context.Context) (context.Context, func(), error) {
	tenantID := TenantFromContext(ctx)
	if ConnFromContext(ctx) == nil || tenantID == "" {
		return ctx, func() {}, nil
	}

	select {
	case f.slots <- struct{}{}:
	default:
		return f.shared(ctx)
	}
	free := func() { <-f.slots }

	actx, cancel := context.WithTimeout(ctx, f.acquireTimeout)
	conn, err := f.pool.Acquire(actx)
	cancel()
	if err != nil {
		free()
		if ctx.Err() != nil {
			return ctx, nil, ctx.Err()
		}
		return f.shared(ctx)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID))); err != nil {
		conn.Release()
		free()
		return ctx, nil, fmt.Errorf("set search_path: %w", err)
	}
	forked := context.WithValue(bindConn(ctx, tenantID, conn), DBTxKey, nil)
	return forked, func() {
		conn.Release()
		free()
	}, nil
}

func (f *TenantForker) shared(ctx context.Context) (context.Context, func(), error) {
	mu, _ := ctx.Value(connLockKey).(*sync.Mutex)
	if mu == nil {
		return ctx, nil, errors.New("pinned connection has no lock")
	}
	mu.Lock()
	return ctx, mu.Unlock, nil
}
