package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/caretrack/caretrack/internal/domain/adherence"
	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/domain/patient"
	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/internal/platform/db"
	"github.com/caretrack/caretrack/migrations"
)

// globalPool is shared by every test and initialized once in TestMain.
var globalPool *pgxpool.Pool

// TestMain connects to CARETRACK_TEST_DATABASE_URL, or starts a throwaway
// Postgres container when CARETRACK_TEST_DOCKER=1. Without either the suite
// is skipped.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("CARETRACK_TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		if os.Getenv("CARETRACK_TEST_DOCKER") != "1" {
			fmt.Fprintln(os.Stderr, "integration tests skipped: set CARETRACK_TEST_DATABASE_URL or CARETRACK_TEST_DOCKER=1")
			os.Exit(0)
		}
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 8, ApplicationName: "caretrack-integration"})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// uniqueTenantID generates a unique tenant ID for test isolation.
func uniqueTenantID(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

// newTenant creates a migrated tenant schema, drops it when the test ends and
// returns a context scoped to it.
func newTenant(t *testing.T, prefix string) context.Context {
	t.Helper()
	ctx := context.Background()
	tenantID := uniqueTenantID(prefix)
	if err := db.CreateTenantSchema(ctx, globalPool, tenantID, migrations.FS); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
	t.Cleanup(func() {
		if _, err := globalPool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+db.SchemaName(tenantID)+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema for %s: %v", tenantID, err)
		}
	})

	scoped, release, err := db.ScopeToTenant(ctx, globalPool, tenantID)
	if err != nil {
		t.Fatalf("scope to tenant %s: %v", tenantID, err)
	}
	t.Cleanup(release)
	return scoped
}

type stack struct {
	patients  *patient.Service
	careItems *careitem.Service
	schedules *schedule.Service
	trends    *adherence.TrendAggregator
	dashboard *adherence.DashboardAssembler
}

// newStack wires the services the way the server does, with the wall clock
// pinned to now.
func newStack(now time.Time) *stack {
	patientSvc := patient.NewService(patient.NewPatientRepoPG(globalPool))
	careItemSvc := careitem.NewService(careitem.NewCareItemRepoPG(globalPool), db.NewTxRunner(globalPool))
	scheduleSvc := schedule.NewService(
		schedule.NewScheduleRepoPG(globalPool),
		schedule.NewHistoryRepoPG(globalPool),
		patientSvc,
		careItemSvc,
		db.NewTxRunner(globalPool),
	)
	scheduleSvc.SetClock(func() time.Time { return now }, time.UTC)

	fork := db.ForkTenant(globalPool)
	trends := adherence.NewTrendAggregator(scheduleSvc, adherence.DefaultTrendConfig(), zerolog.Nop())
	trends.SetConnScope(fork)
	dashboard := adherence.NewDashboardAssembler(patientSvc, scheduleSvc, scheduleSvc, time.Monday)
	dashboard.SetConnScope(fork)

	return &stack{
		patients:  patientSvc,
		careItems: careItemSvc,
		schedules: scheduleSvc,
		trends:    trends,
		dashboard: dashboard,
	}
}
