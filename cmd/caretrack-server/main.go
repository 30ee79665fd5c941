package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caretrack/caretrack/internal/config"
	"github.com/caretrack/caretrack/internal/domain/adherence"
	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/domain/patient"
	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/internal/platform/auth"
	"github.com/caretrack/caretrack/internal/platform/db"
	"github.com/caretrack/caretrack/internal/platform/jobs"
	"github.com/caretrack/caretrack/internal/platform/middleware"
	"github.com/caretrack/caretrack/internal/platform/reporting"
	"github.com/caretrack/caretrack/internal/platform/telemetry"
	"github.com/caretrack/caretrack/migrations"
	"github.com/caretrack/caretrack/pkg/caldate"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "caretrack-server",
		Short:        "Recurring care schedules and completion analytics",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(reportCmd())
	return rootCmd
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "caretrack",
	})
}

// migrationFiles returns the embedded migrations, or dir when one is given.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationFiles(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrationFiles(dir)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded migrations)")

	cmd.AddCommand(createCmd)
	return cmd
}

// services holds the domain services shared by the server, the snapshot job
// and the report commands.
type services struct {
	patients  *patient.Service
	careItems *careitem.Service
	schedules *schedule.Service
	rates     *adherence.RateCalculator
	trends    *adherence.TrendAggregator
	dashboard *adherence.DashboardAssembler
	reports   *reporting.Evaluator
}

func newServices(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) *services {
	patientSvc := patient.NewService(patient.NewPatientRepoPG(pool))
	careItemSvc := careitem.NewService(careitem.NewCareItemRepoPG(pool), db.NewTxRunner(pool))
	scheduleSvc := schedule.NewService(
		schedule.NewScheduleRepoPG(pool),
		schedule.NewHistoryRepoPG(pool),
		patientSvc,
		careItemSvc,
		db.NewTxRunner(pool),
	)
	scheduleSvc.SetClock(time.Now, cfg.Location())

	trends := adherence.NewTrendAggregator(scheduleSvc, adherence.TrendConfig{
		WeekStart:          cfg.WeekStart(),
		Weeks:              cfg.TrendWeeks,
		CategoryWindowDays: cfg.CategoryWindowDays,
	}, logger)
	dashboard := adherence.NewDashboardAssembler(patientSvc, scheduleSvc, scheduleSvc, cfg.WeekStart())
	// Parallel fetches take their own tenant connection while the pool has
	// room and otherwise take turns on the request's pinned one.
	fork := db.ForkTenant(pool)
	trends.SetConnScope(fork)
	dashboard.SetConnScope(fork)

	return &services{
		patients:  patientSvc,
		careItems: careItemSvc,
		schedules: scheduleSvc,
		rates:     adherence.NewRateCalculator(scheduleSvc),
		trends:    trends,
		dashboard: dashboard,
		reports:   reporting.NewEvaluator(pool),
	}
}

// dashboardReport adapts the assembler to the snapshot job.
func dashboardReport(a *adherence.DashboardAssembler) jobs.ReportFunc {
	return func(ctx context.Context, today caldate.Date) (interface{}, error) {
		return a.Assemble(ctx, today)
	}
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode: every request is authenticated as admin")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	today := caldate.TodayIn(time.Now, cfg.Location())
	svc := newServices(pool, cfg, logger)

	var metrics *telemetry.Provider
	if cfg.MetricsEnabled {
		metrics = telemetry.NewProvider(telemetry.Config{ServiceVersion: version, Environment: cfg.Env})
		metrics.RegisterPool(pool)
		svc.schedules.SetObserver(metrics)
		svc.trends.SetObserver(metrics)
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if metrics != nil {
		e.Use(metrics.MetricsMiddleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	// Health checks, outside auth and tenant scoping
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(db.PoolProbe(pool).WithMigrations(db.NewMigrator(pool, migrations.FS), cfg.DefaultTenant)))
	if metrics != nil {
		e.GET("/metrics", metrics.PrometheusHandler())
	}

	// API group
	apiV1 := e.Group("/api/v1")

	// Auth middleware
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Tenant middleware
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	patient.NewHandler(svc.patients).RegisterRoutes(apiV1)
	careitem.NewHandler(svc.careItems).RegisterRoutes(apiV1)
	schedule.NewHandler(svc.schedules, today).RegisterRoutes(apiV1)
	adherence.NewHandler(svc.dashboard, svc.trends, svc.rates, today).RegisterRoutes(apiV1)
	reporting.NewHandler(svc.reports, today).RegisterRoutes(apiV1)

	// Dashboard snapshot job (optional, started when SNAPSHOT_CRON is set)
	if cfg.SnapshotCron != "" {
		runnerCfg := jobs.RunnerConfig{
			Spec:     cfg.SnapshotCron,
			Location: cfg.Location(),
			Scope: func(ctx context.Context) (context.Context, func(), error) {
				return db.ScopeToTenant(ctx, pool, cfg.DefaultTenant)
			},
		}
		if metrics != nil {
			runnerCfg.OnResult = metrics.SnapshotRun
		}
		runner, err := jobs.NewSnapshotRunner(runnerCfg, dashboardReport(svc.dashboard), jobs.NewSnapshotStorePG(pool), today, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure snapshot job")
		}
		runner.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			runner.Stop(stopCtx)
		}()
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
