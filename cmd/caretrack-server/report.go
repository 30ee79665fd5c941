package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/caretrack/caretrack/internal/config"
	"github.com/caretrack/caretrack/internal/platform/db"
	"github.com/caretrack/caretrack/internal/platform/recurrence"
	"github.com/caretrack/caretrack/pkg/caldate"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print analytics reports as JSON",
	}
	cmd.PersistentFlags().String("today", "", "Reference date YYYY-MM-DD (default: today in REPORT_TIMEZONE)")
	cmd.PersistentFlags().String("tenant", "", "Tenant identifier (default: DEFAULT_TENANT)")

	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Assemble the dashboard summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *services, today caldate.Date) error {
				stats, err := svc.dashboard.Assemble(ctx, today)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}

	trendsCmd := &cobra.Command{
		Use:   "trends",
		Short: "Weekly completion series and category distribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			weeks, _ := cmd.Flags().GetInt("weeks")
			days, _ := cmd.Flags().GetInt("days")
			return withServices(cmd, func(ctx context.Context, svc *services, today caldate.Date) error {
				series, err := svc.trends.WeeklySeries(ctx, today, weeks)
				if err != nil {
					return err
				}
				dist, err := svc.trends.CategoryDistribution(ctx, today, days)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"weekly":     series,
					"categories": dist,
				})
			})
		},
	}
	trendsCmd.Flags().Int("weeks", 0, "Number of weeks (default: TREND_WEEKS)")
	trendsCmd.Flags().Int("days", 0, "Category window in days (default: CATEGORY_WINDOW_DAYS)")

	seriesCmd := &cobra.Command{
		Use:   "series",
		Short: "Project the due dates of a recurrence",
		RunE: func(cmd *cobra.Command, args []string) error {
			firstRaw, _ := cmd.Flags().GetString("first")
			value, _ := cmd.Flags().GetInt("value")
			unitRaw, _ := cmd.Flags().GetString("unit")
			count, _ := cmd.Flags().GetInt("count")

			first, err := caldate.Parse(firstRaw)
			if err != nil {
				return fmt.Errorf("--first: %w", err)
			}
			unit, err := recurrence.ParseUnit(unitRaw)
			if err != nil {
				return err
			}
			period := recurrence.Period{Value: value, Unit: unit}
			dates, err := recurrence.ProjectSeries(first, period, count)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"first":  first,
				"period": period,
				"dates":  dates,
			})
		},
	}
	seriesCmd.Flags().String("first", "", "First due date YYYY-MM-DD")
	seriesCmd.Flags().Int("value", 1, "Period length")
	seriesCmd.Flags().String("unit", string(recurrence.Months), "Period unit: weeks or months")
	seriesCmd.Flags().Int("count", recurrence.DefaultSeriesCount, "Number of dates to project")
	_ = seriesCmd.MarkFlagRequired("first")

	cmd.AddCommand(dashboardCmd, trendsCmd, seriesCmd)
	return cmd
}

// withServices loads config, connects, scopes the context to the tenant and
// resolves the reference date before calling fn.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *services, today caldate.Date) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	today, err := resolveToday(cmd, caldate.TodayIn(time.Now, cfg.Location()))
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}

	ctx := cmd.Context()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, release, err := db.ScopeToTenant(ctx, pool, tenant)
	if err != nil {
		return err
	}
	defer release()

	logger := newLogger(cfg.Env, cmd.ErrOrStderr())
	return fn(ctx, newServices(pool, cfg, logger), today)
}

func resolveToday(cmd *cobra.Command, today caldate.TodayFunc) (caldate.Date, error) {
	raw, _ := cmd.Flags().GetString("today")
	if raw == "" {
		return today(), nil
	}
	d, err := caldate.Parse(raw)
	if err != nil {
		return caldate.Date{}, fmt.Errorf("--today: %w", err)
	}
	return d, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
