package adherence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/caldate"
)

const (
	DefaultTrendWeeks         = 4
	MaxTrendWeeks             = 52
	DefaultCategoryWindowDays = 30
	MaxCategoryWindowDays     = 366
)

// TrendConfig holds the report defaults. WeekStart is the first day of every
// calendar week the weekly series reports on.
type TrendConfig struct {
	WeekStart          time.Weekday
	Weeks              int
	CategoryWindowDays int
}

func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		WeekStart:          time.Monday,
		Weeks:              DefaultTrendWeeks,
		CategoryWindowDays: DefaultCategoryWindowDays,
	}
}

// WeekEntry is one week of the weekly series. Week is the full calendar
// week; Window is the part of it already due, which ends at today for the
// current week.
type WeekEntry struct {
	Label  string        `json:"label"`
	Week   caldate.Range `json:"week"`
	Window caldate.Range `json:"window"`
	CompletionRate
	Failed bool `json:"failed,omitempty"`
}

// WeeklySeries lists N weeks oldest first. A week whose fetch failed is
// reported with a zero rate and its error in Failures.
type WeeklySeries struct {
	Today     caldate.Date `json:"today"`
	WeekStart string       `json:"week_start"`
	Weeks     []WeekEntry  `json:"weeks"`
	Failures  []string     `json:"failures,omitempty"`
}

// CategoryShare is the number of occurrences of one category and its share
// of all known-category occurrences in the window.
type CategoryShare struct {
	Category   careitem.Category `json:"category"`
	Count      int               `json:"count"`
	Percentage float64           `json:"percentage"`
}

// CategoryDistribution always lists every known category, in the order of
// careitem.KnownCategories. Records whose category could not be resolved are
// only counted in UnknownCount.
type CategoryDistribution struct {
	Window       caldate.Range   `json:"window"`
	Categories   []CategoryShare `json:"categories"`
	Total        int             `json:"total"`
	UnknownCount int             `json:"unknown_count"`
	Failure      string          `json:"failure,omitempty"`
}

// TrendAggregator builds the weekly and per-category trend reports. Unlike
// the dashboard, it tolerates fetch failures: the affected part is reported
// as zero and the failure is logged.
type TrendAggregator struct {
	rates    *RateCalculator
	history  HistorySource
	cfg      TrendConfig
	logger   zerolog.Logger
	scope    ConnScope
	observer DegradationObserver
}

// DegradationObserver is told whenever a trend report serves a part as zero.
type DegradationObserver interface {
	ReportDegraded(report string)
}

func NewTrendAggregator(history HistorySource, cfg TrendConfig, logger zerolog.Logger) *TrendAggregator {
	if cfg.Weeks <= 0 {
		cfg.Weeks = DefaultTrendWeeks
	}
	if cfg.CategoryWindowDays <= 0 {
		cfg.CategoryWindowDays = DefaultCategoryWindowDays
	}
	return &TrendAggregator{
		rates:   NewRateCalculator(history),
		history: history,
		cfg:     cfg,
		logger:  logger.With().Str("component", "trends").Logger(),
	}
}

func (a *TrendAggregator) Config() TrendConfig { return a.cfg }

// SetConnScope makes each weekly fetch run in its own database scope.
func (a *TrendAggregator) SetConnScope(s ConnScope) { a.scope = s }

func (a *TrendAggregator) SetObserver(o DegradationObserver) { a.observer = o }

func (a *TrendAggregator) degraded(report string) {
	if a.observer != nil {
		a.observer.ReportDegraded(report)
	}
}

// WeeklySeries reports completion rates for the weeks calendar weeks ending
// with the one containing today, oldest first. weeks == 0 selects the
// configured default. The week fetches run concurrently and each failure is
// contained to its own entry.
func (a *TrendAggregator) WeeklySeries(ctx context.Context, today caldate.Date, weeks int) (*WeeklySeries, error) {
	if !today.Valid() {
		return nil, careerr.InvalidArgument("today must be a valid date")
	}
	if weeks == 0 {
		weeks = a.cfg.Weeks
	}
	if weeks < 1 || weeks > MaxTrendWeeks {
		return nil, careerr.InvalidArgument("weeks must be between 1 and %d, got %d", MaxTrendWeeks, weeks)
	}

	current := today.StartOfWeek(a.cfg.WeekStart)
	entries := make([]WeekEntry, weeks)
	errs := make([]error, weeks)

	var g errgroup.Group
	g.SetLimit(maxParallelFetches)
	for i := 0; i < weeks; i++ {
		i := i
		start := current.AddDays(-7 * (weeks - 1 - i))
		week := caldate.Range{Start: start, End: start.AddDays(6)}
		window := week
		if window.End.After(today) {
			window.End = today
		}
		entries[i] = WeekEntry{Label: WeekLabel(week), Week: week, Window: window}

		g.Go(func() error {
			errs[i] = a.scope.run(ctx, func(ctx context.Context) error {
				rate, err := a.rates.Compute(ctx, window, nil)
				if err != nil {
					return err
				}
				entries[i].CompletionRate = rate
				return nil
			})
			return nil
		})
	}
	_ = g.Wait()

	series := &WeeklySeries{Today: today, WeekStart: a.cfg.WeekStart.String(), Weeks: entries}
	for i, err := range errs {
		if err == nil {
			continue
		}
		entries[i].Failed = true
		series.Failures = append(series.Failures, fmt.Sprintf("week %s: %v", entries[i].Week.Start, err))
		a.logger.Warn().Err(err).
			Str("week_start", entries[i].Week.Start.String()).
			Msg("weekly completion rate unavailable, reporting zero")
		a.degraded("weekly")
	}
	return series, nil
}

// CategoryDistribution tallies the occurrences scheduled in the last days
// calendar days, today included, by category. days == 0 selects the
// configured default.
// On a fetch failure every category is reported as zero and the failure is
// logged.
func (a *TrendAggregator) CategoryDistribution(ctx context.Context, today caldate.Date, days int) (*CategoryDistribution, error) {
	if !today.Valid() {
		return nil, careerr.InvalidArgument("today must be a valid date")
	}
	if days == 0 {
		days = a.cfg.CategoryWindowDays
	}
	if days < 1 || days > MaxCategoryWindowDays {
		return nil, careerr.InvalidArgument("days must be between 1 and %d, got %d", MaxCategoryWindowDays, days)
	}

	dist := &CategoryDistribution{Window: caldate.Range{Start: today.AddDays(-(days - 1)), End: today}}
	counts := make([]int, len(careitem.KnownCategories))

	records, err := a.history.FetchHistory(ctx, schedule.HistoryFilter{}, dist.Window)
	if err != nil {
		err = fetchFailure("fetch history "+dist.Window.String(), err)
		dist.Failure = err.Error()
		a.logger.Warn().Err(err).
			Str("window_start", dist.Window.Start.String()).
			Msg("category distribution unavailable, reporting zero")
		a.degraded("categories")
		records = nil
	}

	for _, rec := range records {
		if rec == nil || !dist.Window.Contains(rec.ScheduledDate) {
			continue
		}
		idx := categoryIndex(rec.Category)
		if idx < 0 {
			dist.UnknownCount++
			continue
		}
		counts[idx]++
		dist.Total++
	}

	tenths := apportionTenths(counts, dist.Total)
	dist.Categories = make([]CategoryShare, len(counts))
	for i, c := range careitem.KnownCategories {
		dist.Categories[i] = CategoryShare{Category: c, Count: counts[i], Percentage: float64(tenths[i]) / 10}
	}
	return dist, nil
}

func categoryIndex(c careitem.Category) int {
	for i, k := range careitem.KnownCategories {
		if c == k {
			return i
		}
	}
	return -1
}

// apportionTenths splits 1000 tenths of a percent across counts in
// proportion, using the largest-remainder method so the parts always sum to
// exactly 1000 when total > 0. Ties go to the earlier category.
func apportionTenths(counts []int, total int) []int {
	out := make([]int, len(counts))
	if total <= 0 {
		return out
	}

	type rem struct {
		idx int
		r   int64
	}
	rems := make([]rem, len(counts))
	assigned := 0
	for i, c := range counts {
		q := 1000 * int64(c)
		out[i] = int(q / int64(total))
		rems[i] = rem{idx: i, r: q % int64(total)}
		assigned += out[i]
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].r > rems[j].r })
	for k := 0; assigned < 1000 && k < len(rems); k++ {
		out[rems[k].idx]++
		assigned++
	}
	return out
}

// WeekLabel renders a week as "Jan 1-7", or "Jan 29-Feb 4" when it spans two
// months.
func WeekLabel(r caldate.Range) string {
	start, end := r.Start.Time(), r.End.Time()
	if start.Month() == end.Month() {
		return fmt.Sprintf("%s %d-%d", start.Format("Jan"), start.Day(), end.Day())
	}
	return fmt.Sprintf("%s %d-%s %d", start.Format("Jan"), start.Day(), end.Format("Jan"), end.Day())
}
