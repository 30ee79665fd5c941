package adherence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/caldate"
)

type CompletionRates struct {
	Today     CompletionRate `json:"today"`
	ThisWeek  CompletionRate `json:"this_week"`
	ThisMonth CompletionRate `json:"this_month"`
}

// DashboardStats is the summary shown on the care team's landing page.
type DashboardStats struct {
	Today           caldate.Date    `json:"today"`
	TotalPatients   int             `json:"total_patients"`
	TodayScheduled  int             `json:"today_scheduled"`
	CompletionRates CompletionRates `json:"completion_rates"`
	OverdueItems    int             `json:"overdue_items"`
}

// DashboardAssembler computes DashboardStats. It does not degrade: if any
// part fails the whole call fails with ErrAggregationFailed.
type DashboardAssembler struct {
	patients  PatientCounter
	schedules ScheduleSource
	history   HistorySource
	rates     *RateCalculator
	weekStart time.Weekday
	scope     ConnScope
}

func NewDashboardAssembler(patients PatientCounter, schedules ScheduleSource, history HistorySource, weekStart time.Weekday) *DashboardAssembler {
	return &DashboardAssembler{
		patients:  patients,
		schedules: schedules,
		history:   history,
		rates:     NewRateCalculator(history),
		weekStart: weekStart,
	}
}

// SetConnScope makes each concurrent part run in its own database scope.
func (a *DashboardAssembler) SetConnScope(s ConnScope) { a.scope = s }

// Assemble computes every part of the dashboard for today concurrently. The
// first failure cancels the rest and is returned wrapped in
// ErrAggregationFailed.
func (a *DashboardAssembler) Assemble(ctx context.Context, today caldate.Date) (*DashboardStats, error) {
	if !today.Valid() {
		return nil, careerr.InvalidArgument("today must be a valid date")
	}
	stats := &DashboardStats{Today: today}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)

	a.part(ctx, g, "total patients", func(ctx context.Context) error {
		n, err := a.patients.CountPatients(ctx)
		if err != nil {
			return fetchFailure("count patients", err)
		}
		stats.TotalPatients = n
		return nil
	})
	a.part(ctx, g, "today scheduled", func(ctx context.Context) error {
		n, err := a.schedules.CountActiveSchedules(ctx, schedule.ScheduleFilter{ActiveOnly: true, DueOn: &today})
		if err != nil {
			return fetchFailure("count schedules due today", err)
		}
		stats.TodayScheduled = n
		return nil
	})

	windows := []struct {
		part   string
		window caldate.Range
		dst    *CompletionRate
	}{
		{"completion rate (today)", caldate.Day(today), &stats.CompletionRates.Today},
		{"completion rate (this week)", caldate.Range{Start: today.StartOfWeek(a.weekStart), End: today}, &stats.CompletionRates.ThisWeek},
		{"completion rate (this month)", caldate.Range{Start: today.StartOfMonth(), End: today}, &stats.CompletionRates.ThisMonth},
	}
	for _, w := range windows {
		w := w
		a.part(ctx, g, w.part, func(ctx context.Context) error {
			rate, err := a.rates.Compute(ctx, w.window, nil)
			if err != nil {
				return err
			}
			*w.dst = rate
			return nil
		})
	}

	a.part(ctx, g, "overdue items", func(ctx context.Context) error {
		n, err := a.overdue(ctx, today)
		if err != nil {
			return err
		}
		stats.OverdueItems = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (a *DashboardAssembler) part(ctx context.Context, g *errgroup.Group, name string, fn func(ctx context.Context) error) {
	g.Go(func() error {
		if err := a.scope.run(ctx, fn); err != nil {
			return careerr.AggregationFailed(name, err)
		}
		return nil
	})
}

// overdue counts active schedules due before today with no completed record
// for the occurrence they are due on. The completed records of all candidate
// schedules are fetched in one batch.
func (a *DashboardAssembler) overdue(ctx context.Context, today caldate.Date) (int, error) {
	candidates, err := a.schedules.FetchSchedules(ctx, schedule.ScheduleFilter{ActiveOnly: true, DueBefore: &today})
	if err != nil {
		return 0, fetchFailure("fetch overdue candidates", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	span := caldate.Day(candidates[0].NextDueDate)
	for _, s := range candidates {
		ids = append(ids, s.ID)
		if s.NextDueDate.Before(span.Start) {
			span.Start = s.NextDueDate
		}
		if s.NextDueDate.After(span.End) {
			span.End = s.NextDueDate
		}
	}

	completed := schedule.StatusCompleted
	records, err := a.history.FetchHistory(ctx, schedule.HistoryFilter{ScheduleIDs: ids, Status: &completed}, span)
	if err != nil {
		return 0, fetchFailure("fetch completed occurrences", err)
	}

	type occurrence struct {
		schedule uuid.UUID
		date     caldate.Date
	}
	done := make(map[occurrence]bool, len(records))
	for _, r := range records {
		if r.Status == schedule.StatusCompleted {
			done[occurrence{r.ScheduleID, r.ScheduledDate}] = true
		}
	}

	n := 0
	for _, s := range candidates {
		if !done[occurrence{s.ID, s.NextDueDate}] {
			n++
		}
	}
	return n, nil
}
