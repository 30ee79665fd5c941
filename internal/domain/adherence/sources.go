// Package adherence derives completion analytics from schedule history:
// completion rates over a date window, weekly and per-category trends, and
// the dashboard summary.
//
// Nothing in this package reads the wall clock. Every report takes the
// reference date explicitly.
package adherence

import (
	"context"
	"errors"

	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// HistorySource reads history records scheduled within a window.
type HistorySource interface {
	FetchHistory(ctx context.Context, filter schedule.HistoryFilter, window caldate.Range) ([]*schedule.HistoryRecord, error)
}

// ScheduleSource reads schedules and counts active ones.
type ScheduleSource interface {
	FetchSchedules(ctx context.Context, filter schedule.ScheduleFilter) ([]*schedule.Schedule, error)
	CountActiveSchedules(ctx context.Context, filter schedule.ScheduleFilter) (int, error)
}

type PatientCounter interface {
	CountPatients(ctx context.Context) (int, error)
}

// fetchFailure tags err as a fetch failure unless the source already did.
func fetchFailure(op string, err error) error {
	if err == nil || errors.Is(err, careerr.ErrFetchFailure) {
		return err
	}
	return careerr.FetchFailure(op, err)
}

// ConnScope gives one concurrent fetch its own database scope and returns a
// release func. With a nil ConnScope every fetch runs on the caller's ctx.
type ConnScope func(ctx context.Context) (context.Context, func(), error)

// maxParallelFetches bounds the fetches one report runs at a time.
const maxParallelFetches = 4

func (s ConnScope) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s == nil {
		return fn(ctx)
	}
	scoped, release, err := s(ctx)
	if err != nil {
		return fetchFailure("acquire connection", err)
	}
	defer release()
	return fn(scoped)
}
