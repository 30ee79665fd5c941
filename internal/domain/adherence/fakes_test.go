package adherence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/pkg/caldate"
)

var errDown = errors.New("connection refused")

func day(m time.Month, d int) caldate.Date {
	return caldate.MustNew(2025, m, d)
}

func record(id uuid.UUID, on caldate.Date, status schedule.HistoryStatus, cat careitem.Category) *schedule.HistoryRecord {
	return &schedule.HistoryRecord{ID: uuid.New(), ScheduleID: id, ScheduledDate: on, Status: status, Category: cat}
}

type fakeHistory struct {
	mu      sync.Mutex
	records []*schedule.HistoryRecord
	failOn  func(window caldate.Range) bool
	windows []caldate.Range
}

func (f *fakeHistory) FetchHistory(_ context.Context, filter schedule.HistoryFilter, window caldate.Range) ([]*schedule.HistoryRecord, error) {
	f.mu.Lock()
	f.windows = append(f.windows, window)
	f.mu.Unlock()

	if f.failOn != nil && f.failOn(window) {
		return nil, errDown
	}
	var out []*schedule.HistoryRecord
	for _, r := range f.records {
		if window.Contains(r.ScheduledDate) && filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func failAlways(caldate.Range) bool { return true }

type fakeSchedules struct {
	schedules []*schedule.Schedule
	fetchErr  error
	countErr  error
}

func (f *fakeSchedules) FetchSchedules(_ context.Context, filter schedule.ScheduleFilter) ([]*schedule.Schedule, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []*schedule.Schedule
	for _, s := range f.schedules {
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSchedules) CountActiveSchedules(ctx context.Context, filter schedule.ScheduleFilter) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	filter.ActiveOnly = true
	out, err := f.FetchSchedules(ctx, filter)
	return len(out), err
}

type fakePatients struct {
	n   int
	err error
}

func (f fakePatients) CountPatients(context.Context) (int, error) {
	return f.n, f.err
}

type scopeKey struct{}

// countingScope tags each scoped ctx and tracks how many scopes are open at once.
type countingScope struct {
	mu       sync.Mutex
	open     int
	maxOpen  int
	acquired int
	err      error
	// serial makes every scope share one connection, taken in turn.
	serial bool
	turn   sync.Mutex
}

func (s *countingScope) scope(ctx context.Context) (context.Context, func(), error) {
	if s.err != nil {
		return ctx, nil, s.err
	}
	if s.serial {
		s.turn.Lock()
	}
	s.mu.Lock()
	s.open++
	s.acquired++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	s.mu.Unlock()
	return context.WithValue(ctx, scopeKey{}, true), func() {
		s.mu.Lock()
		s.open--
		s.mu.Unlock()
		if s.serial {
			s.turn.Unlock()
		}
	}, nil
}

// scopedHistory fails any fetch that does not run in a scoped ctx.
type scopedHistory struct{ *fakeHistory }

func (h scopedHistory) FetchHistory(ctx context.Context, filter schedule.HistoryFilter, window caldate.Range) ([]*schedule.HistoryRecord, error) {
	if ctx.Value(scopeKey{}) == nil {
		return nil, errors.New("fetch outside its scope")
	}
	return h.fakeHistory.FetchHistory(ctx, filter, window)
}
