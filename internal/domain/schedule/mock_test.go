package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/domain/patient"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// -- Mock Repositories --

type mockScheduleRepo struct {
	store map[uuid.UUID]*Schedule
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{store: make(map[uuid.UUID]*Schedule)}
}

func (m *mockScheduleRepo) Create(_ context.Context, s *Schedule) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *mockScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	s, ok := m.store[id]
	if !ok {
		return nil, careerr.NotFound("schedule")
	}
	cp := *s
	return &cp, nil
}

func (m *mockScheduleRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return m.GetByID(ctx, id)
}

func (m *mockScheduleRepo) matching(filter ScheduleFilter) []*Schedule {
	var r []*Schedule
	for _, s := range m.store {
		if filter.Matches(s) {
			cp := *s
			r = append(r, &cp)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].NextDueDate.Before(r[j].NextDueDate) })
	return r
}

func (m *mockScheduleRepo) List(_ context.Context, filter ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	r := m.matching(filter)
	return r, len(r), nil
}

func (m *mockScheduleRepo) FetchSchedules(_ context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	return m.matching(filter), nil
}

func (m *mockScheduleRepo) CountActiveSchedules(_ context.Context, filter ScheduleFilter) (int, error) {
	filter.ActiveOnly = true
	return len(m.matching(filter)), nil
}

func (m *mockScheduleRepo) AdvanceDueDate(_ context.Context, id uuid.UUID, from, to caldate.Date) error {
	s, ok := m.store[id]
	if !ok || s.NextDueDate != from {
		return careerr.Conflict("schedule %s is no longer due on %s", id, from)
	}
	s.NextDueDate = to
	s.IsNotified = false
	return nil
}

func (m *mockScheduleRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	s, ok := m.store[id]
	if !ok {
		return careerr.NotFound("schedule")
	}
	s.IsActive = false
	return nil
}

type occurrence struct {
	scheduleID uuid.UUID
	date       caldate.Date
}

type mockHistoryRepo struct {
	records map[occurrence]*HistoryRecord
	// conflicts counts failed inserts; in Postgres each one aborts the
	// surrounding transaction.
	conflicts int
}

func newMockHistoryRepo() *mockHistoryRepo {
	return &mockHistoryRepo{records: make(map[occurrence]*HistoryRecord)}
}

func (m *mockHistoryRepo) Create(_ context.Context, r *HistoryRecord) error {
	key := occurrence{r.ScheduleID, r.ScheduledDate}
	if _, exists := m.records[key]; exists {
		m.conflicts++
		return careerr.Conflict("occurrence already recorded")
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	cp := *r
	m.records[key] = &cp
	return nil
}

func (m *mockHistoryRepo) EnsurePending(_ context.Context, r *HistoryRecord) error {
	if stored, ok := m.records[occurrence{r.ScheduleID, r.ScheduledDate}]; ok {
		*r = *stored
		return nil
	}
	r.ID = uuid.New()
	r.Status = StatusPending
	r.CreatedAt = time.Now()
	cp := *r
	m.records[occurrence{r.ScheduleID, r.ScheduledDate}] = &cp
	return nil
}

func (m *mockHistoryRepo) GetByOccurrence(_ context.Context, scheduleID uuid.UUID, d caldate.Date) (*HistoryRecord, error) {
	r, ok := m.records[occurrence{scheduleID, d}]
	if !ok {
		return nil, careerr.NotFound("history record")
	}
	cp := *r
	return &cp, nil
}

func (m *mockHistoryRepo) Resolve(_ context.Context, r *HistoryRecord) error {
	stored, ok := m.records[occurrence{r.ScheduleID, r.ScheduledDate}]
	if !ok || stored.Status != StatusPending {
		return careerr.Conflict("occurrence is already resolved")
	}
	cp := *r
	m.records[occurrence{r.ScheduleID, r.ScheduledDate}] = &cp
	return nil
}

func (m *mockHistoryRepo) sorted(keep func(*HistoryRecord) bool) []*HistoryRecord {
	var r []*HistoryRecord
	for _, rec := range m.records {
		if keep(rec) {
			cp := *rec
			r = append(r, &cp)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ScheduledDate.Before(r[j].ScheduledDate) })
	return r
}

func (m *mockHistoryRepo) ListBySchedule(_ context.Context, scheduleID uuid.UUID, limit, offset int) ([]*HistoryRecord, int, error) {
	r := m.sorted(func(rec *HistoryRecord) bool { return rec.ScheduleID == scheduleID })
	return r, len(r), nil
}

func (m *mockHistoryRepo) FetchHistory(_ context.Context, filter HistoryFilter, window caldate.Range) ([]*HistoryRecord, error) {
	return m.sorted(func(rec *HistoryRecord) bool {
		return window.Contains(rec.ScheduledDate) && filter.Matches(rec)
	}), nil
}

type mockPatients map[uuid.UUID]*patient.Patient

func (m mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m[id]
	if !ok {
		return nil, careerr.NotFound("patient")
	}
	return p, nil
}

type mockItems map[uuid.UUID]*careitem.CareItem

func (m mockItems) GetCareItem(_ context.Context, id uuid.UUID) (*careitem.CareItem, error) {
	item, ok := m[id]
	if !ok {
		return nil, careerr.NotFound("care item")
	}
	return item, nil
}

// immediateTx runs fn without a real transaction. Callers must not rely on
// rollback.
type immediateTx struct{ calls int }

func (t *immediateTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}
