package schedule

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/domain/patient"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/internal/platform/recurrence"
	"github.com/caretrack/caretrack/internal/platform/urgency"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// MaxUpcomingDays bounds the look-ahead of Upcoming.
const MaxUpcomingDays = 366

// Transactor runs fn in one database transaction. *db.TxRunner implements it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type CareItemLookup interface {
	GetCareItem(ctx context.Context, id uuid.UUID) (*careitem.CareItem, error)
}

// OutcomeObserver is told about every committed outcome.
type OutcomeObserver interface {
	OutcomeRecorded(status, category string)
}

type Service struct {
	schedules ScheduleRepository
	history   HistoryRepository
	patients  PatientLookup
	items     CareItemLookup
	tx        Transactor
	now       func() time.Time
	loc       *time.Location
	observer  OutcomeObserver
}

func NewService(schedules ScheduleRepository, history HistoryRepository, patients PatientLookup, items CareItemLookup, tx Transactor) *Service {
	return &Service{
		schedules: schedules,
		history:   history,
		patients:  patients,
		items:     items,
		tx:        tx,
		now:       time.Now,
		loc:       time.UTC,
	}
}

// SetClock overrides the wall clock used to stamp completions and the zone in
// which a completion instant becomes a calendar date.
func (s *Service) SetClock(now func() time.Time, loc *time.Location) {
	s.now = now
	if loc != nil {
		s.loc = loc
	}
}

func (s *Service) SetObserver(o OutcomeObserver) { s.observer = o }

// CreateSchedule binds a patient to a care item. The first occurrence is due
// on FirstDate and is opened as a pending history record.
func (s *Service) CreateSchedule(ctx context.Context, sch *Schedule) error {
	if sch.PatientID == uuid.Nil {
		return careerr.InvalidArgument("patient_id is required")
	}
	if sch.CareItemID == uuid.Nil {
		return careerr.InvalidArgument("care_item_id is required")
	}
	if !sch.FirstDate.Valid() {
		return careerr.InvalidArgument("first_date must be a valid date")
	}

	p, err := s.patients.GetPatient(ctx, sch.PatientID)
	if err != nil {
		return err
	}
	item, err := s.items.GetCareItem(ctx, sch.CareItemID)
	if err != nil {
		return err
	}

	sch.NextDueDate = sch.FirstDate
	sch.IsActive = true
	sch.IsNotified = false
	sch.CareItemName = item.Name
	sch.Category = item.Category
	sch.Period = item.Period
	sch.Patient = PatientRef{ID: p.ID, Name: p.DisplayName(), Known: true}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.schedules.Create(ctx, sch); err != nil {
			return err
		}
		return s.history.Create(ctx, &HistoryRecord{
			ScheduleID:    sch.ID,
			ScheduledDate: sch.FirstDate,
			Status:        StatusPending,
			Category:      sch.Category,
		})
	})
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.schedules.GetByID(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, filter ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	return s.schedules.List(ctx, filter, limit, offset)
}

func (s *Service) DeactivateSchedule(ctx context.Context, id uuid.UUID) error {
	return s.schedules.Deactivate(ctx, id)
}

// RecordOutcome resolves the occurrence due on the schedule's NextDueDate,
// advances NextDueDate by one period, and opens the following occurrence.
// All three writes commit together. An occurrence can be resolved once.
func (s *Service) RecordOutcome(ctx context.Context, scheduleID uuid.UUID, out Outcome) (*OutcomeResult, error) {
	if out.Status != StatusCompleted && out.Status != StatusSkipped {
		return nil, careerr.InvalidArgument("outcome must be completed or skipped, got %q", out.Status)
	}

	now := s.now()
	today := caldate.FromTimeIn(now, s.loc)
	if out.ActualCompletionDate != nil {
		if out.Status != StatusCompleted {
			return nil, careerr.InvalidArgument("actual_completion_date only applies to completed occurrences")
		}
		if !out.ActualCompletionDate.Valid() {
			return nil, careerr.InvalidArgument("actual_completion_date must be a valid date")
		}
		if out.ActualCompletionDate.After(today) {
			return nil, careerr.InvalidArgument("actual_completion_date %s is in the future", out.ActualCompletionDate)
		}
	}

	var result OutcomeResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		sch, err := s.schedules.GetForUpdate(ctx, scheduleID)
		if err != nil {
			return err
		}
		if !sch.IsActive {
			return careerr.Conflict("schedule %s is inactive", sch.ID)
		}
		due := sch.NextDueDate

		rec, err := s.history.GetByOccurrence(ctx, sch.ID, due)
		switch {
		case errors.Is(err, careerr.ErrNotFound):
			rec = &HistoryRecord{ScheduleID: sch.ID, ScheduledDate: due, Status: StatusPending, Category: sch.Category}
			if err := s.history.Create(ctx, rec); err != nil {
				return err
			}
		case err != nil:
			return err
		case rec.Status != StatusPending:
			return careerr.Conflict("occurrence %s of schedule %s is already %s", due, sch.ID, rec.Status)
		}

		rec.Status = out.Status
		rec.Note = out.Note
		if out.Status == StatusCompleted {
			completedAt := now
			rec.CompletedAt = &completedAt
			actual := today
			if out.ActualCompletionDate != nil {
				actual = *out.ActualCompletionDate
			}
			rec.ActualCompletionDate = &actual
		}
		if err := s.history.Resolve(ctx, rec); err != nil {
			return err
		}

		next, err := recurrence.NextDate(due, sch.Period)
		if err != nil {
			return err
		}
		if err := s.schedules.AdvanceDueDate(ctx, sch.ID, due, next); err != nil {
			return err
		}
		sch.NextDueDate = next
		sch.IsNotified = false

		nextRec := &HistoryRecord{ScheduleID: sch.ID, ScheduledDate: next, Status: StatusPending, Category: sch.Category}
		if err := s.history.EnsurePending(ctx, nextRec); err != nil {
			return err
		}

		result = OutcomeResult{Resolved: rec, Next: nextRec, Schedule: sch}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.observer != nil {
		s.observer.OutcomeRecorded(string(out.Status), string(result.Schedule.Category))
	}
	return &result, nil
}

// Upcoming lists active schedules due on or before today+days, overdue ones
// included, each classified against today. Results are ordered by due date.
func (s *Service) Upcoming(ctx context.Context, today caldate.Date, days int) ([]UpcomingItem, error) {
	if days < 0 || days > MaxUpcomingDays {
		return nil, careerr.InvalidArgument("days must be between 0 and %d, got %d", MaxUpcomingDays, days)
	}
	horizon := today.AddDays(days)
	schedules, err := s.schedules.FetchSchedules(ctx, ScheduleFilter{ActiveOnly: true, DueOnOrBefore: &horizon})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(schedules, func(i, j int) bool {
		return schedules[i].NextDueDate.Before(schedules[j].NextDueDate)
	})

	items := make([]UpcomingItem, 0, len(schedules))
	for _, sch := range schedules {
		items = append(items, UpcomingItem{Schedule: sch, Urgency: urgency.Classify(sch.NextDueDate, today)})
	}
	return items, nil
}

// Projection lists the next count occurrences after the schedule's next due
// date. A count of zero selects the default length.
func (s *Service) Projection(ctx context.Context, id uuid.UUID, count int) (*Projection, error) {
	sch, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dates, err := recurrence.ProjectSeries(sch.NextDueDate, sch.Period, count)
	if err != nil {
		return nil, err
	}
	return &Projection{ScheduleID: sch.ID, From: sch.NextDueDate, Period: sch.Period, Dates: dates}, nil
}

func (s *Service) ListHistory(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]*HistoryRecord, int, error) {
	if _, err := s.schedules.GetByID(ctx, scheduleID); err != nil {
		return nil, 0, err
	}
	return s.history.ListBySchedule(ctx, scheduleID, limit, offset)
}

// FetchHistory, FetchSchedules and CountActiveSchedules expose the read
// capabilities the analytics engine consumes.

func (s *Service) FetchHistory(ctx context.Context, filter HistoryFilter, window caldate.Range) ([]*HistoryRecord, error) {
	return s.history.FetchHistory(ctx, filter, window)
}

func (s *Service) FetchSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	return s.schedules.FetchSchedules(ctx, filter)
}

func (s *Service) CountActiveSchedules(ctx context.Context, filter ScheduleFilter) (int, error) {
	return s.schedules.CountActiveSchedules(ctx, filter)
}
