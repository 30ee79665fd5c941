package schedule

import (
	"context"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/pkg/caldate"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	// GetForUpdate locks the schedule row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Schedule, error)
	List(ctx context.Context, filter ScheduleFilter, limit, offset int) ([]*Schedule, int, error)
	FetchSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	CountActiveSchedules(ctx context.Context, filter ScheduleFilter) (int, error)
	// AdvanceDueDate moves next_due_date from one date to the next and clears
	// is_notified. It fails with ErrConflict when the stored date is not from.
	AdvanceDueDate(ctx context.Context, id uuid.UUID, from, to caldate.Date) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type HistoryRepository interface {
	// Create inserts a record. A second record for the same occurrence fails
	// with ErrConflict.
	Create(ctx context.Context, r *HistoryRecord) error
	// EnsurePending inserts a pending record for the occurrence unless one is
	// already stored, in which case r is filled from the stored row. It never
	// fails on an existing occurrence, so it is safe inside a transaction.
	EnsurePending(ctx context.Context, r *HistoryRecord) error
	GetByOccurrence(ctx context.Context, scheduleID uuid.UUID, scheduledDate caldate.Date) (*HistoryRecord, error)
	// Resolve moves a pending record to its terminal status. It fails with
	// ErrConflict when the record is no longer pending.
	Resolve(ctx context.Context, r *HistoryRecord) error
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]*HistoryRecord, int, error)
	// FetchHistory returns records whose scheduled date falls in window,
	// ordered by scheduled date.
	FetchHistory(ctx context.Context, filter HistoryFilter, window caldate.Range) ([]*HistoryRecord, error)
}
