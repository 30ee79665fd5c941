package schedule

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/internal/platform/recurrence"
	"github.com/caretrack/caretrack/internal/platform/urgency"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// HistoryStatus is the state of one occurrence of a schedule.
type HistoryStatus string

const (
	StatusPending   HistoryStatus = "pending"
	StatusCompleted HistoryStatus = "completed"
	StatusSkipped   HistoryStatus = "skipped"
)

// ParseOutcome accepts the two terminal statuses an occurrence can move to.
func ParseOutcome(s string) (HistoryStatus, error) {
	switch st := HistoryStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusCompleted, StatusSkipped:
		return st, nil
	default:
		return "", careerr.InvalidArgument("outcome must be completed or skipped, got %q", s)
	}
}

// PatientRef is the patient as seen from a schedule. Known is false when the
// patient row could not be joined, so callers can tell missing data from an
// empty name.
type PatientRef struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Known bool      `json:"known"`
}

// Schedule binds one patient to one care item. NextDueDate only moves
// forward, and only through RecordOutcome.
type Schedule struct {
	ID          uuid.UUID    `json:"id"`
	PatientID   uuid.UUID    `json:"patient_id"`
	CareItemID  uuid.UUID    `json:"care_item_id"`
	FirstDate   caldate.Date `json:"first_date"`
	NextDueDate caldate.Date `json:"next_due_date"`
	IsActive    bool         `json:"is_active"`
	IsNotified  bool         `json:"is_notified"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`

	// Joined from care_item and patient on read.
	CareItemName string            `json:"care_item_name"`
	Category     careitem.Category `json:"category"`
	Period       recurrence.Period `json:"period"`
	Patient      PatientRef        `json:"patient"`
}

// HistoryRecord is one occurrence of a schedule. Category is joined from the
// care item and is CategoryUnknown when the join finds nothing.
type HistoryRecord struct {
	ID                   uuid.UUID         `json:"id"`
	ScheduleID           uuid.UUID         `json:"schedule_id"`
	ScheduledDate        caldate.Date      `json:"scheduled_date"`
	Status               HistoryStatus     `json:"status"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	ActualCompletionDate *caldate.Date     `json:"actual_completion_date,omitempty"`
	Note                 *string           `json:"note,omitempty"`
	Category             careitem.Category `json:"category"`
	CreatedAt            time.Time         `json:"created_at"`
}

// ScheduleFilter narrows schedule reads. Nil fields do not filter.
type ScheduleFilter struct {
	ActiveOnly    bool
	PatientID     *uuid.UUID
	DueOn         *caldate.Date
	DueBefore     *caldate.Date
	DueOnOrBefore *caldate.Date
}

// Matches applies the filter to an in-memory schedule.
func (f ScheduleFilter) Matches(s *Schedule) bool {
	switch {
	case f.ActiveOnly && !s.IsActive:
		return false
	case f.PatientID != nil && s.PatientID != *f.PatientID:
		return false
	case f.DueOn != nil && s.NextDueDate != *f.DueOn:
		return false
	case f.DueBefore != nil && !s.NextDueDate.Before(*f.DueBefore):
		return false
	case f.DueOnOrBefore != nil && s.NextDueDate.After(*f.DueOnOrBefore):
		return false
	}
	return true
}

// HistoryFilter narrows history reads. The date window is passed separately.
type HistoryFilter struct {
	ScheduleIDs []uuid.UUID
	Category    *careitem.Category
	Status      *HistoryStatus
}

// Matches applies the filter to an in-memory record.
func (f HistoryFilter) Matches(r *HistoryRecord) bool {
	if f.Category != nil && r.Category != *f.Category {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if len(f.ScheduleIDs) > 0 {
		for _, id := range f.ScheduleIDs {
			if id == r.ScheduleID {
				return true
			}
		}
		return false
	}
	return true
}

// Outcome is the input to RecordOutcome.
type Outcome struct {
	Status               HistoryStatus `json:"status"`
	ActualCompletionDate *caldate.Date `json:"actual_completion_date,omitempty"`
	Note                 *string       `json:"note,omitempty"`
}

// OutcomeResult reports the resolved occurrence and the one opened after it.
type OutcomeResult struct {
	Resolved *HistoryRecord `json:"resolved"`
	Next     *HistoryRecord `json:"next"`
	Schedule *Schedule      `json:"schedule"`
}

// UpcomingItem is a schedule annotated with its urgency on the reference day.
type UpcomingItem struct {
	Schedule *Schedule             `json:"schedule"`
	Urgency  urgency.Classification `json:"urgency"`
}

// Projection lists the occurrences following a schedule's next due date.
type Projection struct {
	ScheduleID uuid.UUID         `json:"schedule_id"`
	From       caldate.Date      `json:"from"`
	Period     recurrence.Period `json:"period"`
	Dates      []caldate.Date    `json:"dates"`
}
