package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretrack/caretrack/internal/domain/careitem"
	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/internal/platform/db"
	"github.com/caretrack/caretrack/internal/platform/recurrence"
	"github.com/caretrack/caretrack/pkg/caldate"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// -- Schedules --

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

func (r *scheduleRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const scheduleSelect = `SELECT s.id, s.patient_id, s.care_item_id, s.first_date, s.next_due_date,
	s.is_active, s.is_notified, s.created_at, s.updated_at,
	ci.name, ci.category, ci.period_value, ci.period_unit,
	p.id, p.given_name, p.family_name
FROM patient_schedule s
LEFT JOIN care_item ci ON ci.id = s.care_item_id
LEFT JOIN patient p ON p.id = s.patient_id`

func (r *scheduleRepoPG) scanSchedule(row pgx.Row) (*Schedule, error) {
	var (
		s                 Schedule
		firstDate, nextDD time.Time
		itemName          *string
		category          *string
		periodValue       *int
		periodUnit        *string
		joinedPatient     *uuid.UUID
		given, family     *string
	)
	err := row.Scan(&s.ID, &s.PatientID, &s.CareItemID, &firstDate, &nextDD,
		&s.IsActive, &s.IsNotified, &s.CreatedAt, &s.UpdatedAt,
		&itemName, &category, &periodValue, &periodUnit,
		&joinedPatient, &given, &family)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, careerr.NotFound("schedule")
	}
	if err != nil {
		return nil, err
	}
	s.FirstDate = caldate.FromTime(firstDate)
	s.NextDueDate = caldate.FromTime(nextDD)

	s.Category = careitem.CategoryUnknown
	if itemName != nil {
		s.CareItemName = *itemName
	}
	if category != nil {
		s.Category = careitem.Normalize(*category)
	}
	if periodValue != nil && periodUnit != nil {
		s.Period = recurrence.Period{Value: *periodValue, Unit: recurrence.Unit(*periodUnit)}
	}

	s.Patient = PatientRef{ID: s.PatientID}
	if joinedPatient != nil {
		s.Patient.Known = true
		var parts []string
		for _, p := range []*string{given, family} {
			if p != nil && *p != "" {
				parts = append(parts, *p)
			}
		}
		s.Patient.Name = strings.Join(parts, " ")
	}
	return &s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_schedule (id, patient_id, care_item_id, first_date, next_due_date, is_active, is_notified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		s.ID, s.PatientID, s.CareItemID, s.FirstDate.Time(), s.NextDueDate.Time(), s.IsActive, s.IsNotified,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return r.scanSchedule(r.conn(ctx).QueryRow(ctx, scheduleSelect+` WHERE s.id = $1`, id))
}

func (r *scheduleRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return r.scanSchedule(r.conn(ctx).QueryRow(ctx, scheduleSelect+` WHERE s.id = $1 FOR UPDATE OF s`, id))
}

// scheduleWhere renders f as a WHERE clause over the "s" alias. Arguments
// are numbered from 1.
func scheduleWhere(f ScheduleFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "s.is_active")
	}
	if f.PatientID != nil {
		add("s.patient_id = $%d", *f.PatientID)
	}
	if f.DueOn != nil {
		add("s.next_due_date = $%d", f.DueOn.Time())
	}
	if f.DueBefore != nil {
		add("s.next_due_date < $%d", f.DueBefore.Time())
	}
	if f.DueOnOrBefore != nil {
		add("s.next_due_date <= $%d", f.DueOnOrBefore.Time())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *scheduleRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Schedule, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) List(ctx context.Context, filter ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	where, args := scheduleWhere(filter)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_schedule s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	items, err := r.query(ctx, scheduleSelect+where+
		fmt.Sprintf(` ORDER BY s.next_due_date, s.id LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *scheduleRepoPG) FetchSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	where, args := scheduleWhere(filter)
	items, err := r.query(ctx, scheduleSelect+where+` ORDER BY s.next_due_date, s.id`, args...)
	if err != nil {
		return nil, careerr.FetchFailure("fetch schedules", err)
	}
	return items, nil
}

func (r *scheduleRepoPG) CountActiveSchedules(ctx context.Context, filter ScheduleFilter) (int, error) {
	filter.ActiveOnly = true
	where, args := scheduleWhere(filter)
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_schedule s`+where, args...).Scan(&n); err != nil {
		return 0, careerr.FetchFailure("count active schedules", err)
	}
	return n, nil
}

func (r *scheduleRepoPG) AdvanceDueDate(ctx context.Context, id uuid.UUID, from, to caldate.Date) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_schedule SET next_due_date = $3, is_notified = FALSE, updated_at = NOW()
		WHERE id = $1 AND next_due_date = $2`,
		id, from.Time(), to.Time())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return careerr.Conflict("schedule %s is no longer due on %s", id, from)
	}
	return nil
}

func (r *scheduleRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient_schedule SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return careerr.NotFound("schedule")
	}
	return nil
}

// -- History --

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const historySelect = `SELECT h.id, h.schedule_id, h.scheduled_date, h.status, h.completed_at,
	h.actual_completion_date, h.note, h.created_at, ci.category
FROM schedule_history h
LEFT JOIN patient_schedule s ON s.id = h.schedule_id
LEFT JOIN care_item ci ON ci.id = s.care_item_id`

func (r *historyRepoPG) scanRecord(row pgx.Row) (*HistoryRecord, error) {
	var (
		rec       HistoryRecord
		scheduled time.Time
		status    string
		actual    *time.Time
		category  *string
	)
	err := row.Scan(&rec.ID, &rec.ScheduleID, &scheduled, &status, &rec.CompletedAt,
		&actual, &rec.Note, &rec.CreatedAt, &category)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, careerr.NotFound("history record")
	}
	if err != nil {
		return nil, err
	}
	rec.ScheduledDate = caldate.FromTime(scheduled)
	rec.Status = HistoryStatus(status)
	rec.ActualCompletionDate = caldate.Ptr(actual)
	rec.Category = careitem.CategoryUnknown
	if category != nil {
		rec.Category = careitem.Normalize(*category)
	}
	return &rec, nil
}

func (r *historyRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*HistoryRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*HistoryRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *historyRepoPG) Create(ctx context.Context, rec *HistoryRecord) error {
	rec.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule_history (id, schedule_id, scheduled_date, status, completed_at, actual_completion_date, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		rec.ID, rec.ScheduleID, rec.ScheduledDate.Time(), string(rec.Status), rec.CompletedAt,
		caldate.TimePtr(rec.ActualCompletionDate), rec.Note,
	).Scan(&rec.CreatedAt)
	if isUniqueViolation(err) {
		return careerr.Conflict("occurrence %s of schedule %s already recorded", rec.ScheduledDate, rec.ScheduleID)
	}
	return err
}

func (r *historyRepoPG) EnsurePending(ctx context.Context, rec *HistoryRecord) error {
	id := uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule_history (id, schedule_id, scheduled_date, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (schedule_id, scheduled_date) DO NOTHING
		RETURNING created_at`,
		id, rec.ScheduleID, rec.ScheduledDate.Time(),
	).Scan(&rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		stored, err := r.GetByOccurrence(ctx, rec.ScheduleID, rec.ScheduledDate)
		if err != nil {
			return err
		}
		*rec = *stored
		return nil
	}
	if err != nil {
		return err
	}
	rec.ID = id
	rec.Status = StatusPending
	return nil
}

func (r *historyRepoPG) GetByOccurrence(ctx context.Context, scheduleID uuid.UUID, scheduledDate caldate.Date) (*HistoryRecord, error) {
	return r.scanRecord(r.conn(ctx).QueryRow(ctx,
		historySelect+` WHERE h.schedule_id = $1 AND h.scheduled_date = $2`, scheduleID, scheduledDate.Time()))
}

func (r *historyRepoPG) Resolve(ctx context.Context, rec *HistoryRecord) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule_history SET status = $2, completed_at = $3, actual_completion_date = $4, note = $5
		WHERE id = $1 AND status = 'pending'`,
		rec.ID, string(rec.Status), rec.CompletedAt, caldate.TimePtr(rec.ActualCompletionDate), rec.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return careerr.Conflict("occurrence %s of schedule %s is already resolved", rec.ScheduledDate, rec.ScheduleID)
	}
	return nil
}

func (r *historyRepoPG) ListBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]*HistoryRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM schedule_history WHERE schedule_id = $1`, scheduleID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, historySelect+` WHERE h.schedule_id = $1
		ORDER BY h.scheduled_date DESC LIMIT $2 OFFSET $3`, scheduleID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *historyRepoPG) FetchHistory(ctx context.Context, filter HistoryFilter, window caldate.Range) ([]*HistoryRecord, error) {
	if err := window.Validate(); err != nil {
		return nil, careerr.InvalidArgument("history window: %v", err)
	}
	var category, status *string
	if filter.Category != nil {
		c := string(*filter.Category)
		category = &c
	}
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	var ids []uuid.UUID
	if len(filter.ScheduleIDs) > 0 {
		ids = filter.ScheduleIDs
	}

	items, err := r.query(ctx, historySelect+`
		WHERE h.scheduled_date BETWEEN $1 AND $2
		  AND ($3::uuid[] IS NULL OR h.schedule_id = ANY($3))
		  AND ($4::text IS NULL OR ci.category = $4)
		  AND ($5::text IS NULL OR h.status = $5)
		ORDER BY h.scheduled_date, h.id`,
		window.Start.Time(), window.End.Time(), ids, category, status)
	if err != nil {
		return nil, careerr.FetchFailure("fetch history", err)
	}
	return items, nil
}
