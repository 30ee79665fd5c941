package careitem

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/internal/platform/db"
	"github.com/caretrack/caretrack/internal/platform/recurrence"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type careItemRepoPG struct{ pool *pgxpool.Pool }

func NewCareItemRepoPG(pool *pgxpool.Pool) CareItemRepository {
	return &careItemRepoPG{pool: pool}
}

func (r *careItemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const itemCols = `id, name, category, period_value, period_unit, description, created_at, updated_at`

func (r *careItemRepoPG) scanItem(row pgx.Row) (*CareItem, error) {
	var (
		item     CareItem
		category string
		unit     string
	)
	err := row.Scan(&item.ID, &item.Name, &category, &item.Period.Value, &unit,
		&item.Description, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, careerr.NotFound("care item")
	}
	if err != nil {
		return nil, err
	}
	item.Category = Normalize(category)
	item.Period.Unit = recurrence.Unit(unit)
	return &item, nil
}

func (r *careItemRepoPG) Create(ctx context.Context, item *CareItem) error {
	item.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO care_item (id, name, category, period_value, period_unit, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		item.ID, item.Name, string(item.Category), item.Period.Value, string(item.Period.Unit), item.Description,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *careItemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CareItem, error) {
	return r.scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM care_item WHERE id = $1`, id))
}

func (r *careItemRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*CareItem, error) {
	return r.scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM care_item WHERE id = $1 FOR UPDATE`, id))
}

func (r *careItemRepoPG) Update(ctx context.Context, item *CareItem) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE care_item SET name = $2, category = $3, period_value = $4, period_unit = $5,
			description = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		item.ID, item.Name, string(item.Category), item.Period.Value, string(item.Period.Unit), item.Description,
	).Scan(&item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return careerr.NotFound("care item")
	}
	return err
}

func (r *careItemRepoPG) List(ctx context.Context, category *Category, limit, offset int) ([]*CareItem, int, error) {
	var filter *string
	if category != nil {
		s := string(*category)
		filter = &s
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM care_item WHERE ($1::text IS NULL OR category = $1)`, filter,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM care_item
		WHERE ($1::text IS NULL OR category = $1)
		ORDER BY name, id LIMIT $2 OFFSET $3`, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CareItem
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *careItemRepoPG) IsReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patient_schedule WHERE care_item_id = $1)`, id,
	).Scan(&referenced)
	return referenced, err
}
