// Package jobs runs background work on a cron schedule.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretrack/caretrack/internal/platform/careerr"
	"github.com/caretrack/caretrack/internal/platform/db"
	"github.com/caretrack/caretrack/pkg/caldate"
)

// Snapshot is a stored copy of a report taken on a given day.
type Snapshot struct {
	ID        uuid.UUID       `json:"id"`
	TakenOn   caldate.Date    `json:"taken_on"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type SnapshotStore interface {
	Save(ctx context.Context, s *Snapshot) error
	Latest(ctx context.Context) (*Snapshot, error)
}

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type snapshotStorePG struct{ pool *pgxpool.Pool }

func NewSnapshotStorePG(pool *pgxpool.Pool) SnapshotStore {
	return &snapshotStorePG{pool: pool}
}

func (r *snapshotStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *snapshotStorePG) Save(ctx context.Context, s *Snapshot) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dashboard_snapshot (id, taken_on, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		s.ID, s.TakenOn.Time(), []byte(s.Payload), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *snapshotStorePG) Latest(ctx context.Context) (*Snapshot, error) {
	var (
		s       Snapshot
		takenOn time.Time
		payload []byte
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, taken_on, payload, created_at FROM dashboard_snapshot
		ORDER BY taken_on DESC, created_at DESC LIMIT 1`).
		Scan(&s.ID, &takenOn, &payload, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, careerr.NotFound("snapshot")
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	s.TakenOn = caldate.FromTime(takenOn)
	s.Payload = payload
	return &s, nil
}
