package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caretrack/caretrack/pkg/caldate"
)

type memStore struct {
	saved []*Snapshot
	err   error
}

func (m *memStore) Save(_ context.Context, s *Snapshot) error {
	if m.err != nil {
		return m.err
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	m.saved = append(m.saved, s)
	return nil
}

func (m *memStore) Latest(context.Context) (*Snapshot, error) {
	if len(m.saved) == 0 {
		return nil, errors.New("none")
	}
	return m.saved[len(m.saved)-1], nil
}

var snapshotDay = caldate.MustNew(2025, time.March, 12)

type ctxKey struct{}

func TestRunOnce_StoresReport(t *testing.T) {
	store := &memStore{}
	released := false
	cfg := RunnerConfig{
		Spec: "0 2 * * *",
		Scope: func(ctx context.Context) (context.Context, func(), error) {
			return context.WithValue(ctx, ctxKey{}, "clinic_a"), func() { released = true }, nil
		},
	}
	report := func(ctx context.Context, today caldate.Date) (interface{}, error) {
		if ctx.Value(ctxKey{}) != "clinic_a" {
			t.Error("report did not run in the scoped context")
		}
		return map[string]interface{}{"today": today, "total_patients": 3}, nil
	}

	r, err := NewSnapshotRunner(cfg, report, store, caldate.Fixed(snapshotDay), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !released {
		t.Error("scope was not released")
	}
	if s.TakenOn != snapshotDay || len(store.saved) != 1 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(s.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["today"] != "2025-03-12" || payload["total_patients"] != float64(3) {
		t.Errorf("unexpected payload %v", payload)
	}
}

func TestRunOnce_Failures(t *testing.T) {
	boom := errors.New("boom")

	r, _ := NewSnapshotRunner(RunnerConfig{Spec: "@daily"},
		func(context.Context, caldate.Date) (interface{}, error) { return nil, boom },
		&memStore{}, caldate.Fixed(snapshotDay), zerolog.Nop())
	if _, err := r.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected report error, got %v", err)
	}

	store := &memStore{err: boom}
	r, _ = NewSnapshotRunner(RunnerConfig{Spec: "@daily"},
		func(context.Context, caldate.Date) (interface{}, error) { return 1, nil },
		store, caldate.Fixed(snapshotDay), zerolog.Nop())
	if _, err := r.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}

	r, _ = NewSnapshotRunner(RunnerConfig{Spec: "@daily", Scope: func(ctx context.Context) (context.Context, func(), error) {
		return ctx, nil, boom
	}}, func(context.Context, caldate.Date) (interface{}, error) { return 1, nil },
		&memStore{}, caldate.Fixed(snapshotDay), zerolog.Nop())
	if _, err := r.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected scope error, got %v", err)
	}
}

func TestRun_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewSnapshotRunner(RunnerConfig{Spec: "@hourly"},
		func(context.Context, caldate.Date) (interface{}, error) { return nil, errors.New("db down") },
		&memStore{}, caldate.Fixed(snapshotDay), zerolog.New(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.run()
	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, "db down") || !strings.Contains(out, `"job":"dashboard_snapshot"`) {
		t.Errorf("unexpected log output %s", out)
	}
}

func TestNewSnapshotRunner_InvalidSpec(t *testing.T) {
	_, err := NewSnapshotRunner(RunnerConfig{Spec: "whenever"}, nil, &memStore{}, caldate.Fixed(snapshotDay), zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestStartStop(t *testing.T) {
	r, err := NewSnapshotRunner(RunnerConfig{Spec: "@every 1h", Location: time.UTC},
		func(context.Context, caldate.Date) (interface{}, error) { return 1, nil },
		&memStore{}, caldate.Fixed(snapshotDay), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
	if ctx.Err() != nil {
		t.Error("Stop did not return promptly")
	}
}

func TestRun_ReportsResult(t *testing.T) {
	var results []error
	cfg := RunnerConfig{Spec: "@daily", OnResult: func(err error) { results = append(results, err) }}
	report := func(context.Context, caldate.Date) (interface{}, error) { return map[string]int{"n": 1}, nil }

	store := &memStore{}
	r, err := NewSnapshotRunner(cfg, report, store, caldate.Fixed(snapshotDay), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.run()
	store.err = errors.New("disk full")
	r.run()

	if len(results) != 2 || results[0] != nil || results[1] == nil {
		t.Errorf("unexpected results %v", results)
	}
}
