package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/caretrack/caretrack/pkg/caldate"
)

const defaultRunTimeout = 2 * time.Minute

// ReportFunc builds the report to snapshot for the given day.
type ReportFunc func(ctx context.Context, today caldate.Date) (interface{}, error)

// ScopeFunc prepares the context a run executes in, for example binding it
// to a tenant connection. The release func is called when the run ends.
type ScopeFunc func(ctx context.Context) (context.Context, func(), error)

type RunnerConfig struct {
	// Spec is a standard 5-field cron expression.
	Spec     string
	Location *time.Location
	Timeout  time.Duration
	Scope    ScopeFunc
	// OnResult, when set, is called after every scheduled run.
	OnResult func(err error)
}

// SnapshotRunner takes a report on a cron schedule and stores it. A failed
// run is logged and the schedule continues.
type SnapshotRunner struct {
	cron   *cron.Cron
	cfg    RunnerConfig
	report ReportFunc
	store  SnapshotStore
	today  caldate.TodayFunc
	logger zerolog.Logger
}

func NewSnapshotRunner(cfg RunnerConfig, report ReportFunc, store SnapshotStore, today caldate.TodayFunc, logger zerolog.Logger) (*SnapshotRunner, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRunTimeout
	}
	r := &SnapshotRunner{
		cfg:    cfg,
		report: report,
		store:  store,
		today:  today,
		logger: logger.With().Str("job", "dashboard_snapshot").Logger(),
	}
	r.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cron.PrintfLogger(&r.logger)), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := r.cron.AddFunc(cfg.Spec, r.run); err != nil {
		return nil, fmt.Errorf("invalid snapshot schedule %q: %w", cfg.Spec, err)
	}
	return r, nil
}

func (r *SnapshotRunner) Start() {
	r.cron.Start()
	r.logger.Info().Str("schedule", r.cfg.Spec).Msg("snapshot job started")
}

// Stop prevents new runs and waits for a running one to finish or ctx to end.
func (r *SnapshotRunner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (r *SnapshotRunner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	s, err := r.RunOnce(ctx)
	if r.cfg.OnResult != nil {
		r.cfg.OnResult(err)
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("snapshot failed")
		return
	}
	r.logger.Info().Str("snapshot_id", s.ID.String()).Str("taken_on", s.TakenOn.String()).Msg("snapshot stored")
}

// RunOnce takes and stores one snapshot for today.
func (r *SnapshotRunner) RunOnce(ctx context.Context) (*Snapshot, error) {
	if r.cfg.Scope != nil {
		scoped, release, err := r.cfg.Scope(ctx)
		if err != nil {
			return nil, fmt.Errorf("scope snapshot: %w", err)
		}
		defer release()
		ctx = scoped
	}

	today := r.today()
	report, err := r.report(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("build report for %s: %w", today, err)
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	s := &Snapshot{TakenOn: today, Payload: payload}
	if err := r.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
