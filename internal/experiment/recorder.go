package experiment

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/postgres"
)

// Step is one timed operation of a run.
type Step struct {
	RunID      string
	Experiment string
	Name       string
	Mode       string
	Duration   time.Duration
	// Reviews is the number of live reviews after the step.
	Reviews  uint64
	Segments int
	// Detail is free-form: the query term, input file, result size.
	Detail    string
	Error     string
	StartedAt time.Time
}

// Recorder persists run steps.
type Recorder interface {
	Record(ctx context.Context, step Step) error
}

// LogRecorder writes steps to the structured log only.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r LogRecorder) Record(_ context.Context, s Step) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("experiment step",
		"run_id", s.RunID,
		"experiment", s.Experiment,
		"step", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"reviews", s.Reviews,
		"segments", s.Segments,
		"detail", s.Detail,
		"error", s.Error,
	)
	return nil
}

// MemoryRecorder keeps steps in memory.
type MemoryRecorder struct {
	mu    sync.Mutex
	steps []Step
}

func (r *MemoryRecorder) Record(_ context.Context, s Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
	return nil
}

func (r *MemoryRecorder) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step(nil), r.steps...)
}

const schema = `
CREATE TABLE IF NOT EXISTS experiment_runs (
	id          BIGSERIAL PRIMARY KEY,
	run_id      UUID        NOT NULL,
	experiment  TEXT        NOT NULL,
	step        TEXT        NOT NULL,
	mode        TEXT        NOT NULL,
	duration_ms BIGINT      NOT NULL,
	reviews     BIGINT      NOT NULL,
	segments    INTEGER     NOT NULL,
	detail      TEXT        NOT NULL DEFAULT '',
	error       TEXT        NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiment_runs_run_id ON experiment_runs (run_id);
`

// PostgresRecorder writes one experiment_runs row per step.
type PostgresRecorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRecorder creates the experiment_runs table if needed.
func NewPostgresRecorder(ctx context.Context, client *postgres.Client) (*PostgresRecorder, error) {
	err := client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schema)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating experiment_runs: %w", err)
	}
	return &PostgresRecorder{
		db:     client.DB,
		logger: slog.Default().With("component", "experiment-recorder"),
	}, nil
}

func (r *PostgresRecorder) Record(ctx context.Context, s Step) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO experiment_runs
			(run_id, experiment, step, mode, duration_ms, reviews, segments, detail, error, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.RunID, s.Experiment, s.Name, s.Mode, s.Duration.Milliseconds(),
		int64(s.Reviews), s.Segments, s.Detail, s.Error, s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("recording step %s: %w", s.Name, err)
	}
	r.logger.Debug("step recorded", "run_id", s.RunID, "step", s.Name)
	return nil
}
