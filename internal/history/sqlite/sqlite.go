package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harshul/droidpanel/internal/history/sqlite/migrations"
	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/model"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "history.SQLite"})
	return nil
}

// Repository is a SQLite implementation of history.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository opens (creating if needed) the database and migrates it.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Debugf("History database ready at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database.
func (r *Repository) Close() error { return r.db.Close() }

// SaveTaskRun stores a finished run.
func (r *Repository) SaveTaskRun(ctx context.Context, run model.TaskRun) error {
	if err := run.Validate(); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_runs (id, label, outcome, exit_code, failed_step, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Label,
		run.Outcome.String(),
		run.ExitCode,
		run.FailedStep,
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("task run %s: %w", run.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert task run: %w", err)
	}

	r.logger.Debugf("Stored task run %s", run.ID)
	return nil
}

// GetTaskRun returns a run by ID.
func (r *Repository) GetTaskRun(ctx context.Context, id string) (*model.TaskRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, label, outcome, exit_code, failed_step, started_at, finished_at
		FROM task_runs
		WHERE id = ?
	`, id)

	run, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task run %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task run: %w", err)
	}

	return run, nil
}

// ListTaskRuns returns runs newest first.
func (r *Repository) ListTaskRuns(ctx context.Context, limit int) ([]model.TaskRun, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, label, outcome, exit_code, failed_step, started_at, finished_at
		FROM task_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query task runs: %w", err)
	}
	defer rows.Close()

	var runs []model.TaskRun
	for rows.Next() {
		run, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan task run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate task runs: %w", err)
	}

	return runs, nil
}

// DeleteTaskRuns removes every stored run.
func (r *Repository) DeleteTaskRuns(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM task_runs`); err != nil {
		return fmt.Errorf("could not delete task runs: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*model.TaskRun, error) {
	var (
		run                 model.TaskRun
		outcome             string
		startedAt, finished int64
	)

	err := s.Scan(&run.ID, &run.Label, &outcome, &run.ExitCode, &run.FailedStep, &startedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Outcome, err = model.ParseOutcome(outcome)
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(startedAt)
	run.FinishedAt = time.UnixMilli(finished)

	return &run, nil
}
