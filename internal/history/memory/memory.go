package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "history.Memory"})
	return nil
}

// Repository is an in-memory implementation of history.Repository.
type Repository struct {
	runs   map[string]model.TaskRun
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository returns a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{runs: map[string]model.TaskRun{}, logger: cfg.Logger}, nil
}

// SaveTaskRun stores a finished run.
func (r *Repository) SaveTaskRun(_ context.Context, run model.TaskRun) error {
	if err := run.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("task run %s: %w", run.ID, model.ErrAlreadyExists)
	}
	r.runs[run.ID] = run

	return nil
}

// GetTaskRun returns a run by ID.
func (r *Repository) GetTaskRun(_ context.Context, id string) (*model.TaskRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("task run %s: %w", id, model.ErrNotFound)
	}
	return &run, nil
}

// ListTaskRuns returns runs newest first.
func (r *Repository) ListTaskRuns(_ context.Context, limit int) ([]model.TaskRun, error) {
	r.mu.RLock()
	runs := make([]model.TaskRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteTaskRuns removes every stored run.
func (r *Repository) DeleteTaskRuns(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = map[string]model.TaskRun{}
	return nil
}
