// Package history stores finished task runs.
package history

import (
	"context"

	"github.com/harshul/droidpanel/internal/model"
)

// Repository is the interface for task run persistence.
type Repository interface {
	SaveTaskRun(ctx context.Context, r model.TaskRun) error
	GetTaskRun(ctx context.Context, id string) (*model.TaskRun, error)
	// ListTaskRuns returns the newest runs first. A limit <= 0 returns all.
	ListTaskRuns(ctx context.Context, limit int) ([]model.TaskRun, error)
	DeleteTaskRuns(ctx context.Context) error
}
