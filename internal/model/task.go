package model

import (
	"fmt"
	"time"
)

// Outcome is how a task finished.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "none", "":
		return OutcomeNone, nil
	case "succeeded":
		return OutcomeSucceeded, nil
	case "failed":
		return OutcomeFailed, nil
	case "cancelled":
		return OutcomeCancelled, nil
	}

	return OutcomeNone, fmt.Errorf("unknown outcome %q: %w", s, ErrNotValid)
}

// Task is the user-visible unit of work: a single command or a whole pipeline.
type Task struct {
	ID          string
	Label       string
	StartedAt   time.Time
	Running     bool
	LastOutcome Outcome
	ExitCode    int
	// FailedStep is set when a pipeline task failed at a specific step.
	FailedStep string
}

// TaskRun is a finished task as stored in the history.
type TaskRun struct {
	ID         string
	Label      string
	Outcome    Outcome
	ExitCode   int
	FailedStep string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration of the run.
func (t TaskRun) Duration() time.Duration {
	return t.FinishedAt.Sub(t.StartedAt)
}

// Validate checks the run can be stored.
func (t TaskRun) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if t.Label == "" {
		return fmt.Errorf("label is required: %w", ErrNotValid)
	}
	if t.StartedAt.IsZero() {
		return fmt.Errorf("start time is required: %w", ErrNotValid)
	}
	if t.FinishedAt.Before(t.StartedAt) {
		return fmt.Errorf("finish time before start time: %w", ErrNotValid)
	}
	if t.Outcome == OutcomeNone {
		return fmt.Errorf("outcome is required: %w", ErrNotValid)
	}

	return nil
}
