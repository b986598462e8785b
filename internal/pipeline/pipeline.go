// Package pipeline runs ordered process steps as a single task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/harshul/droidpanel/internal/executor"
	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/procrun"
)

// StepRunner runs one step to completion.
type StepRunner interface {
	RunSync(ctx context.Context, spec procrun.Spec) (executor.Result, error)
}

// Sink receives the user facing messages.
type Sink interface {
	Message(kind model.LogKind, format string, args ...any)
}

// Pipeline is a named list of steps plus the intermediate files removed once
// every step succeeded.
type Pipeline struct {
	Label string
	// TaskID is set on every spawned step.
	TaskID  string
	Steps   []model.Step
	Cleanup []string
	// Success is logged at the end of a successful run.
	Success string
}

// Report is the result of running a pipeline.
type Report struct {
	State      model.PipelineState
	FailedStep string
	ExitCode   int
	// Ran are the labels of the steps that were spawned, in order.
	Ran []string
	Err error
}

// Outcome maps the final state to a task outcome.
func (r Report) Outcome() model.Outcome {
	switch r.State {
	case model.StateSucceeded:
		return model.OutcomeSucceeded
	case model.StateCancelled:
		return model.OutcomeCancelled
	default:
		return model.OutcomeFailed
	}
}

// Config is the runner configuration.
type Config struct {
	Steps StepRunner
	Sink  Sink
	// OnState is called on every state transition, from the pipeline goroutine.
	OnState func(model.PipelineState)
	Logger  log.Logger
}

func (c *Config) defaults() error {
	if c.Steps == nil {
		return fmt.Errorf("step runner is required")
	}
	if c.Sink == nil {
		return fmt.Errorf("sink is required")
	}
	if c.OnState == nil {
		c.OnState = func(model.PipelineState) {}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "pipeline.Runner"})

	return nil
}

// Runner runs pipelines, one at a time.
type Runner struct {
	steps   StepRunner
	sink    Sink
	onState func(model.PipelineState)
	logger  log.Logger

	mu    sync.Mutex
	state model.PipelineState
}

// NewRunner returns a new Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		steps:   cfg.Steps,
		sink:    cfg.Sink,
		onState: cfg.OnState,
		logger:  cfg.Logger,
		state:   model.StateIdle,
	}, nil
}

// State returns the current state.
func (r *Runner) State() model.PipelineState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) enter(s model.PipelineState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()

	r.onState(s)
}

// Run executes the steps in order and stops at the first one that fails. It
// blocks, so it must run off the UI goroutine. A cancelled ctx stops the
// pipeline before the next step.
func (r *Runner) Run(ctx context.Context, p Pipeline) Report {
	logger := r.logger.WithValues(log.Kv{"pipeline": p.Label})
	report := Report{}

	fail := func(state model.PipelineState, step string, err error) Report {
		report.State = state
		report.FailedStep = step
		report.Err = err
		r.enter(state)
		logger.Infof("Pipeline finished as %s at step %q", state, step)
		return report
	}

	for _, step := range p.Steps {
		if ctx.Err() != nil {
			// The step at fault is the last one spawned, none when nothing ran.
			var last string
			if len(report.Ran) > 0 {
				last = report.Ran[len(report.Ran)-1]
			}
			r.sink.Message(model.KindWarning, "■ %s cancelled", p.Label)
			return fail(model.StateCancelled, last, ctx.Err())
		}

		if step.State != "" {
			r.enter(step.State)
		}

		if step.Precondition != nil {
			if err := step.Precondition(); err != nil {
				err = fmt.Errorf("%s: %w: %w", step.Label, model.ErrPrecondition, err)
				r.sink.Message(model.KindError, "✗ %s: %s", step.Label, err)
				return fail(model.StateFailed, step.Label, err)
			}
		}

		if step.Prepare != nil {
			if err := step.Prepare(); err != nil {
				err = fmt.Errorf("could not prepare %s: %w", step.Label, err)
				r.sink.Message(model.KindError, "✗ %s", err)
				return fail(model.StateFailed, step.Label, err)
			}
		}

		res, err := r.steps.RunSync(ctx, procrun.Spec{
			Command:   step.Command,
			Label:     step.Label,
			Env:       step.Env,
			Dir:       step.Dir,
			Sensitive: step.Sensitive,
			TaskID:    p.TaskID,
		})
		if err != nil {
			if step.Optional {
				continue
			}
			report.ExitCode = res.Exit.Code
			return fail(model.StateFailed, step.Label, err)
		}
		report.ExitCode = res.Exit.Code
		report.Ran = append(report.Ran, step.Label)

		switch {
		case res.Outcome == model.OutcomeCancelled, res.Outcome == model.OutcomeFailed && ctx.Err() != nil:
			return fail(model.StateCancelled, step.Label, context.Canceled)
		case res.Outcome == model.OutcomeFailed && step.Optional:
			r.sink.Message(model.KindWarning, "⚠ %s failed, continuing", step.Label)
		case res.Outcome == model.OutcomeFailed:
			return fail(model.StateFailed, step.Label, nil)
		}
	}

	if len(p.Cleanup) > 0 {
		r.enter(model.StateCleaningUp)
		Cleanup(r.sink, p.Cleanup...)
	}

	if p.Success != "" {
		r.sink.Message(model.KindSuccess, "%s", p.Success)
	}
	r.enter(model.StateSucceeded)
	logger.Infof("Pipeline succeeded")

	return Report{State: model.StateSucceeded, Ran: report.Ran}
}

// Cleanup removes the files that exist. Running it twice is harmless. Errors
// are reported as warnings and returned, they never fail a pipeline.
func Cleanup(sink Sink, paths ...string) []error {
	var errs []error
	for _, p := range paths {
		err := os.Remove(p)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}

		errs = append(errs, err)
		if sink != nil {
			sink.Message(model.KindWarning, "⚠ could not remove %s: %s", p, err)
		}
	}

	return errs
}
