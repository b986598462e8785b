// Package executor runs commands as the foreground task, streaming their
// output into the log sink.
package executor

import (
	"context"
	"fmt"

	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/procrun"
)

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, spec procrun.Spec) (*procrun.Handle, error)
}

// Foreground owns the foreground process slot.
type Foreground interface {
	Register(h *procrun.Handle) error
	Unregister(h *procrun.Handle) bool
}

// Sink receives the user facing output.
type Sink interface {
	Append(kind model.LogKind, texts ...string)
	Message(kind model.LogKind, format string, args ...any)
}

// Result is the outcome of a finished command.
type Result struct {
	Label   string
	Outcome model.Outcome
	Exit    procrun.Exit
}

// Config is the executor configuration.
type Config struct {
	Spawner    Spawner
	Foreground Foreground
	Sink       Sink
	Logger     log.Logger
}

func (c *Config) defaults() error {
	if c.Spawner == nil {
		return fmt.Errorf("spawner is required")
	}
	if c.Foreground == nil {
		return fmt.Errorf("foreground registry is required")
	}
	if c.Sink == nil {
		return fmt.Errorf("sink is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Executor"})

	return nil
}

// Executor runs commands.
type Executor struct {
	spawner    Spawner
	foreground Foreground
	sink       Sink
	logger     log.Logger
}

// New returns a new Executor.
func New(cfg Config) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Executor{
		spawner:    cfg.Spawner,
		foreground: cfg.Foreground,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
	}, nil
}

// RunAsync starts the command and returns right away. If the process can't be
// started the error is logged, returned and done is never called. Otherwise
// done is called exactly once, after every output line reached the sink.
func (e *Executor) RunAsync(ctx context.Context, spec procrun.Spec, done func(Result)) error {
	h, err := e.start(ctx, spec)
	if err != nil {
		return err
	}

	go func() {
		res := e.drain(h)
		if done != nil {
			done(res)
		}
	}()

	return nil
}

// RunSync runs the command to completion in the calling goroutine, framing its
// output with start and end messages. A non zero exit is reported in the
// result, only a spawn failure returns an error.
func (e *Executor) RunSync(ctx context.Context, spec procrun.Spec) (Result, error) {
	e.sink.Message(model.KindNormal, "▶ %s...", spec.Label)

	h, err := e.start(ctx, spec)
	if err != nil {
		return Result{Label: spec.Label, Outcome: model.OutcomeFailed, Exit: procrun.Exit{Code: -1}}, err
	}

	res := e.drain(h)
	switch res.Outcome {
	case model.OutcomeSucceeded:
		e.sink.Message(model.KindSuccess, "✓ %s done", spec.Label)
	case model.OutcomeCancelled:
		e.sink.Message(model.KindWarning, "■ %s cancelled", spec.Label)
	default:
		e.sink.Message(model.KindError, "✗ %s failed (code %d)", spec.Label, res.Exit.Code)
	}

	return res, nil
}

func (e *Executor) start(ctx context.Context, spec procrun.Spec) (*procrun.Handle, error) {
	logger := e.logger.WithValues(log.Kv{"label": spec.Label})

	h, err := e.spawner.Spawn(ctx, spec)
	if err != nil {
		logger.Errorf("Could not start process: %s", err)
		e.sink.Message(model.KindError, "✗ %s could not start: %s", spec.Label, err)
		return nil, err
	}

	if err := e.foreground.Register(h); err != nil {
		logger.Errorf("Could not register process: %s", err)
		_ = h.Kill()
		for range h.Lines() {
		}
		<-h.Done()
		e.sink.Message(model.KindError, "✗ %s could not start: %s", spec.Label, err)
		return nil, fmt.Errorf("%w: %w", model.ErrSpawn, err)
	}

	logger.Debugf("Foreground process %d started", h.Pid)
	return h, nil
}

// drain pumps the output into the sink, waits for the exit status and
// releases the foreground slot.
func (e *Executor) drain(h *procrun.Handle) Result {
	for l := range h.Lines() {
		kind := model.KindNormal
		if l.Stream == procrun.Stderr {
			kind = model.KindError
		}
		e.sink.Append(kind, l.Text)
	}
	<-h.Done()

	e.foreground.Unregister(h)

	exit := h.Exit()
	res := Result{Label: h.Label, Exit: exit, Outcome: outcomeOf(exit)}
	e.logger.WithValues(log.Kv{"label": h.Label}).Debugf("Foreground process %d finished: %s", h.Pid, res.Outcome)

	return res
}

func outcomeOf(exit procrun.Exit) model.Outcome {
	switch {
	case exit.CancelRequested:
		return model.OutcomeCancelled
	case exit.Success():
		return model.OutcomeSucceeded
	default:
		return model.OutcomeFailed
	}
}
