// Package controller is the single entry point the UI and the CLI use to run
// tasks, cancel them and observe their output.
package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harshul/droidpanel/internal/executor"
	"github.com/harshul/droidpanel/internal/history"
	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/pipeline"
	"github.com/harshul/droidpanel/internal/procrun"
	"github.com/harshul/droidpanel/internal/tasktimer"
)

// Executor runs foreground commands.
type Executor interface {
	RunAsync(ctx context.Context, spec procrun.Spec, done func(executor.Result)) error
	RunSync(ctx context.Context, spec procrun.Spec) (executor.Result, error)
}

// Killer stops the foreground process tree of a task.
type Killer interface {
	KillTask(ctx context.Context, taskID string) error
}

// LogStore is the user facing log.
type LogStore interface {
	Append(kind model.LogKind, texts ...string)
	Message(kind model.LogKind, format string, args ...any)
	Snapshot() []model.LogLine
	Clear()
	Subscribe() (<-chan struct{}, func())
}

// DeviceWatcher publishes the emulator status.
type DeviceWatcher interface {
	Start(ctx context.Context)
	Stop()
	Status() bool
	Subscribe() (<-chan bool, func())
}

// EventKind is the kind of a task event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStateChanged
	EventFinished
)

// Event is a task lifecycle notification.
type Event struct {
	Kind  EventKind
	Task  model.Task
	State model.PipelineState
}

// Config is the controller configuration.
type Config struct {
	Executor Executor
	Killer   Killer
	Logs     LogStore
	// Devices is optional, without it device subscriptions never fire.
	Devices DeviceWatcher
	// History is optional, finished tasks are not recorded without it.
	History history.Repository
	// GradleWorkers sizes the Gradle worker pool from the configured value.
	// Without it Gradle picks its own.
	GradleWorkers func(configured int) int
	TimerTick     time.Duration
	Now           func() time.Time
	Logger        log.Logger
}

func (c *Config) defaults() error {
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.Killer == nil {
		return fmt.Errorf("killer is required")
	}
	if c.Logs == nil {
		return fmt.Errorf("log store is required")
	}
	if c.TimerTick == 0 {
		c.TimerTick = tasktimer.DefaultTick
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "controller.Controller"})

	return nil
}

type task struct {
	model.Task
	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
	once            sync.Once
}

// Controller owns the task state. At most one task runs at a time.
type Controller struct {
	exec     Executor
	killer   Killer
	logs     LogStore
	devices  DeviceWatcher
	history  history.Repository
	workers  func(configured int) int
	timer    *tasktimer.Timer
	now      func() time.Time
	logger   log.Logger
	entropy  *ulid.MonotonicEntropy
	settings settingsHolder

	mu          sync.Mutex
	current     *task
	last        model.Task
	state       model.PipelineState
	subscribers map[chan Event]struct{}
	wg          sync.WaitGroup
}

// New returns a new Controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	timer, err := tasktimer.New(tasktimer.Config{Tick: cfg.TimerTick, Now: cfg.Now})
	if err != nil {
		return nil, fmt.Errorf("could not create timer: %w", err)
	}

	return &Controller{
		exec:        cfg.Executor,
		killer:      cfg.Killer,
		logs:        cfg.Logs,
		devices:     cfg.Devices,
		history:     cfg.History,
		workers:     cfg.GradleWorkers,
		timer:       timer,
		now:         cfg.Now,
		logger:      cfg.Logger,
		entropy:     ulid.Monotonic(ulid.DefaultEntropy(), 0),
		state:       model.StateIdle,
		subscribers: map[chan Event]struct{}{},
	}, nil
}

// StartAsyncTask runs a shell command as the current task.
func (c *Controller) StartAsyncTask(label, command string) error {
	return c.StartCommand(procrun.Spec{Label: label, Command: command})
}

// StartCommand runs a command as the current task. It fails with
// model.ErrTaskRunning while another task runs, and with model.ErrSpawn when
// the process can't be started, in which case the task is already finished.
func (c *Controller) StartCommand(spec procrun.Spec) error {
	t, err := c.begin(spec.Label)
	if err != nil {
		return err
	}
	spec.TaskID = t.ID

	// Shutdown waits for the completion, history record included.
	c.wg.Add(1)
	err = c.exec.RunAsync(t.ctx, spec, func(res executor.Result) {
		defer c.wg.Done()
		c.finish(t, res.Outcome, res.Exit.Code, "")
	})
	if err != nil {
		c.finish(t, model.OutcomeFailed, -1, "")
		c.wg.Done()
		return err
	}

	return nil
}

// StartPipeline runs the steps in order as the current task.
func (c *Controller) StartPipeline(p pipeline.Pipeline) error {
	t, err := c.begin(p.Label)
	if err != nil {
		return err
	}

	p.TaskID = t.ID
	runner, err := pipeline.NewRunner(pipeline.Config{
		Steps:   c.exec,
		Sink:    c.logs,
		OnState: func(s model.PipelineState) { c.setState(t, s) },
		Logger:  c.logger,
	})
	if err != nil {
		c.finish(t, model.OutcomeFailed, -1, "")
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		report := runner.Run(t.ctx, p)
		c.finish(t, report.Outcome(), report.ExitCode, report.FailedStep)
	}()

	return nil
}

// CancelCurrentTask stops the running task. It returns right away, the task
// finishes as cancelled once its processes are gone. It's a no-op when idle.
func (c *Controller) CancelCurrentTask() {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()

	if t == nil || !t.cancelRequested.CompareAndSwap(false, true) {
		return
	}

	c.logs.Message(model.KindWarning, "■ Stopping %s...", t.Label)
	c.logger.Infof("Cancel requested for task %s", t.ID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// Graceful kill first, the task context would SIGKILL right away.
		if err := c.killer.KillTask(context.Background(), t.ID); err != nil {
			c.logger.Warningf("Could not kill foreground process: %s", err)
		}
		t.cancel()
	}()
}

// IsTaskRunning reports whether a task runs.
func (c *Controller) IsTaskRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// CurrentTaskElapsed is the running time of the current task, zero when idle.
func (c *Controller) CurrentTaskElapsed() time.Duration {
	return c.timer.Elapsed()
}

// Task returns the current task, or the last finished one when idle.
func (c *Controller) Task() model.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current.Task
	}
	return c.last
}

// PipelineState returns the state of the current or last pipeline.
func (c *Controller) PipelineState() model.PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Logs returns a snapshot of the log.
func (c *Controller) Logs() []model.LogLine { return c.logs.Snapshot() }

// ClearLogs empties the log.
func (c *Controller) ClearLogs() { c.logs.Clear() }

// SubscribeLogs notifies log changes.
func (c *Controller) SubscribeLogs() (<-chan struct{}, func()) { return c.logs.Subscribe() }

// SubscribeDevice notifies emulator status changes.
func (c *Controller) SubscribeDevice() (<-chan bool, func()) {
	if c.devices == nil {
		return make(chan bool), func() {}
	}
	return c.devices.Subscribe()
}

// EmulatorRunning returns the last polled emulator status.
func (c *Controller) EmulatorRunning() bool {
	if c.devices == nil {
		return false
	}
	return c.devices.Status()
}

// StartDevicePolling starts polling the emulator status until ctx is done.
func (c *Controller) StartDevicePolling(ctx context.Context) {
	if c.devices != nil {
		c.devices.Start(ctx)
	}
}

// SubscribeTask returns a channel receiving task events. Slow readers lose the
// oldest events, never the newest.
func (c *Controller) SubscribeTask() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, ch)
			c.mu.Unlock()
		})
	}
}

// Wait blocks until the background work started by the controller is done.
func (c *Controller) Wait() { c.wg.Wait() }

// Shutdown cancels the running task and stops the background loops.
func (c *Controller) Shutdown() {
	c.CancelCurrentTask()
	if c.devices != nil {
		c.devices.Stop()
	}
	c.wg.Wait()
}

func (c *Controller) begin(label string) (*task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return nil, fmt.Errorf("could not start %q: %w", label, model.ErrTaskRunning)
	}

	now := c.now()
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		Task: model.Task{
			ID:        ulid.MustNew(ulid.Timestamp(now), c.entropy).String(),
			Label:     label,
			StartedAt: now,
			Running:   true,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	c.current = t
	c.state = model.StateIdle
	c.timer.Start()

	c.logger.WithValues(log.Kv{"task": t.ID}).Infof("Task %q started", label)
	c.publishLocked(Event{Kind: EventStarted, Task: t.Task, State: c.state})

	return t, nil
}

func (c *Controller) setState(t *task, s model.PipelineState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != t {
		return
	}
	c.state = s
	c.publishLocked(Event{Kind: EventStateChanged, Task: t.Task, State: s})
}

// finish is the only place a task ends. It runs once per task whatever
// races between completion, spawn failure and cancellation.
func (c *Controller) finish(t *task, outcome model.Outcome, exitCode int, failedStep string) {
	t.once.Do(func() {
		if t.cancelRequested.Load() {
			outcome = model.OutcomeCancelled
		}
		finished := c.now()

		c.mu.Lock()
		t.Running = false
		t.LastOutcome = outcome
		t.ExitCode = exitCode
		t.FailedStep = failedStep
		c.last = t.Task
		if c.current == t {
			c.current = nil
		}
		switch outcome {
		case model.OutcomeCancelled:
			c.state = model.StateCancelled
		case model.OutcomeFailed:
			c.state = model.StateFailed
		default:
			c.state = model.StateSucceeded
		}
		c.timer.Stop()
		c.publishLocked(Event{Kind: EventFinished, Task: t.Task, State: c.state})
		c.mu.Unlock()

		t.cancel()

		logger := c.logger.WithValues(log.Kv{"task": t.ID})
		logger.Infof("Task %q finished: %s (code %d)", t.Label, outcome, exitCode)
		if outcome == model.OutcomeCancelled {
			c.logs.Message(model.KindWarning, "■ %s stopped", t.Label)
		}

		c.record(t.Task, finished)
	})
}

func (c *Controller) record(t model.Task, finished time.Time) {
	if c.history == nil {
		return
	}

	run := model.TaskRun{
		ID:         t.ID,
		Label:      t.Label,
		Outcome:    t.LastOutcome,
		ExitCode:   t.ExitCode,
		FailedStep: t.FailedStep,
		StartedAt:  t.StartedAt,
		FinishedAt: finished,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.history.SaveTaskRun(ctx, run); err != nil {
		c.logger.Warningf("Could not record task run %s: %s", run.ID, err)
	}
}

func (c *Controller) publishLocked(ev Event) {
	for ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
