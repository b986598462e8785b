// Package registry tracks the foreground process and stops process trees.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/procrun"
)

// DefaultGrace is how long a process tree gets to exit after SIGTERM.
const DefaultGrace = 500 * time.Millisecond

// DescendantsFunc returns every live descendant pid of pid.
type DescendantsFunc func(ctx context.Context, pid int) []int

// Config is the registry configuration.
type Config struct {
	// Grace between the polite and the forced stop.
	Grace       time.Duration
	Descendants DescendantsFunc
	Logger      log.Logger
}

func (c *Config) defaults() error {
	if c.Grace < 0 {
		return fmt.Errorf("grace can't be negative")
	}
	if c.Grace == 0 {
		c.Grace = DefaultGrace
	}

	if c.Descendants == nil {
		c.Descendants = Descendants
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "registry.Registry"})

	return nil
}

// Registry holds at most one foreground process handle plus the pids of every
// process it has ever seen. It is the only writer of the foreground slot.
type Registry struct {
	grace       time.Duration
	descendants DescendantsFunc
	logger      log.Logger

	mu      sync.Mutex
	current *procrun.Handle
	history []int
}

// New returns a new Registry.
func New(cfg Config) (*Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Registry{
		grace:       cfg.Grace,
		descendants: cfg.Descendants,
		logger:      cfg.Logger,
	}, nil
}

// Grace returns the configured grace period.
func (r *Registry) Grace() time.Duration { return r.grace }

// Register makes h the foreground process. It fails when another handle
// already holds the slot.
func (r *Registry) Register(h *procrun.Handle) error {
	if h == nil {
		return fmt.Errorf("nil handle: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current != h {
		return fmt.Errorf("%q holds it: %w", r.current.Label, model.ErrForegroundBusy)
	}
	r.current = h
	r.history = append(r.history, h.Pid)

	return nil
}

// Unregister clears the slot only if h is the current handle. It returns true
// the single time the slot was actually cleared for h.
func (r *Registry) Unregister(h *procrun.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil || r.current != h {
		return false
	}
	r.current = nil

	return true
}

// Current returns the foreground handle or nil.
func (r *Registry) Current() *procrun.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// History returns every pid registered so far, oldest first.
func (r *Registry) History() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, len(r.history))
	copy(out, r.history)
	return out
}

// Active returns the registered pids that are still alive.
func (r *Registry) Active(ctx context.Context) []int {
	var out []int
	for _, pid := range r.History() {
		if alive(ctx, pid) {
			out = append(out, pid)
		}
	}
	return out
}

// KillTask stops the foreground process tree if it belongs to the task.
func (r *Registry) KillTask(ctx context.Context, taskID string) error {
	h := r.Current()
	if h == nil || h.TaskID != taskID {
		return nil
	}
	return r.Kill(ctx, h)
}

// KillCurrent stops the foreground process tree, if any.
func (r *Registry) KillCurrent(ctx context.Context) error {
	return r.Kill(ctx, r.Current())
}

// Kill stops the process tree of h: SIGTERM to the group, up to Grace for it
// to exit, then SIGKILL to the group and any descendant still alive. The
// handle is flagged as cancel requested before any signal is sent, so its
// completion reports a cancellation. Killing a finished handle is a no-op.
func (r *Registry) Kill(ctx context.Context, h *procrun.Handle) error {
	if h == nil {
		return nil
	}

	h.MarkCancelRequested()
	if !h.Running() {
		return nil
	}

	logger := r.logger.WithValues(log.Kv{"label": h.Label, "pid": h.Pid})

	// Children are reparented once the shell dies, collect them first.
	children := r.descendants(ctx, h.Pid)

	if err := h.Terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warningf("Could not terminate process group: %s", err)
	}

	timer := time.NewTimer(r.grace)
	defer timer.Stop()

	select {
	case <-h.Done():
		logger.Debugf("Process group exited after SIGTERM")
	case <-timer.C:
		logger.Infof("Process group still running after %s, escalating to SIGKILL", r.grace)
		if err := h.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Errorf("Could not kill process group: %s", err)
		}
	case <-ctx.Done():
		_ = h.Kill()
	}

	sweepCtx := context.WithoutCancel(ctx)
	for _, pid := range children {
		if !alive(sweepCtx, pid) {
			continue
		}
		if err := procrun.SignalPid(pid, true); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Warningf("Could not kill descendant %d: %s", pid, err)
		}
	}

	return nil
}

// Descendants walks the process tree below pid using gopsutil.
func Descendants(ctx context.Context, pid int) []int {
	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}

	var out []int
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			out = append(out, int(c.Pid))
			queue = append(queue, c)
		}
	}
	sort.Ints(out)

	return out
}

func alive(ctx context.Context, pid int) bool {
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}
