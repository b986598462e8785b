// Package procrun spawns external commands through a shell and streams their
// output as lines.
package procrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/model"
)

// Stream identifies the output stream a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is a single line of process output.
type Line struct {
	Stream Stream
	Text   string
}

// Spec describes a command to spawn.
type Spec struct {
	// Command is passed to the shell as a single unit. It is never parsed.
	Command string
	Label   string
	// Env is merged on top of the inherited environment, its keys win.
	Env map[string]string
	Dir string
	// TaskID is the owning task, empty for background queries.
	TaskID string
	// Sensitive commands are never logged, not even at debug level.
	Sensitive bool
}

// RunnerConfig is the configuration of the Runner.
type RunnerConfig struct {
	// Shell is the interpreter and its flags, the command is appended as the
	// last argument. Defaults to `sh -c` (`cmd /C` on windows).
	Shell []string
	// BaseEnv returns the environment inherited by every process. Defaults
	// to os.Environ.
	BaseEnv func() []string
	Logger  log.Logger
}

func (c *RunnerConfig) defaults() error {
	if len(c.Shell) == 0 {
		if runtime.GOOS == "windows" {
			c.Shell = []string{"cmd", "/C"}
		} else {
			c.Shell = []string{"sh", "-c"}
		}
	}

	if c.BaseEnv == nil {
		c.BaseEnv = os.Environ
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "procrun.Runner"})

	return nil
}

// Runner spawns processes.
type Runner struct {
	shell   []string
	baseEnv func() []string
	logger  log.Logger
}

// NewRunner returns a new Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		shell:   cfg.Shell,
		baseEnv: cfg.BaseEnv,
		logger:  cfg.Logger,
	}, nil
}

// Spawn starts the command and returns immediately. Lines of the returned
// handle must be drained by the caller. Cancelling ctx kills the whole process
// group. Errors starting the process wrap model.ErrSpawn.
func (r *Runner) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("%w: empty command: %w", model.ErrSpawn, model.ErrNotValid)
	}
	if spec.Label == "" {
		spec.Label = "command"
	}

	args := make([]string, 0, len(r.shell))
	args = append(args, r.shell[1:]...)
	args = append(args, spec.Command)

	cmd := exec.CommandContext(ctx, r.shell[0], args...)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(r.baseEnv(), spec.Env)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process, sigKill)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: could not open stdout: %w", model.ErrSpawn, spec.Label, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: could not open stderr: %w", model.ErrSpawn, spec.Label, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrSpawn, spec.Label, err)
	}

	h := newHandle(cmd, spec)
	logger := r.logger.WithValues(log.Kv{"label": spec.Label, "pid": h.Pid})
	if spec.Sensitive {
		logger.Debugf("Process started")
	} else {
		logger.Debugf("Process started: %s", spec.Command)
	}

	go func() {
		h.wait([]io.Reader{stdout, stderr})
		exit := h.Exit()
		logger.Debugf("Process finished (code=%d signaled=%t)", exit.Code, exit.Signaled)
	}()

	return h, nil
}

// Output runs the command to completion and returns its combined output,
// one line per output line in arrival order.
func (r *Runner) Output(ctx context.Context, spec Spec) (string, Exit, error) {
	h, err := r.Spawn(ctx, spec)
	if err != nil {
		return "", Exit{}, err
	}

	var b strings.Builder
	for l := range h.Lines() {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	<-h.Done()

	return b.String(), h.Exit(), nil
}

// MergeEnv returns base with overlay applied. Overlay values replace
// inherited ones with the same key, new keys are appended sorted.
func MergeEnv(base []string, overlay map[string]string) []string {
	env := make([]string, 0, len(base)+len(overlay))
	seen := make(map[string]bool, len(base))

	for _, kv := range base {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || seen[k] {
			continue
		}
		seen[k] = true

		if v, ok := overlay[k]; ok {
			env = append(env, k+"="+v)
			continue
		}
		env = append(env, kv)
	}

	extra := make([]string, 0, len(overlay))
	for k := range overlay {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		env = append(env, k+"="+overlay[k])
	}

	return env
}
