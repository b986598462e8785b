//go:build unix

package controller_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/droidpanel/internal/controller"
	"github.com/harshul/droidpanel/internal/executor"
	"github.com/harshul/droidpanel/internal/history/memory"
	"github.com/harshul/droidpanel/internal/logsink"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/pipeline"
	"github.com/harshul/droidpanel/internal/procrun"
	"github.com/harshul/droidpanel/internal/registry"
)

type testEnv struct {
	ctrl    *controller.Controller
	sink    *logsink.Sink
	reg     *registry.Registry
	history *memory.Repository
	events  <-chan controller.Event
}

func newTestEnv(t *testing.T, shell ...string) testEnv {
	t.Helper()
	return newTestEnvWith(t, func(*controller.Config) {}, shell...)
}

func newTestEnvWith(t *testing.T, configure func(*controller.Config), shell ...string) testEnv {
	t.Helper()
	require := require.New(t)

	runner, err := procrun.NewRunner(procrun.RunnerConfig{Shell: shell})
	require.NoError(err)
	reg, err := registry.New(registry.Config{Grace: 200 * time.Millisecond})
	require.NoError(err)
	sink, err := logsink.New(logsink.Config{})
	require.NoError(err)
	exec, err := executor.New(executor.Config{Spawner: runner, Foreground: reg, Sink: sink})
	require.NoError(err)
	hist, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	cfg := controller.Config{
		Executor:  exec,
		Killer:    reg,
		Logs:      sink,
		History:   hist,
		TimerTick: 10 * time.Millisecond,
	}
	configure(&cfg)
	ctrl, err := controller.New(cfg)
	require.NoError(err)

	events, unsubscribe := ctrl.SubscribeTask()
	t.Cleanup(func() {
		ctrl.Shutdown()
		unsubscribe()
	})

	return testEnv{ctrl: ctrl, sink: sink, reg: reg, history: hist, events: events}
}

// waitFinished returns the finished event, failing if a second one arrives.
func waitFinished(t *testing.T, env testEnv) controller.Event {
	t.Helper()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-env.events:
			if ev.Kind != controller.EventFinished {
				continue
			}
			select {
			case ev2 := <-env.events:
				if ev2.Kind == controller.EventFinished {
					t.Fatalf("second finished event: %+v", ev2)
				}
			case <-time.After(50 * time.Millisecond):
			}
			return ev
		case <-timeout:
			t.Fatal("task never finished")
		}
	}
}

func logTexts(sink *logsink.Sink) []string {
	var out []string
	for _, l := range sink.Snapshot() {
		out = append(out, l.Text)
	}
	return out
}

func TestStartAsyncTaskLifecycle(t *testing.T) {
	tests := map[string]struct {
		command    string
		expOutcome model.Outcome
		expCode    int
	}{
		"A successful command should finish as succeeded.": {
			command:    "echo building",
			expOutcome: model.OutcomeSucceeded,
		},
		"A failing command should finish as failed with its code.": {
			command:    "echo broken >&2; exit 4",
			expOutcome: model.OutcomeFailed,
			expCode:    4,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			env := newTestEnv(t)

			require.NoError(env.ctrl.StartAsyncTask("Build", test.command))
			assert.True(env.ctrl.IsTaskRunning())
			assert.True(env.ctrl.Task().Running)

			ev := waitFinished(t, env)
			assert.Equal(test.expOutcome, ev.Task.LastOutcome)
			assert.Equal(test.expCode, ev.Task.ExitCode)
			assert.False(ev.Task.Running)

			assert.False(env.ctrl.IsTaskRunning())
			assert.Zero(env.ctrl.CurrentTaskElapsed())
			assert.Equal(test.expOutcome, env.ctrl.Task().LastOutcome)

			runs, err := env.history.ListTaskRuns(context.Background(), 0)
			require.NoError(err)
			require.Len(runs, 1)
			assert.Equal(ev.Task.ID, runs[0].ID)
			assert.Equal(test.expOutcome, runs[0].Outcome)
		})
	}
}

func TestStartWhileRunning(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.ctrl.StartAsyncTask("Long", "sleep 2"))
	err := env.ctrl.StartAsyncTask("Other", "true")
	assert.ErrorIs(t, err, model.ErrTaskRunning)
	err = env.ctrl.StartPipeline(pipeline.Pipeline{Label: "Other", Steps: []model.Step{{Label: "x", Command: "true"}}})
	assert.ErrorIs(t, err, model.ErrTaskRunning)

	env.ctrl.CancelCurrentTask()
	waitFinished(t, env)
}

func TestStartSpawnFailureEndsTask(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, "/nonexistent/shell", "-c")

	err := env.ctrl.StartAsyncTask("Build", "true")
	assert.ErrorIs(err, model.ErrSpawn)
	assert.False(env.ctrl.IsTaskRunning())

	ev := waitFinished(t, env)
	assert.Equal(model.OutcomeFailed, ev.Task.LastOutcome)

	// A new task can start right away.
	env2 := newTestEnv(t)
	assert.NoError(env2.ctrl.StartAsyncTask("Build", "true"))
	waitFinished(t, env2)
}

func TestCancelCurrentTask(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t)

	// Cancelling when idle is a no-op.
	env.ctrl.CancelCurrentTask()

	require.NoError(env.ctrl.StartAsyncTask("Server", "echo ready; sleep 30"))
	require.Eventually(func() bool {
		return env.reg.Current() != nil && strings.Contains(strings.Join(logTexts(env.sink), "\n"), "ready")
	}, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	env.ctrl.CancelCurrentTask()
	env.ctrl.CancelCurrentTask()
	ev := waitFinished(t, env)

	assert.Equal(model.OutcomeCancelled, ev.Task.LastOutcome)
	assert.Less(time.Since(start), 5*time.Second)
	assert.False(env.ctrl.IsTaskRunning())
	assert.Nil(env.reg.Current())
	assert.Equal(model.StateCancelled, env.ctrl.PipelineState())
	assert.Zero(env.ctrl.CurrentTaskElapsed())
}

func TestCancelRacingExitHasOneOutcome(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, env.ctrl.StartAsyncTask(fmt.Sprintf("Quick %d", i), "true"))
		env.ctrl.CancelCurrentTask()

		ev := waitFinished(t, env)
		assert.True(t, ev.Task.LastOutcome == model.OutcomeCancelled || ev.Task.LastOutcome == model.OutcomeSucceeded)
		env.ctrl.Wait()
		require.False(t, env.ctrl.IsTaskRunning())
	}

	runs, err := env.history.ListTaskRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 20)
}

func TestStartPipeline(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t)

	var steps []model.Step
	for i := 1; i <= 5; i++ {
		cmd := fmt.Sprintf("echo step-%d", i)
		if i == 3 {
			cmd = "echo step-3; exit 3"
		}
		steps = append(steps, model.Step{Label: fmt.Sprintf("Step %d", i), Command: cmd, State: model.StateCompiling})
	}

	require.NoError(env.ctrl.StartPipeline(pipeline.Pipeline{Label: "Five", Steps: steps}))
	ev := waitFinished(t, env)

	assert.Equal(model.OutcomeFailed, ev.Task.LastOutcome)
	assert.Equal("Step 3", ev.Task.FailedStep)
	assert.Equal(3, ev.Task.ExitCode)
	assert.Equal(model.StateFailed, ev.State)

	logs := strings.Join(logTexts(env.sink), "\n")
	assert.Contains(logs, "step-3")
	assert.Contains(logs, "✗ Step 3 failed (code 3)")
	assert.NotContains(logs, "step-4")
}

func TestCancelPipeline(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t)

	steps := []model.Step{
		{Label: "First", Command: "echo ready; sleep 30"},
		{Label: "Second", Command: "echo second"},
	}
	require.NoError(env.ctrl.StartPipeline(pipeline.Pipeline{Label: "Two", Steps: steps}))
	require.Eventually(func() bool { return env.reg.Current() != nil }, 5*time.Second, 10*time.Millisecond)

	env.ctrl.CancelCurrentTask()
	ev := waitFinished(t, env)

	assert.Equal(model.OutcomeCancelled, ev.Task.LastOutcome)
	assert.NotContains(strings.Join(logTexts(env.sink), "\n"), "second")
}

func TestLogsAndClear(t *testing.T) {
	env := newTestEnv(t)
	logs, unsubscribe := env.ctrl.SubscribeLogs()
	defer unsubscribe()

	require.NoError(t, env.ctrl.StartAsyncTask("Echo", "echo hello"))
	waitFinished(t, env)

	select {
	case <-logs:
	case <-time.After(time.Second):
		t.Fatal("no log notification")
	}
	assert.Contains(t, logTexts(env.sink), "hello")
	assert.NotEmpty(t, env.ctrl.Logs())

	env.ctrl.ClearLogs()
	assert.Empty(t, env.ctrl.Logs())
}

// slowHistory records runs after a delay.
type slowHistory struct {
	*memory.Repository
	delay time.Duration
	saved atomic.Bool
}

func (h *slowHistory) SaveTaskRun(ctx context.Context, r model.TaskRun) error {
	time.Sleep(h.delay)
	if err := h.Repository.SaveTaskRun(ctx, r); err != nil {
		return err
	}
	h.saved.Store(true)
	return nil
}

func TestShutdownWaitsForHistoryRecord(t *testing.T) {
	tests := map[string]struct {
		start func(c *controller.Controller) error
	}{
		"A finished command should be recorded before shutdown returns.": {
			start: func(c *controller.Controller) error { return c.StartAsyncTask("Install", "true") },
		},
		"A finished pipeline should be recorded before shutdown returns.": {
			start: func(c *controller.Controller) error {
				return c.StartPipeline(pipeline.Pipeline{Label: "Build", Steps: []model.Step{{Label: "Compile", Command: "true"}}})
			},
		},
		"A command that can't start should be recorded before shutdown returns.": {
			start: func(c *controller.Controller) error {
				return c.StartCommand(procrun.Spec{Label: "Install", Command: "true", Dir: "/nonexistent/dir"})
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			mem, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(t, err)
			hist := &slowHistory{Repository: mem, delay: 100 * time.Millisecond}

			env := newTestEnvWith(t, func(cfg *controller.Config) { cfg.History = hist })

			_ = test.start(env.ctrl)
			waitFinished(t, env)

			env.ctrl.Shutdown()
			assert.True(t, hist.saved.Load())
		})
	}
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := controller.New(controller.Config{})
	assert.Error(t, err)
}
