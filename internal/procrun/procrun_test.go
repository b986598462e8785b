//go:build unix

package procrun_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/procrun"
)

func newRunner(t *testing.T, cfg procrun.RunnerConfig) *procrun.Runner {
	t.Helper()
	r, err := procrun.NewRunner(cfg)
	require.NoError(t, err)
	return r
}

func collect(h *procrun.Handle) (stdout, stderr []string) {
	for l := range h.Lines() {
		if l.Stream == procrun.Stderr {
			stderr = append(stderr, l.Text)
		} else {
			stdout = append(stdout, l.Text)
		}
	}
	<-h.Done()
	return stdout, stderr
}

func TestRunnerSpawn(t *testing.T) {
	tests := map[string]struct {
		spec      procrun.Spec
		expStdout []string
		expStderr []string
		expCode   int
	}{
		"Stdout and stderr should be split into their own streams.": {
			spec:      procrun.Spec{Command: "echo out1; echo err1 >&2; echo out2"},
			expStdout: []string{"out1", "out2"},
			expStderr: []string{"err1"},
		},
		"A last line without newline should not be dropped.": {
			spec:      procrun.Spec{Command: "printf 'a\\nb'"},
			expStdout: []string{"a", "b"},
		},
		"A non zero exit code should be reported.": {
			spec:      procrun.Spec{Command: "echo nope >&2; exit 3"},
			expStderr: []string{"nope"},
			expCode:   3,
		},
		"The command should be passed to the shell as a single unit.": {
			spec:      procrun.Spec{Command: "echo one | tr a-z A-Z && echo two"},
			expStdout: []string{"ONE", "two"},
		},
		"Env overlay should be visible to the process.": {
			spec:      procrun.Spec{Command: "echo $DROID_TEST_VALUE", Env: map[string]string{"DROID_TEST_VALUE": "hello"}},
			expStdout: []string{"hello"},
		},
		"The working directory should be honoured.": {
			spec:      procrun.Spec{Command: "pwd", Dir: "/"},
			expStdout: []string{"/"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			r := newRunner(t, procrun.RunnerConfig{})
			h, err := r.Spawn(context.Background(), test.spec)
			require.NoError(err)
			assert.NotZero(h.Pid)

			stdout, stderr := collect(h)
			assert.Equal(test.expStdout, stdout)
			assert.Equal(test.expStderr, stderr)
			assert.Equal(test.expCode, h.Exit().Code)
			assert.False(h.Exit().Signaled)
			assert.False(h.Running())
		})
	}
}

func TestRunnerSpawnFailure(t *testing.T) {
	tests := map[string]struct {
		cfg  procrun.RunnerConfig
		spec procrun.Spec
	}{
		"A missing shell should fail synchronously.": {
			cfg:  procrun.RunnerConfig{Shell: []string{"/nonexistent/shell", "-c"}},
			spec: procrun.Spec{Command: "true"},
		},
		"An empty command should fail synchronously.": {
			spec: procrun.Spec{Command: "   "},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r := newRunner(t, test.cfg)
			h, err := r.Spawn(context.Background(), test.spec)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, model.ErrSpawn)
		})
	}
}

func TestRunnerEnvOverridesInherited(t *testing.T) {
	r := newRunner(t, procrun.RunnerConfig{
		BaseEnv: func() []string { return []string{"PATH=/usr/bin:/bin", "ANDROID_HOME=/old"} },
	})

	out, exit, err := r.Output(context.Background(), procrun.Spec{
		Command: "echo $ANDROID_HOME",
		Env:     map[string]string{"ANDROID_HOME": "/new"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, exit.Code)
	assert.Equal(t, "/new\n", out)
}

func TestHandleKillProcessGroup(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	r := newRunner(t, procrun.RunnerConfig{})
	// The grandchild keeps the pipe open, only a group kill lets the streams finish.
	h, err := r.Spawn(context.Background(), procrun.Spec{Command: "echo started; sleep 30 & sleep 30"})
	require.NoError(err)

	first := <-h.Lines()
	assert.Equal("started", first.Text)

	h.MarkCancelRequested()
	require.NoError(h.Kill())

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process group was not killed")
	}

	exit := h.Exit()
	assert.True(exit.Signaled)
	assert.True(exit.CancelRequested)
	assert.False(exit.Success())
}

func TestRunnerContextCancelKillsGroup(t *testing.T) {
	r := newRunner(t, procrun.RunnerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, exit, err := r.Output(ctx, procrun.Spec{Command: "sleep 30 & sleep 30"})
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
	assert.True(t, exit.Signaled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMergeEnv(t *testing.T) {
	tests := map[string]struct {
		base    []string
		overlay map[string]string
		expEnv  []string
	}{
		"No overlay should keep the base.": {
			base:   []string{"A=1", "B=2"},
			expEnv: []string{"A=1", "B=2"},
		},
		"Overlay keys should win over inherited ones.": {
			base:    []string{"A=1", "B=2"},
			overlay: map[string]string{"B": "3"},
			expEnv:  []string{"A=1", "B=3"},
		},
		"New keys should be appended sorted.": {
			base:    []string{"A=1"},
			overlay: map[string]string{"Z": "9", "M": "5"},
			expEnv:  []string{"A=1", "M=5", "Z=9"},
		},
		"Duplicated inherited keys should be collapsed.": {
			base:   []string{"A=1", "A=2"},
			expEnv: []string{"A=1"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expEnv, procrun.MergeEnv(test.base, test.overlay))
		})
	}
}
