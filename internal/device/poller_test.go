package device_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/droidpanel/internal/device"
	"github.com/harshul/droidpanel/internal/procrun"
)

func newPoller(t *testing.T, runner *fakeRunner, interval time.Duration) *device.Poller {
	t.Helper()
	p, err := device.NewPoller(device.PollerConfig{
		Runner:   runner,
		Query:    procrun.Spec{Label: "adb devices", Command: "adb devices"},
		Interval: interval,
	})
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

func TestPollerPublishesChanges(t *testing.T) {
	require := require.New(t)

	runner := &fakeRunner{responses: map[string][]response{"adb devices": {
		{out: "emulator-5554\toffline\n"},
		{out: "emulator-5554\tdevice\n"},
		{out: "emulator-5554\tdevice\n"},
		{out: ""},
	}}}
	p := newPoller(t, runner, 10*time.Millisecond)
	updates, unsubscribe := p.Subscribe()
	defer unsubscribe()

	p.Start(context.Background())

	var got []bool
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case s := <-updates:
			got = append(got, s)
		case <-timeout:
			t.Fatalf("missing updates, got %v", got)
		}
	}

	// Repeated values are not published.
	require.Equal([]bool{false, true, false}, got)
	require.False(p.Status())
}

func TestPollerRestartKeepsOneTicker(t *testing.T) {
	assert := assert.New(t)

	runner := &fakeRunner{responses: map[string][]response{}}
	p := newPoller(t, runner, 20*time.Millisecond)

	for i := 0; i < 5; i++ {
		p.Start(context.Background())
	}
	start := p.Polls()
	time.Sleep(210 * time.Millisecond)
	p.Stop()
	polls := p.Polls() - start

	// A single ticker gives about ten polls, duplicated ones would give fifty.
	assert.LessOrEqual(polls, 15)
	assert.GreaterOrEqual(polls, 5)
	assert.False(p.Running())

	// Stopped pollers stay quiet.
	after := p.Polls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(after, p.Polls())
	p.Stop()
}

func TestPollerConcurrentStartsKeepOneTicker(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]response{}}
	p := newPoller(t, runner, 20*time.Millisecond)

	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		ready := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ready
				p.Start(context.Background())
			}()
		}
		close(ready)
		wg.Wait()

		time.Sleep(30 * time.Millisecond)
		p.Stop()
		require.False(t, p.Running())

		after := p.Polls()
		time.Sleep(60 * time.Millisecond)
		require.Equal(t, after, p.Polls(), "round %d kept polling after stop", round)
	}
}

func TestPollerSlowQueriesDoNotOverlap(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]response{}, delay: 15 * time.Millisecond}
	p := newPoller(t, runner, 20*time.Millisecond)

	p.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	// Every query finishes before the next starts, so there can't be more
	// queries than ticks.
	assert.LessOrEqual(t, len(runner.commands()), 7)
}

func TestPollerStopsWithContext(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]response{}}
	p := newPoller(t, runner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(30 * time.Millisecond)

	n := len(runner.commands())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(runner.commands()))
}

func TestNewPollerInvalidConfig(t *testing.T) {
	_, err := device.NewPoller(device.PollerConfig{Runner: &fakeRunner{}})
	assert.Error(t, err)

	_, err = device.NewPoller(device.PollerConfig{Query: procrun.Spec{Command: "adb devices"}})
	assert.Error(t, err)
}
