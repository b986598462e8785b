// Package tasktimer measures how long the current task has been running.
package tasktimer

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTick is how often the elapsed time is published.
const DefaultTick = 100 * time.Millisecond

// Config is the timer configuration.
type Config struct {
	Tick time.Duration
	// OnTick receives the elapsed time on every tick. It's called from the
	// timer goroutine and must not block.
	OnTick func(time.Duration)
	Now    func() time.Time
}

func (c *Config) defaults() error {
	if c.Tick == 0 {
		c.Tick = DefaultTick
	}
	if c.Tick < 0 {
		return fmt.Errorf("tick must be positive")
	}
	if c.OnTick == nil {
		c.OnTick = func(time.Duration) {}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Timer is a restartable elapsed time ticker.
type Timer struct {
	tick   time.Duration
	onTick func(time.Duration)
	now    func() time.Time

	mu      sync.Mutex
	started time.Time
	running bool
	stop    chan struct{}
}

// New returns a new stopped Timer.
func New(cfg Config) (*Timer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Timer{tick: cfg.Tick, onTick: cfg.OnTick, now: cfg.Now}, nil
}

// Start resets the elapsed time and starts ticking. Starting a running timer
// restarts it.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.started = t.now()
	t.running = true
	t.stop = make(chan struct{})

	go t.loop(t.stop)
}

// Stop stops ticking and resets the elapsed time to zero. It's safe to call
// on a stopped timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if !t.running {
		return
	}
	close(t.stop)
	t.running = false
	t.started = time.Time{}
}

// Running reports whether the timer ticks.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Elapsed returns the time since Start, zero when stopped.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return t.now().Sub(t.started)
}

func (t *Timer) loop(stop chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			// A restart may have happened between the tick and the lock.
			if t.stop != stop || !t.running {
				t.mu.Unlock()
				return
			}
			elapsed := t.now().Sub(t.started)
			t.mu.Unlock()

			t.onTick(elapsed)
		}
	}
}

// Format renders a duration the way the status bar shows it: 4.2s, 1m05s.
func Format(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm%02ds", m, s)
}
