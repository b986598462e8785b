package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/procrun"
)

// DefaultPollInterval is how often the emulator state is checked.
const DefaultPollInterval = time.Second

// PollerConfig is the poller configuration.
type PollerConfig struct {
	Runner   OutputRunner
	Query    procrun.Spec
	Parse    func(output string) bool
	Interval time.Duration
	Logger   log.Logger
}

func (c *PollerConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Query.Command == "" {
		return fmt.Errorf("query command is required")
	}
	if c.Query.Label == "" {
		c.Query.Label = "device poll"
	}
	if c.Parse == nil {
		c.Parse = EmulatorBooted
	}
	if c.Interval == 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must be positive")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "device.Poller"})

	return nil
}

// Poller periodically runs a query and publishes the parsed status when it
// changes. Queries never overlap: a tick that fires while the previous query
// still runs is dropped.
type Poller struct {
	runner   OutputRunner
	query    procrun.Spec
	parse    func(string) bool
	interval time.Duration
	logger   log.Logger

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu          sync.Mutex
	cancel      context.CancelFunc
	stopped     chan struct{}
	status      bool
	known       bool
	polls       int
	subscribers map[chan bool]struct{}
}

// NewPoller returns a new Poller, stopped.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Poller{
		runner:      cfg.Runner,
		query:       cfg.Query,
		parse:       cfg.Parse,
		interval:    cfg.Interval,
		logger:      cfg.Logger,
		subscribers: map[chan bool]struct{}{},
	}, nil
}

// Start begins polling until ctx is done or Stop is called. A poller that is
// already running is stopped first, so there is only ever one ticker.
func (p *Poller) Start(ctx context.Context) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.stop()

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.stopped = stopped
	p.mu.Unlock()

	go func() {
		defer close(stopped)
		p.loop(ctx)
	}()
}

// Stop stops polling and waits for the in flight query. It's safe to call on
// a stopped poller.
func (p *Poller) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.stop()
}

func (p *Poller) stop() {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel, p.stopped = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Status returns the last published status.
func (p *Poller) Status() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Polls returns how many queries ran.
func (p *Poller) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// Subscribe returns a channel receiving status changes. Only the latest value
// is kept for slow readers.
func (p *Poller) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, ch)
			p.mu.Unlock()
		})
	}
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	out, _, err := p.runner.Output(ctx, p.query)
	// Stopped or timed out, the result says nothing about the device.
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.logger.Debugf("Poll failed: %s", err)
	}
	p.publish(err == nil && p.parse(out))
}

func (p *Poller) publish(status bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.polls++
	if p.known && p.status == status {
		return
	}
	p.known = true
	p.status = status

	for ch := range p.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- status
	}
}
