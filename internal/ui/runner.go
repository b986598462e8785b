package ui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harshul/droidpanel/internal/log"
)

// DashboardConfig holds configuration for the dashboard
type DashboardConfig struct {
	Panel Panel
	// Tick refreshes the task timer.
	Tick time.Duration
	// Options are extra program options, tests use them to drop the
	// terminal.
	Options []tea.ProgramOption
	Logger  log.Logger
}

func (c *DashboardConfig) defaults() error {
	if c.Panel == nil {
		return fmt.Errorf("panel is required")
	}
	if c.Options == nil {
		c.Options = []tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "ui.DashboardRunner"})

	return nil
}

// DashboardRunner manages the TUI dashboard lifecycle
type DashboardRunner struct {
	cfg    DashboardConfig
	logger log.Logger

	mu      sync.Mutex
	program *tea.Program
	stopped bool
}

// NewDashboardRunner creates a new dashboard runner
func NewDashboardRunner(cfg DashboardConfig) (*DashboardRunner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &DashboardRunner{cfg: cfg, logger: cfg.Logger}, nil
}

// Run shows the dashboard until the user quits, Stop is called or ctx is
// done.
func (dr *DashboardRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dashboard := NewDashboard(ctx, dr.cfg.Panel, dr.cfg.Tick)
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, dr.cfg.Options...)
	program := tea.NewProgram(dashboard, opts...)

	dr.mu.Lock()
	if dr.stopped {
		dr.mu.Unlock()
		return nil
	}
	dr.program = program
	dr.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dashboard.Forward(ctx)
	}()

	dr.logger.Infof("Dashboard started")
	_, err := program.Run()
	cancel()
	wg.Wait()
	dr.logger.Infof("Dashboard stopped")

	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop quits the dashboard. It is safe to call before Run and more than once.
func (dr *DashboardRunner) Stop() {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	dr.stopped = true
	if dr.program != nil {
		dr.program.Quit()
	}
}
