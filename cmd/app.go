package main

import (
	"context"
	"fmt"

	"github.com/harshul/droidpanel/internal/controller"
	"github.com/harshul/droidpanel/internal/device"
	"github.com/harshul/droidpanel/internal/executor"
	"github.com/harshul/droidpanel/internal/history/sqlite"
	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/logsink"
	"github.com/harshul/droidpanel/internal/procrun"
	"github.com/harshul/droidpanel/internal/registry"
	"github.com/harshul/droidpanel/internal/settings"
	"github.com/harshul/droidpanel/internal/thermal"
)

// app holds the wired components shared by the commands.
type app struct {
	settings settings.Settings
	logger   log.Logger
	runner   *procrun.Runner
	registry *registry.Registry
	sink     *logsink.Sink
	adb      *device.ADB
	history  *sqlite.Repository
	ctrl     *controller.Controller
}

// loadSettings reads the settings file and the environment overrides.
func loadSettings(ctx context.Context) (settings.Settings, error) {
	s, err := settings.Load(opts.SettingsPath)
	if err != nil {
		return settings.Settings{}, err
	}
	s, err = settings.ApplyEnv(ctx, s, nil)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("invalid environment: %w", err)
	}
	return s, nil
}

// newApp wires the process runner, the foreground registry, the log sink,
// the executor and the controller.
func newApp(ctx context.Context, logger log.Logger) (*app, error) {
	s, err := loadSettings(ctx)
	if err != nil {
		return nil, err
	}

	runner, err := procrun.NewRunner(procrun.RunnerConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create runner: %w", err)
	}

	reg, err := registry.New(registry.Config{Grace: s.Timing.KillGrace, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create registry: %w", err)
	}

	sink, err := logsink.New(logsink.Config{UpperWatermark: s.Log.TrimThreshold, LowerWatermark: s.Log.MaxLines})
	if err != nil {
		return nil, fmt.Errorf("could not create log sink: %w", err)
	}

	exec, err := executor.New(executor.Config{Spawner: runner, Foreground: reg, Sink: sink, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create executor: %w", err)
	}

	adb, err := device.NewADB(device.ADBConfig{Runner: runner, SDK: s.SDK(), Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create adb: %w", err)
	}

	poller, err := device.NewPoller(device.PollerConfig{
		Runner:   runner,
		Query:    adb.DevicesQuery(),
		Interval: s.Timing.PollInterval,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create device poller: %w", err)
	}

	hist, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: opts.DBPath, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not open history: %w", err)
	}

	hw := thermal.DetectHardware(ctx)
	logger.Debugf("Hardware: %s", thermal.FormatHardwareInfo(hw))

	ctrl, err := controller.New(controller.Config{
		Executor:      exec,
		Killer:        reg,
		Logs:          sink,
		Devices:       poller,
		History:       hist,
		GradleWorkers: thermal.NewSizer(hw).Workers,
		TimerTick:     s.Timing.TimerTick,
		Logger:        logger,
	})
	if err != nil {
		hist.Close()
		return nil, fmt.Errorf("could not create controller: %w", err)
	}
	ctrl.SetSettings(s)
	ctrl.SetDeviceResolver(adb)

	return &app{
		settings: s,
		logger:   logger,
		runner:   runner,
		registry: reg,
		sink:     sink,
		adb:      adb,
		history:  hist,
		ctrl:     ctrl,
	}, nil
}

// Close stops the running task and releases the history database.
func (a *app) Close() {
	a.ctrl.Shutdown()
	if err := a.history.Close(); err != nil {
		a.logger.Warningf("Could not close history: %s", err)
	}
}
