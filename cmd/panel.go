package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/harshul/droidpanel/internal/ui"
)

// runPanel opens the dashboard.
func runPanel(cmd *cobra.Command, args []string) error {
	if !ui.Interactive() {
		return fmt.Errorf("the dashboard needs a terminal, use 'droidpanel run' instead")
	}

	logFile, err := openLogFile()
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger, err := getLogger(logFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	dashboard, err := ui.NewDashboardRunner(ui.DashboardConfig{
		Panel:  a.ctrl,
		Tick:   a.settings.Timing.TimerTick,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Emulator status.
	{
		pollCtx, pollCancel := context.WithCancel(ctx)
		defer pollCancel()

		g.Add(
			func() error {
				a.ctrl.StartDevicePolling(pollCtx)
				<-pollCtx.Done()
				return nil
			},
			func(_ error) {
				pollCancel()
			},
		)
	}

	// Dashboard.
	{
		uiCtx, uiCancel := context.WithCancel(ctx)
		defer uiCancel()

		g.Add(
			func() error {
				return dashboard.Run(uiCtx)
			},
			func(_ error) {
				dashboard.Stop()
				uiCancel()
			},
		)
	}

	return g.Run()
}
