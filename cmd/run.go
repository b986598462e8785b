package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/harshul/droidpanel/internal/controller"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/secrets"
	"github.com/harshul/droidpanel/internal/ui"
)

// Exit codes of the headless actions.
const (
	exitFailed    = 1
	exitCancelled = 130
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one action without the dashboard",
	Long: `The run command starts a single action, prints its output and
exits with the task outcome: 0 on success, 1 on failure and 130 when
interrupted.`,
}

func init() {
	runCmd.AddCommand(
		newActionCmd("compile", "Compile the debug sources", cobra.NoArgs,
			func(ctx context.Context, c *controller.Controller, args []string) error { return c.Compile() }),
		newActionCmd("build-run", "Install and launch the configured build type", cobra.NoArgs,
			func(ctx context.Context, c *controller.Controller, args []string) error { return c.BuildAndRun(ctx) }),
		newAPKCmd(),
		newActionCmd("install", "Install the newest APK", cobra.NoArgs,
			func(ctx context.Context, c *controller.Controller, args []string) error { return c.InstallAPK(ctx) }),
		newActionCmd("auth CODE", "Type an authorization code on the device", cobra.ExactArgs(1),
			func(ctx context.Context, c *controller.Controller, args []string) error {
				return c.Authorize(ctx, args[0])
			}),
		newActionCmd("stop-gradle", "Stop the Gradle daemons of the project", cobra.NoArgs,
			func(ctx context.Context, c *controller.Controller, args []string) error { return c.PrepareGradle() }),
		newActionCmd("emulator", "Start or stop the selected emulator", cobra.NoArgs,
			func(ctx context.Context, c *controller.Controller, args []string) error { return c.ToggleEmulator(ctx) }),
	)
}

type action func(ctx context.Context, c *controller.Controller, args []string) error

func newActionCmd(use, short string, args cobra.PositionalArgs, fn action) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), fn, args)
		},
	}
}

func newAPKCmd() *cobra.Command {
	var skipCompile bool
	cmd := newActionCmd("apk", "Build the configured APK, aligning and signing release builds", cobra.NoArgs,
		func(ctx context.Context, c *controller.Controller, args []string) error {
			return buildAPK(c, skipCompile)
		})
	cmd.Flags().BoolVar(&skipCompile, "skip-compile", false, "Sign the unsigned release APK already on disk")
	return cmd
}

// buildAPK asks for the signing passwords when they are not configured.
func buildAPK(c *controller.Controller, skipCompile bool) error {
	var creds secrets.Credentials
	if c.NeedsCredentials() {
		if !ui.Interactive() {
			return fmt.Errorf("signing passwords are not configured: %w", model.ErrNotValid)
		}
		var err error
		creds, err = ui.AskCredentials()
		if err != nil {
			return err
		}
	}
	defer creds.Zero()

	if skipCompile {
		return c.SignAPK(creds)
	}
	return c.BuildAPK(creds)
}

func runAction(ctx context.Context, fn action, args []string) error {
	logger, err := getLogger(os.Stderr)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	events, unsubscribe := a.ctrl.SubscribeTask()
	defer unsubscribe()

	streamer := ui.NewLogStreamer(a.sink, os.Stdout)
	defer streamer.Close()

	var (
		g       run.Group
		outcome = model.OutcomeNone
	)

	// OS signals cancel the task, the action then ends with its outcome.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()
		stop := make(chan struct{})

		g.Add(
			func() error {
				select {
				case <-signalCtx.Done():
					logger.Debugf("Termination signal received")
					if !a.ctrl.IsTaskRunning() {
						return nil
					}
					a.ctrl.CancelCurrentTask()
					<-stop
				case <-stop:
				}
				return nil
			},
			func(_ error) {
				close(stop)
			},
		)
	}

	// Log output.
	{
		streamCtx, streamCancel := context.WithCancel(ctx)
		defer streamCancel()

		g.Add(
			func() error {
				return streamer.Run(streamCtx)
			},
			func(_ error) {
				streamCancel()
			},
		)
	}

	// Action.
	{
		actionCtx, actionCancel := context.WithCancel(ctx)
		defer actionCancel()

		g.Add(
			func() error {
				err := fn(actionCtx, a.ctrl, args)
				if err != nil && !errors.Is(err, model.ErrSpawn) {
					return err
				}

				for {
					select {
					case ev := <-events:
						if ev.Kind == controller.EventFinished {
							outcome = ev.Task.LastOutcome
							return nil
						}
					case <-actionCtx.Done():
						return nil
					}
				}
			},
			func(_ error) {
				actionCancel()
			},
		)
	}

	err = g.Run()
	if flushErr := streamer.Flush(); flushErr != nil {
		logger.Warningf("Could not print logs: %s", flushErr)
	}
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}

	switch outcome {
	case model.OutcomeSucceeded:
		return nil
	case model.OutcomeCancelled:
		return &exitError{code: exitCancelled}
	default:
		return &exitError{code: exitFailed}
	}
}
