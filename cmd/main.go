package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/harshul/droidpanel/internal/log"
	loglogrus "github.com/harshul/droidpanel/internal/log/logrus"
	"github.com/harshul/droidpanel/internal/settings"
)

// Version information (can be set at build time)
var (
	version = "0.1.0"
)

const (
	loggerTypeDefault = "default"
	loggerTypeJSON    = "json"
)

// rootOptions are the global flags.
type rootOptions struct {
	Debug        bool
	LoggerType   string
	SettingsPath string
	DBPath       string
}

var opts rootOptions

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "droidpanel",
	Short: "Build, sign and run Android apps from the terminal",
	Long: `droidpanel is a control panel for Android projects. It compiles,
builds and signs APKs, installs them and drives the emulator, streaming
every tool's output in one place.

Usage:
  droidpanel                 Open the dashboard
  droidpanel init [dir]      Select the Android project to work on
  droidpanel run <action>    Run one action without the dashboard
  droidpanel doctor          Check the SDK and the project`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPanel,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.LoggerType, "logger", loggerTypeDefault, "Logger format (default, json)")
	rootCmd.PersistentFlags().StringVar(&opts.SettingsPath, "settings", settings.DefaultPath(), "Path to the settings file")
	rootCmd.PersistentFlags().StringVar(&opts.DBPath, "db-path", filepath.Join(settings.Dir(), "history.db"), "Path to the task history database")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
}

// exitError ends the process with a specific code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// getLogger returns the application logger writing to out.
func getLogger(out io.Writer) (log.Logger, error) {
	logrusLog := logrus.New()
	logrusLog.Out = out
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if opts.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch opts.LoggerType {
	case loggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{})
	case loggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown logger type %q", opts.LoggerType)
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": version,
	})
	logger.Debugf("Debug level is enabled")

	return logger, nil
}

// openLogFile opens the log of the dashboard, the terminal belongs to the UI.
func openLogFile() (*os.File, error) {
	path := filepath.Join(settings.Dir(), "droidpanel.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", exitErr.err)
			}
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
