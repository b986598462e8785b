package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/procrun"
)

// MDNSEnv switches adb to the openscreen mDNS backend.
const MDNSEnv = "ADB_MDNS_OPENSCREEN"

// OutputRunner runs short lived queries to completion.
type OutputRunner interface {
	Output(ctx context.Context, spec procrun.Spec) (string, procrun.Exit, error)
}

// ADBConfig is the ADB configuration.
type ADBConfig struct {
	Runner OutputRunner
	SDK    android.SDK
	// RestartDelay is waited between kill-server and start-server.
	RestartDelay time.Duration
	// MDNSInitDelay is waited after starting the server with mDNS enabled.
	MDNSInitDelay time.Duration
	// ConnectAttempts bounds `adb connect` retries.
	ConnectAttempts uint
	ConnectDelay    time.Duration
	Logger          log.Logger
}

func (c *ADBConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.RestartDelay == 0 {
		c.RestartDelay = time.Second
	}
	if c.MDNSInitDelay == 0 {
		c.MDNSInitDelay = 2 * time.Second
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 3
	}
	if c.ConnectDelay == 0 {
		c.ConnectDelay = 500 * time.Millisecond
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "device.ADB"})

	return nil
}

// ADB runs adb and emulator queries. These never go through the foreground
// registry.
type ADB struct {
	runner          OutputRunner
	sdk             android.SDK
	restartDelay    time.Duration
	mdnsInitDelay   time.Duration
	connectAttempts uint
	connectDelay    time.Duration
	logger          log.Logger
}

// NewADB returns a new ADB.
func NewADB(cfg ADBConfig) (*ADB, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &ADB{
		runner:          cfg.Runner,
		sdk:             cfg.SDK,
		restartDelay:    cfg.RestartDelay,
		mdnsInitDelay:   cfg.MDNSInitDelay,
		connectAttempts: cfg.ConnectAttempts,
		connectDelay:    cfg.ConnectDelay,
		logger:          cfg.Logger,
	}, nil
}

// DevicesQuery is the command polled for the device list.
func (a *ADB) DevicesQuery() procrun.Spec {
	return procrun.Spec{Label: "adb devices", Command: android.Devices(a.sdk.ADB()), Env: a.sdk.Env()}
}

func (a *ADB) mdnsServices() string { return android.MDNSServices(a.sdk.ADB()) }

func (a *ADB) output(ctx context.Context, label, command string, env map[string]string) (string, error) {
	merged := map[string]string{}
	for k, v := range a.sdk.Env() {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}

	out, exit, err := a.runner.Output(ctx, procrun.Spec{Label: label, Command: command, Env: merged})
	if err != nil {
		return "", err
	}
	if !exit.Success() {
		return out, fmt.Errorf("%s exited with code %d", label, exit.Code)
	}
	return out, nil
}

// ListDevices returns the devices known to adb.
func (a *ADB) ListDevices(ctx context.Context) ([]Device, error) {
	q := a.DevicesQuery()
	out, err := a.output(ctx, q.Label, q.Command, nil)
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

// ListAVDs returns the AVDs that can be launched.
func (a *ADB) ListAVDs(ctx context.Context) ([]string, error) {
	out, err := a.output(ctx, "list AVDs", android.ListAVDs(a.sdk.Emulator()), nil)
	if err != nil {
		return nil, err
	}
	return ParseAVDs(out), nil
}

// ResolveSerial maps a device selection to a serial. Serials are returned as
// they are, AVD names are looked up among the running emulators.
func (a *ADB) ResolveSerial(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no device selected: %w", model.ErrNotValid)
	}
	if IsSerial(name) {
		return name, nil
	}

	devices, err := a.ListDevices(ctx)
	if err != nil {
		return "", err
	}
	serial, ok := SerialForAVD(devices, name)
	if !ok {
		return "", fmt.Errorf("no running emulator for AVD %q: %w", name, model.ErrNotFound)
	}
	return serial, nil
}

// DisconnectOffline disconnects wireless devices adb reports offline and
// returns how many were disconnected.
func (a *ADB) DisconnectOffline(ctx context.Context) (int, error) {
	devices, err := a.ListDevices(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, d := range devices {
		if !d.Wireless() || d.State != StateOffline {
			continue
		}
		if _, err := a.output(ctx, "adb disconnect", android.Disconnect(a.sdk.ADB(), d.Serial), nil); err != nil {
			a.logger.Warningf("Could not disconnect %s: %s", d.Serial, err)
			continue
		}
		n++
	}
	return n, nil
}

// RestartServerWithMDNS restarts the adb server with mDNS discovery enabled
// and waits for it to settle.
func (a *ADB) RestartServerWithMDNS(ctx context.Context) error {
	// kill-server fails when no server runs, that's fine.
	_, _ = a.output(ctx, "adb kill-server", android.KillServer(a.sdk.ADB()), nil)

	if err := sleep(ctx, a.restartDelay); err != nil {
		return err
	}

	if _, err := a.output(ctx, "adb start-server", android.StartServer(a.sdk.ADB()), map[string]string{MDNSEnv: "1"}); err != nil {
		return fmt.Errorf("could not start adb server: %w", err)
	}

	return sleep(ctx, a.mdnsInitDelay)
}

// Connect connects to a wireless device, retrying transient failures.
func (a *ADB) Connect(ctx context.Context, address string) error {
	logger := a.logger.WithValues(log.Kv{"address": address})

	return retry.Do(func() error {
		out, err := a.output(ctx, "adb connect", android.Connect(a.sdk.ADB(), address), nil)
		if err != nil {
			return err
		}
		if !ConnectSucceeded(out) {
			return fmt.Errorf("could not connect to %s: %s", address, strings.TrimSpace(out))
		}
		return nil
	},
		retry.Attempts(a.connectAttempts),
		retry.Delay(a.connectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debugf("Retrying connect (attempt %d): %s", n+1, err)
		}),
		retry.Context(ctx),
	)
}

// ConnectSucceeded parses `adb connect` output.
func ConnectSucceeded(output string) bool {
	return strings.Contains(output, "connected") && !strings.Contains(output, "failed") && !strings.Contains(output, "cannot")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
