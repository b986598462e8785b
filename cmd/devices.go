package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harshul/droidpanel/internal/device"
	"github.com/harshul/droidpanel/internal/procrun"
	"github.com/harshul/droidpanel/internal/settings"
	"github.com/harshul/droidpanel/internal/ui"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the connected devices and the emulators",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

var devicesSelectCmd = &cobra.Command{
	Use:   "select [SERIAL|AVD]",
	Short: "Select the device the actions target",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDevicesSelect,
}

var devicesWirelessCmd = &cobra.Command{
	Use:   "wireless",
	Short: "Discover and connect a device paired for wireless debugging",
	Args:  cobra.NoArgs,
	RunE:  runDevicesWireless,
}

func init() {
	devicesWirelessCmd.Flags().Bool("no-restart", false, "Don't restart the adb server before discovering")
	devicesCmd.AddCommand(devicesSelectCmd, devicesWirelessCmd)
}

func newADB(ctx context.Context) (*device.ADB, settings.Settings, error) {
	logger, err := getLogger(os.Stderr)
	if err != nil {
		return nil, settings.Settings{}, err
	}
	s, err := loadSettings(ctx)
	if err != nil {
		return nil, settings.Settings{}, err
	}
	runner, err := procrun.NewRunner(procrun.RunnerConfig{Logger: logger})
	if err != nil {
		return nil, settings.Settings{}, err
	}
	adb, err := device.NewADB(device.ADBConfig{Runner: runner, SDK: s.SDK(), Logger: logger})
	if err != nil {
		return nil, settings.Settings{}, err
	}
	return adb, s, nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	adb, s, err := newADB(ctx)
	if err != nil {
		return err
	}

	devices, err := adb.ListDevices(ctx)
	if err != nil {
		return err
	}
	avds, err := adb.ListAVDs(ctx)
	if err != nil {
		ui.PrintWarning("Could not list AVDs: " + err.Error())
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tSERIAL\tSTATE\tMODEL\tAVD")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker(s.Device, d.Serial, d.AVD), d.Serial, d.State, d.Model, d.AVD)
	}
	for _, avd := range avds {
		if _, running := device.SerialForAVD(devices, avd); running {
			continue
		}
		fmt.Fprintf(w, "%s\t-\tstopped\t\t%s\n", marker(s.Device, "", avd), avd)
	}
	return w.Flush()
}

func marker(selected, serial, avd string) string {
	if selected != "" && (selected == serial || selected == avd) {
		return "*"
	}
	return ""
}

func runDevicesSelect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var target string
	if len(args) > 0 {
		target = args[0]
	} else {
		adb, _, err := newADB(ctx)
		if err != nil {
			return err
		}
		target, err = pickDevice(ctx, adb)
		if err != nil {
			return err
		}
	}

	if err := saveDevice(target); err != nil {
		return err
	}
	ui.PrintSuccess("Actions now target " + target)
	return nil
}

func pickDevice(ctx context.Context, adb *device.ADB) (string, error) {
	if !ui.Interactive() {
		return "", fmt.Errorf("pass the serial or the AVD name to select")
	}

	devices, err := adb.ListDevices(ctx)
	if err != nil {
		return "", err
	}
	avds, _ := adb.ListAVDs(ctx)

	var options []ui.SelectOption
	for _, d := range devices {
		if !d.Online() {
			continue
		}
		options = append(options, ui.SelectOption{Label: d.Serial, Value: d.Serial, Description: d.Model})
	}
	for _, avd := range avds {
		options = append(options, ui.SelectOption{Label: avd, Value: avd, Description: "emulator"})
	}

	selected, err := ui.Select("Which device should the actions target?", options)
	if err != nil {
		return "", err
	}
	return selected.Value, nil
}

func saveDevice(target string) error {
	s, err := settings.Load(opts.SettingsPath)
	if err != nil {
		return err
	}
	if err := s.Set("device", target); err != nil {
		return err
	}
	return settings.Save(opts.SettingsPath, s)
}

func runDevicesWireless(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	noRestart, _ := cmd.Flags().GetBool("no-restart")

	adb, _, err := newADB(ctx)
	if err != nil {
		return err
	}

	if n, err := adb.DisconnectOffline(ctx); err != nil {
		ui.PrintWarning("Could not disconnect offline devices: " + err.Error())
	} else if n > 0 {
		ui.PrintSuccess(fmt.Sprintf("Disconnected %d offline device(s)", n))
	}

	if !noRestart {
		fmt.Println("🔄 Restarting adb with mDNS discovery...")
		if err := adb.RestartServerWithMDNS(ctx); err != nil {
			return err
		}
	}

	var discoverer device.Discoverer = device.MDNSDiscoverer{ADB: adb}
	addresses, err := discoverer.Discover(ctx)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("no wireless device found, pair it from the developer options first")
	}

	address := addresses[0]
	if len(addresses) > 1 && ui.Interactive() {
		options := make([]ui.SelectOption, 0, len(addresses))
		for _, a := range addresses {
			options = append(options, ui.SelectOption{Label: a, Value: a})
		}
		selected, err := ui.Select("Which device do you want to connect?", options)
		if err != nil {
			return err
		}
		address = selected.Value
	}

	if err := adb.Connect(ctx, address); err != nil {
		return err
	}
	ui.PrintSuccess("Connected to " + address)

	if err := saveDevice(address); err != nil {
		return fmt.Errorf("could not select %s: %w", address, err)
	}
	return nil
}
