// Package device talks to adb and the emulator: device listing, emulator boot
// polling and wireless discovery.
package device

import (
	"regexp"
	"strings"
)

const (
	StateDevice       = "device"
	StateOffline      = "offline"
	StateUnauthorized = "unauthorized"
)

// Device is a line of `adb devices -l`.
type Device struct {
	Serial string
	State  string
	Model  string
	// AVD is only known for emulators on recent adb versions.
	AVD string
	// Attrs are the remaining key:value pairs.
	Attrs map[string]string
}

// Emulator reports whether the device is a local emulator.
func (d Device) Emulator() bool { return strings.HasPrefix(d.Serial, "emulator-") }

// Wireless reports whether the device is connected over TCP.
func (d Device) Wireless() bool { return strings.Contains(d.Serial, ":") }

// Online reports whether the device accepts commands.
func (d Device) Online() bool { return d.State == StateDevice }

// ParseDevices parses `adb devices` or `adb devices -l` output. Header,
// daemon notices and blank lines are ignored.
func ParseDevices(output string) []Device {
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		d := Device{Serial: fields[0], State: fields[1], Attrs: map[string]string{}}
		for _, f := range fields[2:] {
			k, v, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch k {
			case "model":
				d.Model = v
			case "avd":
				d.AVD = v
			default:
				d.Attrs[k] = v
			}
		}
		devices = append(devices, d)
	}

	return devices
}

// EmulatorBooted reports whether the output lists an emulator that is online.
func EmulatorBooted(output string) bool {
	for _, d := range ParseDevices(output) {
		if d.Emulator() && d.Online() {
			return true
		}
	}
	return false
}

var hardwareSerial = regexp.MustCompile(`^[A-Z0-9]+$`)

// IsSerial reports whether name already looks like a device serial rather than
// an AVD name.
func IsSerial(name string) bool {
	return strings.HasPrefix(name, "emulator-") || strings.Contains(name, ":") || hardwareSerial.MatchString(name)
}

// SerialForAVD finds the serial of the running emulator of the AVD.
func SerialForAVD(devices []Device, avd string) (string, bool) {
	for _, d := range devices {
		if d.AVD == avd {
			return d.Serial, true
		}
	}
	return "", false
}

// ParseAVDs parses `emulator -list-avds` output.
func ParseAVDs(output string) []string {
	var avds []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		// The emulator prints INFO/WARNING lines on some hosts.
		if line == "" || strings.Contains(line, " ") || strings.HasPrefix(line, "INFO") {
			continue
		}
		avds = append(avds, line)
	}
	return avds
}
