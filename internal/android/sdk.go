// Package android knows where the SDK tools live, how to invoke them and how
// to read the bits of a Gradle project droidpanel needs.
package android

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultBuildToolsVersion is used when none is configured.
const DefaultBuildToolsVersion = "36.0.0"

// SDK locates the Android SDK command line tools.
type SDK struct {
	Home              string
	BuildToolsVersion string
}

// DefaultSDKHome returns the path Android Studio installs the SDK to.
func DefaultSDKHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Android", "sdk")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Android", "Sdk")
		}
		return filepath.Join(home, "AppData", "Local", "Android", "Sdk")
	default:
		return filepath.Join(home, "Android", "Sdk")
	}
}

func (s SDK) buildTools() string {
	v := s.BuildToolsVersion
	if v == "" {
		v = DefaultBuildToolsVersion
	}
	return filepath.Join(s.Home, "build-tools", v)
}

// ADB is the adb binary.
func (s SDK) ADB() string { return filepath.Join(s.Home, "platform-tools", "adb") }

// Emulator is the emulator binary.
func (s SDK) Emulator() string { return filepath.Join(s.Home, "emulator", "emulator") }

// Zipalign is the zipalign binary of the configured build tools.
func (s SDK) Zipalign() string { return filepath.Join(s.buildTools(), "zipalign") }

// Apksigner is the apksigner script of the configured build tools.
func (s SDK) Apksigner() string { return filepath.Join(s.buildTools(), "apksigner") }

// Env is the environment overlay every SDK tool runs with.
func (s SDK) Env() map[string]string {
	if s.Home == "" {
		return nil
	}
	return map[string]string{
		"ANDROID_HOME":     s.Home,
		"ANDROID_SDK_ROOT": s.Home,
	}
}

// Tools lists every tool binary with a display name.
func (s SDK) Tools() map[string]string {
	return map[string]string{
		"adb":       s.ADB(),
		"emulator":  s.Emulator(),
		"zipalign":  s.Zipalign(),
		"apksigner": s.Apksigner(),
	}
}
