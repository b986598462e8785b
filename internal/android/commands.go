package android

import (
	"fmt"
	"strings"

	"github.com/harshul/droidpanel/internal/secrets"
)

// Build types.
const (
	BuildTypeDebug   = "debug"
	BuildTypeRelease = "release"
)

// Quote makes s a single shell word.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:=@%+,", r):
		return false
	}
	return true
}

// Gradle runs wrapper tasks, it must run in the project directory.
func Gradle(tasks ...string) string {
	return "./gradlew " + strings.Join(tasks, " ")
}

// GradleStop stops running Gradle daemons.
func GradleStop() string { return Gradle("--stop") }

// CompileDebug compiles the debug sources without packaging.
func CompileDebug() string { return Gradle("compileDebugSources") }

// Assemble builds the APK for a build type.
func Assemble(buildType string) string { return Gradle("assemble" + capitalize(buildType)) }

// InstallVariant installs the build type through Gradle.
func InstallVariant(buildType string) string { return Gradle("install" + capitalize(buildType)) }

// Component returns the `pkg/activity` name accepted by `am start -n`.
func Component(pkg, activity string) string {
	// Relative (".Main") and fully qualified names are used as is.
	if strings.Contains(activity, ".") {
		return pkg + "/" + activity
	}
	return pkg + "/." + activity
}

// StartActivity launches an activity on the device.
func StartActivity(adb, pkg, activity string) string {
	return fmt.Sprintf("%s shell am start -n %s", Quote(adb), Quote(Component(pkg, activity)))
}

// BuildAndRun installs the build type and launches the app once installed.
func BuildAndRun(adb, buildType, pkg, activity string) string {
	return InstallVariant(buildType) + " && sleep 2 && " + StartActivity(adb, pkg, activity)
}

// InstallAPK installs (replacing) an APK file.
func InstallAPK(adb, apk string) string {
	return fmt.Sprintf("%s install -r %s", Quote(adb), Quote(apk))
}

// InputText types text on the device, used for pairing and auth codes.
func InputText(adb, text string) string {
	return fmt.Sprintf("%s shell input text %s", Quote(adb), Quote(text))
}

// Devices lists attached devices with their details.
func Devices(adb string) string { return Quote(adb) + " devices -l" }

// ListAVDs lists the configured virtual devices.
func ListAVDs(emulator string) string { return Quote(emulator) + " -list-avds" }

// LaunchEmulator starts an AVD detached from the shell, its output is discarded
// so the launching task finishes right away.
func LaunchEmulator(emulator, avd string) string {
	return fmt.Sprintf("nohup %s -avd %s >/dev/null 2>&1 &", Quote(emulator), Quote(avd))
}

// KillEmulators stops every running emulator.
func KillEmulators() string { return "pkill -f 'emulator.*-avd'" }

// KillServer stops the adb server.
func KillServer(adb string) string { return Quote(adb) + " kill-server" }

// StartServer starts the adb server.
func StartServer(adb string) string { return Quote(adb) + " start-server" }

// MDNSServices lists services discovered over mDNS.
func MDNSServices(adb string) string { return Quote(adb) + " mdns services" }

// Connect connects to a device over the network.
func Connect(adb, address string) string { return Quote(adb) + " connect " + Quote(address) }

// Disconnect drops a network device.
func Disconnect(adb, address string) string { return Quote(adb) + " disconnect " + Quote(address) }

// Zipalign aligns an APK on 4 byte boundaries.
func Zipalign(zipalign, in, out string) string {
	return fmt.Sprintf("%s -v -p 4 %s %s", Quote(zipalign), Quote(in), Quote(out))
}

// SignAPK signs an APK. Passwords are read by apksigner from the environment
// variables in secrets.Credentials.Env, never from the command line.
func SignAPK(apksigner, keystore, alias, in, out string) string {
	return fmt.Sprintf("%s sign --ks %s --ks-key-alias %s --ks-pass env:%s --key-pass env:%s --out %s %s",
		Quote(apksigner), Quote(keystore), Quote(alias),
		secrets.StorePasswordEnv, secrets.KeyPasswordEnv,
		Quote(out), Quote(in))
}

// VerifyAPK verifies an APK signature.
func VerifyAPK(apksigner, apk string) string {
	return fmt.Sprintf("%s verify %s", Quote(apksigner), Quote(apk))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
