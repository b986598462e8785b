//go:build unix

package controller_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/controller"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/secrets"
	"github.com/harshul/droidpanel/internal/settings"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

const fakeGradlew = `echo "gradle $*"
case "$1" in
  assembleRelease)
    mkdir -p app/build/outputs/apk/release
    echo unsigned > app/build/outputs/apk/release/app-release-unsigned.apk
    ;;
  assembleDebug)
    mkdir -p app/build/outputs/apk/debug
    echo debug > app/build/outputs/apk/debug/app-debug.apk
    ;;
esac
`

// zipalign -v -p 4 IN OUT
const fakeZipalign = `cp "$4" "$5"
echo "Verification succesful"
`

// apksigner sign ... --out OUT IN, passwords only through the environment.
const fakeApksigner = `if [ "$1" = "verify" ]; then echo "verified"; exit 0; fi
[ "$DROIDPANEL_KS_PASS" = "store-secret" ] || { echo "bad store password" >&2; exit 1; }
[ "$DROIDPANEL_KEY_PASS" = "key-secret" ] || { echo "bad key password" >&2; exit 1; }
out=""
while [ $# -gt 1 ]; do
  if [ "$1" = "--out" ]; then out="$2"; fi
  shift
done
cp "$1" "$out"
echo signed
`

type project struct {
	dir string
	sdk string
}

func newProject(t *testing.T) project {
	t.Helper()

	dir := t.TempDir()
	sdk := t.TempDir()

	writeScript(t, filepath.Join(dir, "gradlew"), fakeGradlew)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "app", "src", "main"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "build.gradle.kts"), []byte(`android { namespace = "com.example.app" }`), 0o644))

	writeScript(t, filepath.Join(sdk, "build-tools", android.DefaultBuildToolsVersion, "zipalign"), fakeZipalign)
	writeScript(t, filepath.Join(sdk, "build-tools", android.DefaultBuildToolsVersion, "apksigner"), fakeApksigner)
	writeScript(t, filepath.Join(sdk, "platform-tools", "adb"), `echo "adb $*"`)

	return project{dir: dir, sdk: sdk}
}

func (p project) settings(buildType string) settings.Settings {
	s := settings.Default()
	s.ProjectPath = p.dir
	s.SDKHome = p.sdk
	s.BuildType = buildType
	s.Signing.Keystore = "/keys/release.jks"
	s.Signing.KeyAlias = "upload"
	return s
}

func TestActionsWithoutProject(t *testing.T) {
	env := newTestEnv(t)

	assert.ErrorIs(t, env.ctrl.Compile(), model.ErrNotValid)
	assert.ErrorIs(t, env.ctrl.BuildAndRun(context.Background()), model.ErrNotValid)
	assert.ErrorIs(t, env.ctrl.InstallAPK(context.Background()), model.ErrNotValid)
	assert.ErrorIs(t, env.ctrl.Authorize(context.Background(), ""), model.ErrNotValid)
	assert.False(t, env.ctrl.IsTaskRunning())
}

func TestCompile(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	p := newProject(t)
	env.ctrl.SetSettings(p.settings(android.BuildTypeDebug))

	require.NoError(t, env.ctrl.Compile())
	ev := waitFinished(t, env)

	assert.Equal(model.OutcomeSucceeded, ev.Task.LastOutcome)
	logs := strings.Join(logTexts(env.sink), "\n")
	assert.Contains(logs, "gradle --stop")
	assert.Contains(logs, "gradle compileDebugSources")
}

func TestCompileCapsGradleWorkers(t *testing.T) {
	assert := assert.New(t)

	var configured []int
	env := newTestEnvWith(t, func(cfg *controller.Config) {
		cfg.GradleWorkers = func(n int) int {
			configured = append(configured, n)
			return 3
		}
	})
	p := newProject(t)
	s := p.settings(android.BuildTypeDebug)
	s.Gradle.MaxWorkers = 5
	env.ctrl.SetSettings(s)

	require.NoError(t, env.ctrl.Compile())
	ev := waitFinished(t, env)

	assert.Equal(model.OutcomeSucceeded, ev.Task.LastOutcome)
	assert.Equal([]int{5}, configured)
	logs := strings.Join(logTexts(env.sink), "\n")
	assert.Contains(logs, "gradle --max-workers=3 compileDebugSources")
	assert.Contains(logs, "gradle --stop")
	assert.NotContains(logs, "--max-workers=3 --stop")
}

func TestCompileWithoutWrapperFails(t *testing.T) {
	env := newTestEnv(t)
	p := newProject(t)
	require.NoError(t, os.Remove(filepath.Join(p.dir, "gradlew")))
	env.ctrl.SetSettings(p.settings(android.BuildTypeDebug))

	require.NoError(t, env.ctrl.Compile())
	ev := waitFinished(t, env)

	assert.Equal(t, model.OutcomeFailed, ev.Task.LastOutcome)
	assert.Equal(t, "Compile", ev.Task.FailedStep)
}

func TestBuildAPKDebugThenInstall(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	p := newProject(t)
	env.ctrl.SetSettings(p.settings(android.BuildTypeDebug))

	assert.False(env.ctrl.NeedsCredentials())
	require.NoError(t, env.ctrl.BuildAPK(secrets.Credentials{}))
	ev := waitFinished(t, env)
	require.Equal(t, model.OutcomeSucceeded, ev.Task.LastOutcome)

	require.NoError(t, env.ctrl.InstallAPK(context.Background()))
	ev = waitFinished(t, env)
	assert.Equal(model.OutcomeSucceeded, ev.Task.LastOutcome)
	assert.Contains(strings.Join(logTexts(env.sink), "\n"), "adb install -r "+filepath.Join(p.dir, "app", "build", "outputs", "apk", "debug", "app-debug.apk"))
}

func TestInstallAPKWithoutBuild(t *testing.T) {
	env := newTestEnv(t)
	p := newProject(t)
	env.ctrl.SetSettings(p.settings(android.BuildTypeDebug))

	assert.ErrorIs(t, env.ctrl.InstallAPK(context.Background()), model.ErrNotFound)
	assert.False(t, env.ctrl.IsTaskRunning())
}

func TestBuildAPKRelease(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	p := newProject(t)
	env.ctrl.SetSettings(p.settings(android.BuildTypeRelease))

	assert.True(env.ctrl.NeedsCredentials())
	require.NoError(t, env.ctrl.BuildAPK(secrets.Credentials{StorePassword: "store-secret", KeyPassword: "key-secret"}))
	ev := waitFinished(t, env)
	require.Equal(t, model.OutcomeSucceeded, ev.Task.LastOutcome, strings.Join(logTexts(env.sink), "\n"))

	paths := android.NewReleasePaths(p.dir, "app")
	_, err := os.Stat(paths.Final)
	assert.NoError(err)
	for _, gone := range []string{paths.Unsigned, paths.Aligned} {
		_, err := os.Stat(gone)
		assert.True(os.IsNotExist(err), gone)
	}

	logs := strings.Join(logTexts(env.sink), "\n")
	assert.NotContains(logs, "store-secret")
	assert.NotContains(logs, "key-secret")
	assert.Equal(model.StateSucceeded, env.ctrl.PipelineState())
}

func TestBuildAPKReleaseWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	p := newProject(t)
	env.ctrl.SetSettings(p.settings(android.BuildTypeRelease))

	require.NoError(t, env.ctrl.BuildAPK(secrets.Credentials{StorePassword: "nope", KeyPassword: "key-secret"}))
	ev := waitFinished(t, env)

	assert.Equal(t, model.OutcomeFailed, ev.Task.LastOutcome)
	assert.Equal(t, "Sign APK", ev.Task.FailedStep)

	// Intermediates are kept for inspection when the pipeline fails.
	_, err := os.Stat(android.NewReleasePaths(p.dir, "app").Unsigned)
	assert.NoError(t, err)
}

func TestBuildAPKReleaseMissingCredentials(t *testing.T) {
	env := newTestEnv(t)
	p := newProject(t)
	env.ctrl.SetSettings(p.settings(android.BuildTypeRelease))

	err := env.ctrl.BuildAPK(secrets.Credentials{})
	assert.ErrorIs(t, err, model.ErrNotValid)
	assert.False(t, env.ctrl.IsTaskRunning())
}

func TestSignAPK(t *testing.T) {
	tests := map[string]struct {
		buildType  string
		compiled   bool
		expErr     error
		expOutcome model.Outcome
		expFailed  string
	}{
		"Signing an APK already on disk should not compile again.": {
			buildType:  android.BuildTypeRelease,
			compiled:   true,
			expOutcome: model.OutcomeSucceeded,
		},
		"Signing without an unsigned APK should fail on the alignment step.": {
			buildType:  android.BuildTypeRelease,
			expOutcome: model.OutcomeFailed,
			expFailed:  "Align APK",
		},
		"Signing a debug build should be rejected.": {
			buildType: android.BuildTypeDebug,
			expErr:    model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			env := newTestEnv(t)
			p := newProject(t)
			env.ctrl.SetSettings(p.settings(test.buildType))

			paths := android.NewReleasePaths(p.dir, "app")
			if test.compiled {
				require.NoError(t, os.MkdirAll(filepath.Dir(paths.Unsigned), 0o755))
				require.NoError(t, os.WriteFile(paths.Unsigned, []byte("unsigned"), 0o644))
			}

			err := env.ctrl.SignAPK(secrets.Credentials{StorePassword: "store-secret", KeyPassword: "key-secret"})
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				assert.False(env.ctrl.IsTaskRunning())
				return
			}
			require.NoError(t, err)

			ev := waitFinished(t, env)
			logs := strings.Join(logTexts(env.sink), "\n")
			require.Equal(t, test.expOutcome, ev.Task.LastOutcome, logs)
			assert.Equal(test.expFailed, ev.Task.FailedStep)
			assert.NotContains(logs, "gradle assembleRelease")
		})
	}
}

func TestSigningConfigPrecedence(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t)
	p := newProject(t)

	props := "storeFile=keys/upload.jks\nkeyAlias=props-alias\nstorePassword=props-store\nkeyPassword=props-key\n"
	require.NoError(os.WriteFile(filepath.Join(p.dir, "keystore.properties"), []byte(props), 0o600))

	s := p.settings(android.BuildTypeRelease)
	s.Signing.Keystore = ""
	s.Signing.KeyPassword = "settings-key"
	env.ctrl.SetSettings(s)

	cfg, err := env.ctrl.SigningConfig(secrets.Credentials{StorePassword: "explicit-store"})
	require.NoError(err)
	assert.Equal(filepath.Join(p.dir, "keys", "upload.jks"), cfg.Keystore)
	assert.Equal("upload", cfg.KeyAlias)
	assert.Equal("explicit-store", cfg.Credentials.StorePassword)
	assert.Equal("settings-key", cfg.Credentials.KeyPassword)
	assert.False(env.ctrl.NeedsCredentials())
}

type fakeResolver struct {
	avds []string
}

func (f fakeResolver) ResolveSerial(_ context.Context, name string) (string, error) {
	if name == "Pixel" {
		return "emulator-5554", nil
	}
	return "", model.ErrNotFound
}

func (f fakeResolver) ListAVDs(context.Context) ([]string, error) { return f.avds, nil }

func TestAuthorizeTargetsSelectedDevice(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	p := newProject(t)
	s := p.settings(android.BuildTypeDebug)
	s.Device = "Pixel"
	env.ctrl.SetSettings(s)
	env.ctrl.SetDeviceResolver(fakeResolver{})

	writeScript(t, filepath.Join(p.sdk, "platform-tools", "adb"), `echo "adb $* on $ANDROID_SERIAL"`)

	require.NoError(t, env.ctrl.Authorize(context.Background(), "123456"))
	ev := waitFinished(t, env)

	assert.Equal(model.OutcomeSucceeded, ev.Task.LastOutcome)
	assert.Contains(logTexts(env.sink), "adb shell input text 123456 on emulator-5554")

	s.Device = "Unknown"
	env.ctrl.SetSettings(s)
	assert.ErrorIs(env.ctrl.Authorize(context.Background(), "1"), model.ErrNotFound)
}

func TestToggleEmulatorPicksAVD(t *testing.T) {
	env := newTestEnv(t)
	p := newProject(t)
	s := p.settings(android.BuildTypeDebug)
	env.ctrl.SetSettings(s)
	env.ctrl.SetDeviceResolver(fakeResolver{})

	assert.ErrorIs(t, env.ctrl.ToggleEmulator(context.Background()), model.ErrNotFound)

	writeScript(t, filepath.Join(p.sdk, "emulator", "emulator"), `exit 0`)
	env.ctrl.SetDeviceResolver(fakeResolver{avds: []string{"Pixel"}})
	require.NoError(t, env.ctrl.ToggleEmulator(context.Background()))
	ev := waitFinished(t, env)

	assert.Equal(t, "Start emulator Pixel", ev.Task.Label)
	assert.Equal(t, model.OutcomeSucceeded, ev.Task.LastOutcome)
}
