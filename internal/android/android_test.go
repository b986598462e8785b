package android_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParsePackageName(t *testing.T) {
	tests := map[string]struct {
		script string
		expPkg string
		expOK  bool
	}{
		"Kotlin DSL applicationId should be found.": {
			script: `android {
    namespace = "com.example.lib"
    defaultConfig {
        applicationId = "com.example.app"
    }
}`,
			expPkg: "com.example.app",
			expOK:  true,
		},
		"Groovy namespace should be used without applicationId.": {
			script: "android {\n  namespace 'com.example.groovy'\n}",
			expPkg: "com.example.groovy",
			expOK:  true,
		},
		"A script without package should not match.": {
			script: "plugins { id 'com.android.library' }",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			pkg, ok := android.ParsePackageName(test.script)
			assert.Equal(t, test.expOK, ok)
			assert.Equal(t, test.expPkg, pkg)
		})
	}
}

func TestParseMainActivity(t *testing.T) {
	tests := map[string]struct {
		manifest    string
		expActivity string
		expOK       bool
	}{
		"The launcher activity should win.": {
			manifest: `<manifest xmlns:android="http://schemas.android.com/apk/res/android">
  <application>
    <activity android:name=".SettingsActivity" />
    <activity android:name=".ui.HomeActivity" android:exported="true">
      <intent-filter>
        <action android:name="android.intent.action.MAIN" />
        <category android:name="android.intent.category.LAUNCHER" />
      </intent-filter>
    </activity>
  </application>
</manifest>`,
			expActivity: ".ui.HomeActivity",
			expOK:       true,
		},
		"Without launcher a MainActivity should be used.": {
			manifest: `<manifest xmlns:android="http://schemas.android.com/apk/res/android">
  <application><activity android:name="com.example.MainActivity" /></application>
</manifest>`,
			expActivity: "com.example.MainActivity",
			expOK:       true,
		},
		"A manifest without activities should not match.": {
			manifest: `<manifest xmlns:android="http://schemas.android.com/apk/res/android"><application/></manifest>`,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			activity, ok := android.ParseMainActivity(test.manifest)
			assert.Equal(t, test.expOK, ok)
			assert.Equal(t, test.expActivity, activity)
		})
	}
}

func TestAnalyzeProject(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "gradlew"), "#!/bin/sh\n")
	writeFile(t, filepath.Join(dir, "app", "build.gradle.kts"), `android { namespace = "com.example.app" }`)
	writeFile(t, filepath.Join(dir, "core", "build.gradle"), "")
	writeFile(t, filepath.Join(dir, "docs", "README.md"), "")

	p, err := android.Analyze(dir)
	require.NoError(err)
	assert.True(p.HasWrapper)
	assert.Equal([]string{"app", "core"}, p.Modules)

	pkg, err := android.PackageName(dir, "app")
	require.NoError(err)
	assert.Equal("com.example.app", pkg)

	_, err = android.PackageName(dir, "docs")
	assert.ErrorIs(err, model.ErrNotFound)

	assert.Equal("MainActivity", android.MainActivity(dir, "app"))
}

func TestNewestAPK(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	dir := t.TempDir()
	_, err := android.NewestAPK(filepath.Join(dir, "missing"))
	assert.ErrorIs(err, model.ErrNotFound)

	_, err = android.NewestAPK(dir)
	assert.ErrorIs(err, model.ErrNotFound)

	old := filepath.Join(dir, "app-debug-old.apk")
	fresh := filepath.Join(dir, "app-debug.apk")
	writeFile(t, old, "")
	writeFile(t, fresh, "")
	writeFile(t, filepath.Join(dir, "output-metadata.json"), "{}")
	past := time.Now().Add(-time.Hour)
	require.NoError(os.Chtimes(old, past, past))

	got, err := android.NewestAPK(dir)
	require.NoError(err)
	assert.Equal(fresh, got)
}

func TestReleasePaths(t *testing.T) {
	p := android.NewReleasePaths("/p", "app")

	assert.Equal(t, "/p/app/build/outputs/apk/release/app-release-unsigned.apk", p.Unsigned)
	assert.Equal(t, "/p/app/build/outputs/apk/release/app-release-aligned.apk", p.Aligned)
	assert.Equal(t, "/p/app/release/app-release.apk", p.Final)
	assert.Equal(t, "/p/app/release/app-release.apk.idsig", p.IDSig)
	assert.Equal(t, "/p/app/release", android.APKDir("/p", "app", android.BuildTypeRelease))
	assert.Equal(t, "/p/app/build/outputs/apk/debug", android.APKDir("/p", "app", android.BuildTypeDebug))
}

func TestCommands(t *testing.T) {
	tests := map[string]struct {
		cmd    string
		expCmd string
	}{
		"Paths with spaces should be quoted.": {
			cmd:    android.InstallAPK("/sdk/platform-tools/adb", "/My Projects/app.apk"),
			expCmd: "/sdk/platform-tools/adb install -r '/My Projects/app.apk'",
		},
		"Single quotes should be escaped.": {
			cmd:    android.InputText("adb", "it's"),
			expCmd: `adb shell input text 'it'\''s'`,
		},
		"Relative activities should keep their dot.": {
			cmd:    android.StartActivity("adb", "com.example", ".MainActivity"),
			expCmd: "adb shell am start -n com.example/.MainActivity",
		},
		"Bare activities should be made relative.": {
			cmd:    android.StartActivity("adb", "com.example", "MainActivity"),
			expCmd: "adb shell am start -n com.example/.MainActivity",
		},
		"Build and run should chain install and launch.": {
			cmd:    android.BuildAndRun("adb", android.BuildTypeDebug, "com.example", "MainActivity"),
			expCmd: "./gradlew installDebug && sleep 2 && adb shell am start -n com.example/.MainActivity",
		},
		"Assemble should use the build type task.": {
			cmd:    android.Assemble(android.BuildTypeRelease),
			expCmd: "./gradlew assembleRelease",
		},
		"Signing should read passwords from the environment.": {
			cmd:    android.SignAPK("apksigner", "/k.jks", "upload", "/in.apk", "/out.apk"),
			expCmd: "apksigner sign --ks /k.jks --ks-key-alias upload --ks-pass env:DROIDPANEL_KS_PASS --key-pass env:DROIDPANEL_KEY_PASS --out /out.apk /in.apk",
		},
		"Zipalign should align on 4 bytes.": {
			cmd:    android.Zipalign("zipalign", "/a.apk", "/b.apk"),
			expCmd: "zipalign -v -p 4 /a.apk /b.apk",
		},
		"Empty values should still be one word.": {
			cmd:    android.Connect("adb", ""),
			expCmd: "adb connect ''",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expCmd, test.cmd)
		})
	}
}

func TestSDKPaths(t *testing.T) {
	sdk := android.SDK{Home: "/sdk"}

	assert.Equal(t, "/sdk/platform-tools/adb", sdk.ADB())
	assert.Equal(t, "/sdk/emulator/emulator", sdk.Emulator())
	assert.Equal(t, "/sdk/build-tools/36.0.0/zipalign", sdk.Zipalign())
	assert.Equal(t, "/sdk/build-tools/34.0.0/apksigner", android.SDK{Home: "/sdk", BuildToolsVersion: "34.0.0"}.Apksigner())
	assert.Equal(t, "/sdk", sdk.Env()["ANDROID_HOME"])
	assert.Nil(t, android.SDK{}.Env())
}
