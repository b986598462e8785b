package settings_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/settings"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := settings.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), s)
}

func TestSaveLoad(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "conf", "settings.yaml")
	s := settings.Default()
	s.ProjectPath = "/work/app"
	s.Signing.Keystore = "/keys/release.jks"
	s.Signing.StorePassword = "secret"
	s.Timing.KillGrace = 2 * time.Second

	require.NoError(settings.Save(path, s))

	info, err := os.Stat(path)
	require.NoError(err)
	assert.Equal(os.FileMode(0o600), info.Mode().Perm())

	got, err := settings.Load(path)
	require.NoError(err)
	assert.Equal(s, got)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]struct {
		content string
	}{
		"Broken YAML should fail.": {
			content: "module: [",
		},
		"An unknown build type should fail.": {
			content: "build_type: staging\n",
		},
		"Inverted watermarks should fail.": {
			content: "log:\n  max_lines: 2000\n  trim_threshold: 1200\n",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.yaml")
			require.NoError(t, os.WriteFile(path, []byte(test.content), 0o600))

			_, err := settings.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build_type: debug\ntiming:\n  poll_interval: 2s\n"), 0o600))

	s, err := settings.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.BuildType)
	assert.Equal(t, 2*time.Second, s.Timing.PollInterval)
	assert.Equal(t, "app", s.Module)
	assert.Equal(t, 1200, s.Log.TrimThreshold)
}

func TestApplyEnv(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	base := settings.Default()
	base.Module = "mobile"

	s, err := settings.ApplyEnv(context.Background(), base, envconfig.MapLookuper(map[string]string{
		"ANDROID_HOME":              "/opt/sdk",
		"DROIDPANEL_BUILD_TYPE":     "debug",
		"DROIDPANEL_STORE_PASSWORD": "from-env",
	}))
	require.NoError(err)

	assert.Equal("/opt/sdk", s.SDKHome)
	assert.Equal("debug", s.BuildType)
	assert.Equal("from-env", s.Signing.StorePassword)
	// Unset variables keep the file values.
	assert.Equal("mobile", s.Module)

	_, err = settings.ApplyEnv(context.Background(), base, envconfig.MapLookuper(map[string]string{
		"DROIDPANEL_BUILD_TYPE": "beta",
	}))
	assert.ErrorIs(err, model.ErrNotValid)
}

func TestSetGet(t *testing.T) {
	tests := map[string]struct {
		key    string
		value  string
		expGet string
		expErr error
	}{
		"Setting a string should work.": {
			key: "module", value: "wear", expGet: "wear",
		},
		"Setting a duration should work.": {
			key: "timing.kill_grace", value: "1.5s", expGet: "1.5s",
		},
		"Setting a number should work.": {
			key: "log.trim_threshold", value: "5000", expGet: "5000",
		},
		"Secrets should be masked on read.": {
			key: "signing.key_password", value: "hunter22", expGet: "hu******",
		},
		"An unknown key should not be found.": {
			key: "colour", value: "blue", expErr: model.ErrNotFound,
		},
		"A bad duration should not be valid.": {
			key: "timing.poll_interval", value: "soon", expErr: model.ErrNotValid,
		},
		"A value breaking validation should not be valid.": {
			key: "build_type", value: "beta", expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			s := settings.Default()
			before := s

			err := s.Set(test.key, test.value)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
				assert.Equal(t, before, s)
				return
			}
			require.NoError(t, err)

			got, err := s.Get(test.key)
			require.NoError(t, err)
			assert.Equal(t, test.expGet, got)
		})
	}
}

func TestKeys(t *testing.T) {
	keys := settings.Keys()
	assert.Contains(t, keys, "signing.keystore")
	assert.IsIncreasing(t, keys)
}
