package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/pipeline"
	"github.com/harshul/droidpanel/internal/secrets"
)

func signConfig(dir string) pipeline.SignConfig {
	return pipeline.SignConfig{
		ProjectDir:  dir,
		Module:      "app",
		SDK:         android.SDK{Home: "/sdk", BuildToolsVersion: "36.0.0"},
		Keystore:    "/keys/release.jks",
		KeyAlias:    "upload",
		Credentials: secrets.Credentials{StorePassword: "store-secret", KeyPassword: "key-secret"},
	}
}

func TestSignReleaseSteps(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p, err := pipeline.SignRelease(signConfig(t.TempDir()))
	require.NoError(err)

	require.Len(p.Steps, 4)
	assert.Equal([]model.PipelineState{
		model.StateCompiling, model.StateAligning, model.StateSigning, model.StateVerifying,
	}, []model.PipelineState{p.Steps[0].State, p.Steps[1].State, p.Steps[2].State, p.Steps[3].State})

	sign := p.Steps[2]
	assert.True(sign.Sensitive)
	assert.Equal("store-secret", sign.Env[secrets.StorePasswordEnv])
	assert.Equal("key-secret", sign.Env[secrets.KeyPasswordEnv])
	for _, s := range p.Steps {
		assert.NotContains(s.Command, "store-secret")
		assert.NotContains(s.Command, "key-secret")
	}
	assert.Len(p.Cleanup, 2)
}

func TestSignReleaseSkipCompile(t *testing.T) {
	cfg := signConfig(t.TempDir())
	cfg.SkipCompile = true

	p, err := pipeline.SignRelease(cfg)
	require.NoError(t, err)
	require.Len(t, p.Steps, 3)
	assert.Equal(t, model.StateAligning, p.Steps[0].State)
}

func TestSignReleaseInvalidConfig(t *testing.T) {
	tests := map[string]struct {
		mutate func(*pipeline.SignConfig)
	}{
		"Missing keystore should fail.":       {mutate: func(c *pipeline.SignConfig) { c.Keystore = "" }},
		"Missing alias should fail.":          {mutate: func(c *pipeline.SignConfig) { c.KeyAlias = "" }},
		"Missing store password should fail.": {mutate: func(c *pipeline.SignConfig) { c.Credentials.StorePassword = "" }},
		"Missing module should fail.":         {mutate: func(c *pipeline.SignConfig) { c.Module = "" }},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := signConfig(t.TempDir())
			test.mutate(&cfg)

			_, err := pipeline.SignRelease(cfg)
			assert.ErrorIs(t, err, model.ErrNotValid)
		})
	}
}

func TestSignReleaseMissingUnsignedAPK(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg := signConfig(t.TempDir())
	cfg.SkipCompile = true
	p, err := pipeline.SignRelease(cfg)
	require.NoError(err)

	fake := &fakeSteps{}
	r, err := pipeline.NewRunner(pipeline.Config{Steps: fake, Sink: &fakeSink{}})
	require.NoError(err)

	report := r.Run(context.Background(), p)

	assert.Equal(model.StateFailed, report.State)
	assert.Equal("Align APK", report.FailedStep)
	assert.ErrorIs(report.Err, model.ErrPrecondition)
	assert.Empty(fake.labels())
}

func TestSignReleasePrepareRemovesStaleOutputs(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	cfg := signConfig(dir)
	cfg.SkipCompile = true
	paths := android.NewReleasePaths(dir, "app")

	require.NoError(os.MkdirAll(filepath.Dir(paths.Unsigned), 0o755))
	require.NoError(os.WriteFile(paths.Unsigned, []byte("unsigned"), 0o644))
	require.NoError(os.MkdirAll(paths.OutputDir, 0o755))
	require.NoError(os.WriteFile(paths.Final, []byte("stale"), 0o644))

	p, err := pipeline.SignRelease(cfg)
	require.NoError(err)

	fake := &fakeSteps{}
	sink := &fakeSink{}
	r, err := pipeline.NewRunner(pipeline.Config{Steps: fake, Sink: sink})
	require.NoError(err)

	report := r.Run(context.Background(), p)

	assert.Equal(model.StateSucceeded, report.State)
	assert.Equal([]string{"Align APK", "Sign APK", "Verify signature"}, fake.labels())

	// Stale output removed by prepare, intermediates removed on success.
	for _, path := range []string{paths.Final, paths.Unsigned} {
		_, err := os.Stat(path)
		assert.True(os.IsNotExist(err), path)
	}
	assert.True(strings.HasPrefix(sink.msgs[len(sink.msgs)-1], model.KindSuccess.String()))
}
