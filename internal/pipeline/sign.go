package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/secrets"
)

// SignConfig is what the release signing pipeline needs.
type SignConfig struct {
	ProjectDir  string
	Module      string
	SDK         android.SDK
	Keystore    string
	KeyAlias    string
	Credentials secrets.Credentials
	// SkipCompile starts the pipeline at the alignment step, reusing the
	// unsigned APK already on disk.
	SkipCompile bool
}

// Validate checks the config can produce a runnable pipeline.
func (c SignConfig) Validate() error {
	if c.ProjectDir == "" {
		return fmt.Errorf("project directory is required: %w", model.ErrNotValid)
	}
	if c.Module == "" {
		return fmt.Errorf("module is required: %w", model.ErrNotValid)
	}
	if c.Keystore == "" {
		return fmt.Errorf("keystore is required: %w", model.ErrNotValid)
	}
	if c.KeyAlias == "" {
		return fmt.Errorf("key alias is required: %w", model.ErrNotValid)
	}
	return c.Credentials.Validate()
}

// SignRelease builds the compile, align, sign and verify pipeline. The
// signed APK is kept, the unsigned and aligned intermediates are removed on
// success.
func SignRelease(cfg SignConfig) (Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return Pipeline{}, err
	}

	paths := android.NewReleasePaths(cfg.ProjectDir, cfg.Module)
	sdkEnv := cfg.SDK.Env()

	signEnv := make(map[string]string, len(sdkEnv)+2)
	for k, v := range sdkEnv {
		signEnv[k] = v
	}
	for k, v := range cfg.Credentials.Env() {
		signEnv[k] = v
	}

	var steps []model.Step
	if !cfg.SkipCompile {
		steps = append(steps, model.Step{
			Label:   "Compile release",
			Command: android.Assemble(android.BuildTypeRelease),
			Dir:     cfg.ProjectDir,
			Env:     sdkEnv,
			State:   model.StateCompiling,
		})
	}

	steps = append(steps,
		model.Step{
			Label:   "Align APK",
			Command: android.Zipalign(cfg.SDK.Zipalign(), paths.Unsigned, paths.Aligned),
			Env:     sdkEnv,
			State:   model.StateAligning,
			Precondition: func() error {
				if _, err := os.Stat(paths.Unsigned); err != nil {
					return fmt.Errorf("unsigned APK not found at %s", paths.Unsigned)
				}
				return nil
			},
			Prepare: func() error {
				if err := os.MkdirAll(paths.OutputDir, 0o755); err != nil {
					return err
				}
				if errs := Cleanup(nil, paths.Aligned, paths.Final, paths.IDSig); len(errs) > 0 {
					return errs[0]
				}
				return nil
			},
		},
		model.Step{
			Label:     "Sign APK",
			Command:   android.SignAPK(cfg.SDK.Apksigner(), cfg.Keystore, cfg.KeyAlias, paths.Aligned, paths.Final),
			Env:       signEnv,
			State:     model.StateSigning,
			Sensitive: true,
		},
		model.Step{
			Label:   "Verify signature",
			Command: android.VerifyAPK(cfg.SDK.Apksigner(), paths.Final),
			Env:     sdkEnv,
			State:   model.StateVerifying,
		},
	)

	return Pipeline{
		Label:   "Sign release APK",
		Steps:   steps,
		Cleanup: []string{paths.Aligned, paths.Unsigned},
		Success: fmt.Sprintf("✅ Signed APK ready at %s", filepath.Clean(paths.Final)),
	}, nil
}
