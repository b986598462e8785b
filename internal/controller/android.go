package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/pipeline"
	"github.com/harshul/droidpanel/internal/procrun"
	"github.com/harshul/droidpanel/internal/secrets"
	"github.com/harshul/droidpanel/internal/settings"
	"github.com/harshul/droidpanel/internal/thermal"
)

// DeviceResolver maps the selected device to adb terms.
type DeviceResolver interface {
	ResolveSerial(ctx context.Context, name string) (string, error)
	ListAVDs(ctx context.Context) ([]string, error)
}

// serialEnv selects the target device for adb and the Gradle install tasks.
const serialEnv = "ANDROID_SERIAL"

type settingsHolder struct {
	mu       sync.RWMutex
	settings settings.Settings
	resolver DeviceResolver
}

// SetSettings replaces the settings used by the Android actions.
func (c *Controller) SetSettings(s settings.Settings) {
	c.settings.mu.Lock()
	defer c.settings.mu.Unlock()
	c.settings.settings = s
}

// Settings returns the settings used by the Android actions.
func (c *Controller) Settings() settings.Settings {
	c.settings.mu.RLock()
	defer c.settings.mu.RUnlock()
	return c.settings.settings
}

// SetDeviceResolver sets how device selections are resolved.
func (c *Controller) SetDeviceResolver(r DeviceResolver) {
	c.settings.mu.Lock()
	defer c.settings.mu.Unlock()
	c.settings.resolver = r
}

func (c *Controller) resolver() DeviceResolver {
	c.settings.mu.RLock()
	defer c.settings.mu.RUnlock()
	return c.settings.resolver
}

func (c *Controller) project() (settings.Settings, error) {
	s := c.Settings()
	if s.ProjectPath == "" {
		return s, fmt.Errorf("no project selected: %w", model.ErrNotValid)
	}
	if _, err := os.Stat(s.ProjectPath); err != nil {
		return s, fmt.Errorf("project %s: %w", s.ProjectPath, model.ErrNotFound)
	}
	return s, nil
}

// targetEnv is the SDK environment plus the selected device serial, if any.
func (c *Controller) targetEnv(ctx context.Context, s settings.Settings) (map[string]string, error) {
	env := map[string]string{}
	for k, v := range s.SDK().Env() {
		env[k] = v
	}

	r := c.resolver()
	if s.Device == "" || r == nil {
		return env, nil
	}

	serial, err := r.ResolveSerial(ctx, s.Device)
	if err != nil {
		return nil, fmt.Errorf("could not resolve device %q: %w", s.Device, err)
	}
	env[serialEnv] = serial
	return env, nil
}

func (c *Controller) startAction(spec procrun.Spec) error {
	err := c.StartCommand(spec)
	if err != nil && !errors.Is(err, model.ErrSpawn) {
		c.logs.Message(model.KindError, "✗ %s: %s", spec.Label, err)
	}
	return err
}

func (c *Controller) reject(label string, err error) error {
	c.logs.Message(model.KindError, "✗ %s: %s", label, err)
	return err
}

// prepareGradleStep stops lingering Gradle daemons and warns about stale
// lock files. It never fails the pipeline it belongs to.
func (c *Controller) prepareGradleStep(s settings.Settings) model.Step {
	return model.Step{
		Label:    "Stop Gradle daemons",
		Command:  android.GradleStop(),
		Dir:      s.ProjectPath,
		Env:      s.SDK().Env(),
		Optional: true,
		Prepare: func() error {
			if locks := android.GradleLocks(s.ProjectPath); len(locks) > 0 {
				c.logs.Message(model.KindWarning, "⚠ %d Gradle lock file(s) found, if the build hangs run ./gradlew --stop", len(locks))
			}
			return nil
		},
	}
}

func gradleStep(s settings.Settings, label, command string, env map[string]string, state model.PipelineState) model.Step {
	return model.Step{
		Label:   label,
		Command: command,
		Dir:     s.ProjectPath,
		Env:     env,
		State:   state,
		Precondition: func() error {
			if _, err := os.Stat(filepath.Join(s.ProjectPath, "gradlew")); err != nil {
				return fmt.Errorf("no Gradle wrapper in %s", s.ProjectPath)
			}
			return nil
		},
	}
}

// startGradle caps the workers of the compiling steps and starts the pipeline.
func (c *Controller) startGradle(s settings.Settings, p pipeline.Pipeline) error {
	if c.workers != nil {
		workers := c.workers(s.Gradle.MaxWorkers)
		for i, step := range p.Steps {
			if step.State == model.StateCompiling {
				p.Steps[i].Command = thermal.WithMaxWorkers(step.Command, workers)
			}
		}
	}
	return c.StartPipeline(p)
}

// PrepareGradle stops the Gradle daemons of the project.
func (c *Controller) PrepareGradle() error {
	s, err := c.project()
	if err != nil {
		return c.reject("Prepare Gradle", err)
	}
	return c.StartPipeline(pipeline.Pipeline{
		Label: "Prepare Gradle",
		Steps: []model.Step{c.prepareGradleStep(s)},
	})
}

// Compile compiles the debug sources.
func (c *Controller) Compile() error {
	s, err := c.project()
	if err != nil {
		return c.reject("Compile", err)
	}
	return c.startGradle(s, pipeline.Pipeline{
		Label: "Compile",
		Steps: []model.Step{
			c.prepareGradleStep(s),
			gradleStep(s, "Compile", android.CompileDebug(), s.SDK().Env(), model.StateCompiling),
		},
	})
}

// BuildAndRun installs the configured build type and launches the app.
func (c *Controller) BuildAndRun(ctx context.Context) error {
	const label = "Build and run"

	s, err := c.project()
	if err != nil {
		return c.reject(label, err)
	}
	pkg, err := android.PackageName(s.ProjectPath, s.Module)
	if err != nil {
		return c.reject(label, fmt.Errorf("could not find the package name: %w", err))
	}
	activity := android.MainActivity(s.ProjectPath, s.Module)
	env, err := c.targetEnv(ctx, s)
	if err != nil {
		return c.reject(label, err)
	}

	return c.startGradle(s, pipeline.Pipeline{
		Label: label,
		Steps: []model.Step{
			c.prepareGradleStep(s),
			gradleStep(s, label, android.BuildAndRun(s.SDK().ADB(), s.BuildType, pkg, activity), env, model.StateCompiling),
		},
	})
}

// NeedsCredentials reports whether a release build has to ask for passwords.
func (c *Controller) NeedsCredentials() bool {
	s := c.Settings()
	if s.BuildType != android.BuildTypeRelease {
		return false
	}
	cfg, err := c.SigningConfig(secrets.Credentials{})
	if err == nil {
		return false
	}
	return cfg.Credentials.Validate() != nil
}

// SigningConfig builds the release signing config. Explicit credentials win
// over the settings, which win over the project keystore.properties.
func (c *Controller) SigningConfig(creds secrets.Credentials) (pipeline.SignConfig, error) {
	s, err := c.project()
	if err != nil {
		return pipeline.SignConfig{}, err
	}

	props, err := secrets.LoadKeystoreProperties(s.ProjectPath)
	if err != nil {
		c.logger.Warningf("Ignoring keystore.properties: %s", err)
	}

	pick := func(values ...string) string {
		for _, v := range values {
			if v != "" {
				return v
			}
		}
		return ""
	}

	cfg := pipeline.SignConfig{
		ProjectDir: s.ProjectPath,
		Module:     s.Module,
		SDK:        s.SDK(),
		Keystore:   pick(s.Signing.Keystore, props.StoreFile),
		KeyAlias:   pick(s.Signing.KeyAlias, props.KeyAlias),
		Credentials: secrets.Credentials{
			StorePassword: pick(creds.StorePassword, s.Signing.StorePassword, props.Credentials.StorePassword),
			KeyPassword:   pick(creds.KeyPassword, s.Signing.KeyPassword, props.Credentials.KeyPassword),
		},
	}

	return cfg, cfg.Validate()
}

// BuildAPK builds an APK of the configured build type. Release builds run the
// compile, align, sign and verify pipeline.
func (c *Controller) BuildAPK(creds secrets.Credentials) error {
	defer creds.Zero()

	s, err := c.project()
	if err != nil {
		return c.reject("Build APK", err)
	}

	if s.BuildType == android.BuildTypeDebug {
		return c.startGradle(s, pipeline.Pipeline{
			Label: "Build debug APK",
			Steps: []model.Step{
				c.prepareGradleStep(s),
				gradleStep(s, "Build debug APK", android.Assemble(android.BuildTypeDebug), s.SDK().Env(), model.StateCompiling),
			},
		})
	}

	cfg, err := c.SigningConfig(creds)
	if err != nil {
		return c.reject("Build release APK", err)
	}
	p, err := pipeline.SignRelease(cfg)
	cfg.Credentials.Zero()
	if err != nil {
		return c.reject("Build release APK", err)
	}
	p.Steps = append([]model.Step{c.prepareGradleStep(s)}, p.Steps...)

	return c.startGradle(s, p)
}

// SignAPK aligns, signs and verifies the unsigned release APK already on
// disk without compiling it again.
func (c *Controller) SignAPK(creds secrets.Credentials) error {
	defer creds.Zero()

	s, err := c.project()
	if err != nil {
		return c.reject("Sign release APK", err)
	}
	if s.BuildType != android.BuildTypeRelease {
		return c.reject("Sign release APK", fmt.Errorf("signing needs the release build type: %w", model.ErrNotValid))
	}

	cfg, err := c.SigningConfig(creds)
	if err != nil {
		return c.reject("Sign release APK", err)
	}
	cfg.SkipCompile = true
	p, err := pipeline.SignRelease(cfg)
	cfg.Credentials.Zero()
	if err != nil {
		return c.reject("Sign release APK", err)
	}

	return c.StartPipeline(p)
}

// InstallAPK installs the newest APK of the configured build type.
func (c *Controller) InstallAPK(ctx context.Context) error {
	s, err := c.project()
	if err != nil {
		return c.reject("Install APK", err)
	}
	label := fmt.Sprintf("Install %s APK", s.BuildType)

	apk, err := android.NewestAPK(android.APKDir(s.ProjectPath, s.Module, s.BuildType))
	if err != nil {
		c.logs.Message(model.KindNormal, "💡 Build the APK first")
		return c.reject(label, err)
	}
	env, err := c.targetEnv(ctx, s)
	if err != nil {
		return c.reject(label, err)
	}

	c.logs.Message(model.KindNormal, "📦 Found APK: %s", apk)
	return c.startAction(procrun.Spec{Label: label, Command: android.InstallAPK(s.SDK().ADB(), apk), Env: env})
}

// Authorize types the code on the device.
func (c *Controller) Authorize(ctx context.Context, code string) error {
	const label = "Authorize device"
	if code == "" {
		return c.reject(label, fmt.Errorf("code is required: %w", model.ErrNotValid))
	}

	s := c.Settings()
	env, err := c.targetEnv(ctx, s)
	if err != nil {
		return c.reject(label, err)
	}

	return c.startAction(procrun.Spec{
		Label:     label,
		Command:   android.InputText(s.SDK().ADB(), code),
		Env:       env,
		Sensitive: true,
	})
}

// ToggleEmulator kills the running emulators or launches the selected AVD.
func (c *Controller) ToggleEmulator(ctx context.Context) error {
	s := c.Settings()
	env := s.SDK().Env()

	if c.EmulatorRunning() {
		return c.startAction(procrun.Spec{Label: "Stop emulator", Command: android.KillEmulators(), Env: env})
	}

	avd, err := c.selectedAVD(ctx, s)
	if err != nil {
		return c.reject("Start emulator", err)
	}

	return c.startAction(procrun.Spec{
		Label:   fmt.Sprintf("Start emulator %s", avd),
		Command: android.LaunchEmulator(s.SDK().Emulator(), avd),
		Env:     env,
	})
}

func (c *Controller) selectedAVD(ctx context.Context, s settings.Settings) (string, error) {
	r := c.resolver()
	if r == nil {
		if s.Device == "" {
			return "", fmt.Errorf("no AVD selected: %w", model.ErrNotValid)
		}
		return s.Device, nil
	}

	avds, err := r.ListAVDs(ctx)
	if err != nil {
		return "", fmt.Errorf("could not list AVDs: %w", err)
	}
	for _, avd := range avds {
		if avd == s.Device {
			return avd, nil
		}
	}
	if len(avds) == 0 {
		return "", fmt.Errorf("no AVD configured: %w", model.ErrNotFound)
	}
	return avds[0], nil
}
