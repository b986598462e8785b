// Package settings persists the user preferences of droidpanel.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/secrets"
)

// Settings are the persisted preferences.
type Settings struct {
	ProjectPath       string `yaml:"project_path,omitempty"`
	Module            string `yaml:"module"`
	BuildType         string `yaml:"build_type"`
	SDKHome           string `yaml:"sdk_home,omitempty"`
	BuildToolsVersion string `yaml:"build_tools_version"`
	// Device is the selected AVD name or device serial.
	Device  string  `yaml:"device,omitempty"`
	Signing Signing `yaml:"signing"`
	Gradle  Gradle  `yaml:"gradle"`
	Timing  Timing  `yaml:"timing"`
	Log     Log     `yaml:"log"`
}

// Gradle tunes the Gradle invocations.
type Gradle struct {
	// MaxWorkers caps the Gradle workers, 0 picks a value for the machine.
	MaxWorkers int `yaml:"max_workers"`
}

// Signing is the release signing configuration. Passwords are optional, when
// missing they are asked for.
type Signing struct {
	Keystore      string `yaml:"keystore,omitempty"`
	KeyAlias      string `yaml:"key_alias,omitempty"`
	StorePassword string `yaml:"store_password,omitempty"`
	KeyPassword   string `yaml:"key_password,omitempty"`
}

// Timing holds the intervals of the background loops.
type Timing struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	TimerTick    time.Duration `yaml:"timer_tick"`
	KillGrace    time.Duration `yaml:"kill_grace"`
}

// Log holds the log sink watermarks.
type Log struct {
	MaxLines      int `yaml:"max_lines"`
	TrimThreshold int `yaml:"trim_threshold"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Module:            "app",
		BuildType:         android.BuildTypeRelease,
		SDKHome:           android.DefaultSDKHome(),
		BuildToolsVersion: android.DefaultBuildToolsVersion,
		Timing: Timing{
			PollInterval: time.Second,
			TimerTick:    100 * time.Millisecond,
			KillGrace:    500 * time.Millisecond,
		},
		Log: Log{
			MaxLines:      1000,
			TrimThreshold: 1200,
		},
	}
}

// DefaultPath is ~/.droidpanel/settings.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "settings.yaml")
}

// Dir is the droidpanel state directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".droidpanel"
	}
	return filepath.Join(home, ".droidpanel")
}

// SDK returns the SDK the settings point to.
func (s Settings) SDK() android.SDK {
	return android.SDK{Home: s.SDKHome, BuildToolsVersion: s.BuildToolsVersion}
}

// Credentials returns the configured signing passwords.
func (s Settings) Credentials() secrets.Credentials {
	return secrets.Credentials{StorePassword: s.Signing.StorePassword, KeyPassword: s.Signing.KeyPassword}
}

// Validate checks the settings can be used.
func (s Settings) Validate() error {
	if s.Module == "" {
		return fmt.Errorf("module is required: %w", model.ErrNotValid)
	}
	if s.BuildType != android.BuildTypeDebug && s.BuildType != android.BuildTypeRelease {
		return fmt.Errorf("build type must be %q or %q: %w", android.BuildTypeDebug, android.BuildTypeRelease, model.ErrNotValid)
	}
	if s.Gradle.MaxWorkers < 0 {
		return fmt.Errorf("gradle max workers can't be negative: %w", model.ErrNotValid)
	}
	if s.Timing.PollInterval <= 0 || s.Timing.TimerTick <= 0 || s.Timing.KillGrace <= 0 {
		return fmt.Errorf("timings must be positive: %w", model.ErrNotValid)
	}
	if s.Log.MaxLines <= 0 || s.Log.MaxLines > s.Log.TrimThreshold {
		return fmt.Errorf("log max lines must be between 1 and the trim threshold: %w", model.ErrNotValid)
	}
	return nil
}

// Load reads the settings file on top of the defaults. A missing file is not
// an error.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return Settings{}, fmt.Errorf("could not read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("could not parse settings %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}

	return s, nil
}

// Save writes the settings, readable only by the user since they may hold
// passwords.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("could not marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create settings directory: %w", err)
	}

	// WriteFile keeps the mode of an existing file.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("could not write settings: %w", err)
	}
	return os.Chmod(path, 0o600)
}

type envOverrides struct {
	SDKHome           string `env:"ANDROID_HOME"`
	BuildToolsVersion string `env:"DROIDPANEL_BUILD_TOOLS"`
	ProjectPath       string `env:"DROIDPANEL_PROJECT"`
	Module            string `env:"DROIDPANEL_MODULE"`
	BuildType         string `env:"DROIDPANEL_BUILD_TYPE"`
	Device            string `env:"DROIDPANEL_DEVICE"`
	Keystore          string `env:"DROIDPANEL_KEYSTORE"`
	KeyAlias          string `env:"DROIDPANEL_KEY_ALIAS"`
	StorePassword     string `env:"DROIDPANEL_STORE_PASSWORD"`
	KeyPassword       string `env:"DROIDPANEL_KEY_PASSWORD"`
}

// ApplyEnv overrides the settings with the environment variables that are
// set. A nil lookuper reads the process environment.
func ApplyEnv(ctx context.Context, s Settings, lookuper envconfig.Lookuper) (Settings, error) {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}

	var env envOverrides
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &env, Lookuper: lookuper}); err != nil {
		return Settings{}, fmt.Errorf("could not read environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.SDKHome, env.SDKHome)
	set(&s.BuildToolsVersion, env.BuildToolsVersion)
	set(&s.ProjectPath, env.ProjectPath)
	set(&s.Module, env.Module)
	set(&s.BuildType, env.BuildType)
	set(&s.Device, env.Device)
	set(&s.Signing.Keystore, env.Keystore)
	set(&s.Signing.KeyAlias, env.KeyAlias)
	set(&s.Signing.StorePassword, env.StorePassword)
	set(&s.Signing.KeyPassword, env.KeyPassword)

	return s, s.Validate()
}

type field struct {
	get    func(s *Settings) string
	set    func(s *Settings, v string) error
	secret bool
}

func stringField(ptr func(s *Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *ptr(s) },
		set: func(s *Settings, v string) error { *ptr(s) = v; return nil },
	}
}

func durationField(ptr func(s *Settings) *time.Duration) field {
	return field{
		get: func(s *Settings) string { return ptr(s).String() },
		set: func(s *Settings, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%q is not a duration: %w", v, model.ErrNotValid)
			}
			*ptr(s) = d
			return nil
		},
	}
}

func intField(ptr func(s *Settings) *int) field {
	return field{
		get: func(s *Settings) string { return fmt.Sprint(*ptr(s)) },
		set: func(s *Settings, v string) error {
			var n int
			if _, err := fmt.Sscan(v, &n); err != nil {
				return fmt.Errorf("%q is not a number: %w", v, model.ErrNotValid)
			}
			*ptr(s) = n
			return nil
		},
	}
}

func secretField(ptr func(s *Settings) *string) field {
	f := stringField(ptr)
	f.secret = true
	return f
}

var fields = map[string]field{
	"project_path":           stringField(func(s *Settings) *string { return &s.ProjectPath }),
	"module":                 stringField(func(s *Settings) *string { return &s.Module }),
	"build_type":             stringField(func(s *Settings) *string { return &s.BuildType }),
	"sdk_home":               stringField(func(s *Settings) *string { return &s.SDKHome }),
	"build_tools_version":    stringField(func(s *Settings) *string { return &s.BuildToolsVersion }),
	"device":                 stringField(func(s *Settings) *string { return &s.Device }),
	"signing.keystore":       stringField(func(s *Settings) *string { return &s.Signing.Keystore }),
	"signing.key_alias":      stringField(func(s *Settings) *string { return &s.Signing.KeyAlias }),
	"signing.store_password": secretField(func(s *Settings) *string { return &s.Signing.StorePassword }),
	"signing.key_password":   secretField(func(s *Settings) *string { return &s.Signing.KeyPassword }),
	"gradle.max_workers":     intField(func(s *Settings) *int { return &s.Gradle.MaxWorkers }),
	"timing.poll_interval":   durationField(func(s *Settings) *time.Duration { return &s.Timing.PollInterval }),
	"timing.timer_tick":      durationField(func(s *Settings) *time.Duration { return &s.Timing.TimerTick }),
	"timing.kill_grace":      durationField(func(s *Settings) *time.Duration { return &s.Timing.KillGrace }),
	"log.max_lines":          intField(func(s *Settings) *int { return &s.Log.MaxLines }),
	"log.trim_threshold":     intField(func(s *Settings) *int { return &s.Log.TrimThreshold }),
}

// Keys returns the settable keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set changes a single key, validating the result.
func (s *Settings) Set(key, value string) error {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown setting %q: %w", key, model.ErrNotFound)
	}

	next := *s
	if err := f.set(&next, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	*s = next
	return nil
}

// Get returns a key value. Secret values are masked.
func (s Settings) Get(key string) (string, error) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown setting %q: %w", key, model.ErrNotFound)
	}

	v := f.get(&s)
	if f.secret {
		v = secrets.Mask(v)
	}
	return v, nil
}
