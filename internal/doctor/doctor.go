package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/log"
	"github.com/harshul/droidpanel/internal/procrun"
)

// OutputRunner runs the version checks.
type OutputRunner interface {
	Output(ctx context.Context, spec procrun.Spec) (string, procrun.Exit, error)
}

// ToolStatus represents the status of a tool check
type ToolStatus struct {
	Name      string
	Installed bool
	Version   string
	Path      string
	// Hint tells how to fix a missing tool.
	Hint string
	// Required tools make the diagnosis unhealthy when missing.
	Required bool
}

// ProjectStatus represents the status of the Android project
type ProjectStatus struct {
	Path        string
	HasWrapper  bool
	Modules     []string
	Module      string
	PackageName string
	Activity    string
	// Locks are Gradle lock files left behind by a crashed daemon.
	Locks []string
}

// Diagnosis contains the full health check results
type Diagnosis struct {
	SDKHome string
	Tools   []ToolStatus
	Project *ProjectStatus
	Healthy bool
	Issues  []string
}

// Config is the doctor configuration.
type Config struct {
	Runner OutputRunner
	SDK    android.SDK
	// Timeout bounds every version check.
	Timeout time.Duration
	// LookPath finds tools on PATH, defaults to exec.LookPath.
	LookPath func(string) (string, error)
	Logger   log.Logger
}

func (c *Config) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.LookPath == nil {
		c.LookPath = exec.LookPath
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "doctor.Doctor"})

	return nil
}

// Doctor checks the Android toolchain and a project.
type Doctor struct {
	runner   OutputRunner
	sdk      android.SDK
	timeout  time.Duration
	lookPath func(string) (string, error)
	logger   log.Logger
}

// New returns a new Doctor.
func New(cfg Config) (*Doctor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Doctor{
		runner:   cfg.Runner,
		sdk:      cfg.SDK,
		timeout:  cfg.Timeout,
		lookPath: cfg.LookPath,
		logger:   cfg.Logger,
	}, nil
}

// Diagnose checks the tools and, when projectPath is set, the project.
func (d *Doctor) Diagnose(ctx context.Context, projectPath, module string) Diagnosis {
	diagnosis := Diagnosis{SDKHome: d.sdk.Home, Healthy: true}

	if _, err := os.Stat(d.sdk.Home); d.sdk.Home == "" || err != nil {
		diagnosis.Healthy = false
		diagnosis.Issues = append(diagnosis.Issues, fmt.Sprintf("Android SDK not found at %q, set ANDROID_HOME or sdk_home", d.sdk.Home))
	}

	diagnosis.Tools = []ToolStatus{
		d.checkTool(ctx, "adb", d.sdk.ADB(), "version", true, "Install the SDK platform-tools"),
		d.checkTool(ctx, "emulator", d.sdk.Emulator(), "-version", false, "Install the emulator from the SDK manager"),
		d.checkTool(ctx, "zipalign", d.sdk.Zipalign(), "", true, fmt.Sprintf("Install build-tools %s", d.buildTools())),
		d.checkTool(ctx, "apksigner", d.sdk.Apksigner(), "--version", true, fmt.Sprintf("Install build-tools %s", d.buildTools())),
		d.checkJava(ctx),
	}

	for _, t := range diagnosis.Tools {
		if !t.Installed && t.Required {
			diagnosis.Healthy = false
			diagnosis.Issues = append(diagnosis.Issues, fmt.Sprintf("%s is not installed", t.Name))
		}
	}

	if projectPath != "" {
		p := checkProject(projectPath, module)
		diagnosis.Project = &p

		switch {
		case !p.HasWrapper:
			diagnosis.Healthy = false
			diagnosis.Issues = append(diagnosis.Issues, "Gradle wrapper (gradlew) not found in the project")
		case p.PackageName == "":
			diagnosis.Healthy = false
			diagnosis.Issues = append(diagnosis.Issues, fmt.Sprintf("Could not read the package name of module %q", module))
		}
	}

	return diagnosis
}

func (d *Doctor) buildTools() string {
	if d.sdk.BuildToolsVersion == "" {
		return android.DefaultBuildToolsVersion
	}
	return d.sdk.BuildToolsVersion
}

// checkTool checks a tool binary exists and asks its version.
func (d *Doctor) checkTool(ctx context.Context, name, path, versionFlag string, required bool, hint string) ToolStatus {
	status := ToolStatus{Name: name, Path: path, Required: required}

	if _, err := os.Stat(path); err != nil {
		status.Hint = hint
		return status
	}
	status.Installed = true

	if versionFlag != "" {
		status.Version = d.version(ctx, android.Quote(path)+" "+versionFlag)
	}

	return status
}

// checkJava checks the JDK Gradle runs with.
func (d *Doctor) checkJava(ctx context.Context) ToolStatus {
	status := ToolStatus{Name: "java", Required: true}

	path, err := d.lookPath("java")
	if err != nil {
		status.Hint = "Install a JDK or set JAVA_HOME"
		return status
	}
	status.Installed = true
	status.Path = path
	// Java outputs version to stderr
	status.Version = d.version(ctx, android.Quote(path)+" -version")

	return status
}

func (d *Doctor) version(ctx context.Context, command string) string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, _, err := d.runner.Output(ctx, procrun.Spec{Label: "version check", Command: command, Env: d.sdk.Env()})
	if err != nil {
		d.logger.Debugf("Version check failed: %s", err)
		return ""
	}

	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func checkProject(projectPath, module string) ProjectStatus {
	status := ProjectStatus{Path: projectPath, Module: module}

	if _, err := os.Stat(filepath.Join(projectPath, "gradlew")); err == nil {
		status.HasWrapper = true
	}
	status.Modules = android.DetectModules(projectPath)
	status.Locks = android.GradleLocks(projectPath)

	if pkg, err := android.PackageName(projectPath, module); err == nil {
		status.PackageName = pkg
		status.Activity = android.MainActivity(projectPath, module)
	}

	return status
}
