// Package thermal sizes the Gradle worker pool for the machine it runs on.
package thermal

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// MaxWorkersFlag caps the parallel Gradle workers.
const MaxWorkersFlag = "--max-workers"

// HardwareInfo contains detected hardware information
type HardwareInfo struct {
	NumCPU         int
	PhysicalCores  int
	IsDarwin       bool
	IsMacBookAir   bool
	IsAppleSilicon bool
	ModelName      string
}

// DetectHardware detects the current hardware configuration
func DetectHardware(ctx context.Context) HardwareInfo {
	info := HardwareInfo{
		NumCPU:   runtime.NumCPU(),
		IsDarwin: runtime.GOOS == "darwin",
	}

	if n, err := cpu.CountsWithContext(ctx, false); err == nil && n > 0 {
		info.PhysicalCores = n
	}

	if info.IsDarwin {
		info.ModelName = sysctl(ctx, "hw.model")
		info.IsMacBookAir = strings.Contains(strings.ToLower(info.ModelName), "macbookair")
		info.IsAppleSilicon = runtime.GOARCH == "arm64" ||
			strings.Contains(strings.ToLower(sysctl(ctx, "machdep.cpu.brand_string")), "apple")
	} else if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.ModelName = cpus[0].ModelName
	}

	return info
}

func sysctl(ctx context.Context, name string) string {
	out, err := exec.CommandContext(ctx, "sysctl", "-n", name).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Workers returns the Gradle worker count for the hardware. A configured
// value always wins.
func Workers(hw HardwareInfo, configured int) int {
	if configured > 0 {
		return configured
	}

	optimal := hw.NumCPU
	switch {
	case hw.IsMacBookAir:
		// Passive cooling throttles quickly under a sustained build.
		optimal = hw.NumCPU / 2
	case hw.IsDarwin && hw.IsAppleSilicon:
		optimal = (hw.NumCPU * 3) / 4
	}

	if optimal < 2 {
		optimal = 2
	}
	return optimal
}

// Level is how hot the machine runs.
type Level string

const (
	LevelCool Level = "cool"
	LevelWarm Level = "warm"
	LevelHot  Level = "hot"
)

// Thresholds in Celsius used when only a sensor temperature is known.
const (
	WarmTemperature = 75
	HotTemperature  = 90
)

// Status represents the current thermal state
type Status struct {
	Level Level
	// Temperature in Celsius, -1 when unavailable.
	Temperature float64
	Message     string
}

// Throttle scales a worker count down for the thermal level.
func (s Status) Throttle(workers int) int {
	switch s.Level {
	case LevelWarm:
		workers /= 2
	case LevelHot:
		workers /= 4
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

var (
	speedLimitRe   = regexp.MustCompile(`cpu_speed_limit\s*=?\s*(\d+)`)
	thermalLevelRe = regexp.MustCompile(`thermal_level\s*=?\s*(\d+)`)
)

// ParsePmset reads the output of `pmset -g therm`.
func ParsePmset(out string) Status {
	status := Status{Level: LevelCool, Temperature: -1, Message: "CPU running at full speed"}
	out = strings.ToLower(out)

	if m := speedLimitRe.FindStringSubmatch(out); m != nil && m[1] != "100" {
		status.Level = LevelWarm
		status.Message = fmt.Sprintf("CPU limited to %s%% due to thermal pressure", m[1])
	}
	if m := thermalLevelRe.FindStringSubmatch(out); m != nil && m[1] != "0" {
		status.Level = LevelHot
		status.Message = "System thermal pressure detected"
	}

	return status
}

// FromTemperature classifies a sensor temperature.
func FromTemperature(celsius float64) Status {
	switch {
	case celsius < 0:
		return Status{Level: LevelCool, Temperature: -1, Message: "No temperature sensor"}
	case celsius >= HotTemperature:
		return Status{Level: LevelHot, Temperature: celsius, Message: fmt.Sprintf("CPU at %.0f°C", celsius)}
	case celsius >= WarmTemperature:
		return Status{Level: LevelWarm, Temperature: celsius, Message: fmt.Sprintf("CPU at %.0f°C", celsius)}
	}
	return Status{Level: LevelCool, Temperature: celsius, Message: fmt.Sprintf("CPU at %.0f°C", celsius)}
}

// ReadStatus returns the current thermal status. macOS reports throttling
// through pmset, elsewhere the hottest CPU sensor is used.
func ReadStatus(ctx context.Context, hw HardwareInfo) Status {
	if hw.IsDarwin {
		out, err := exec.CommandContext(ctx, "pmset", "-g", "therm").Output()
		if err == nil {
			return ParsePmset(string(out))
		}
	}
	return FromTemperature(CPUTemperature(ctx))
}

// CPUTemperature returns the CPU temperature in Celsius or -1 when no sensor
// can be read.
func CPUTemperature(ctx context.Context) float64 {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return -1
	}

	fallback := -1.0
	for _, t := range temps {
		if t.Temperature <= 0 || t.Temperature >= 120 {
			continue
		}
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "coretemp") || strings.Contains(key, "k10temp") {
			return t.Temperature
		}
		if fallback < 0 {
			fallback = t.Temperature
		}
	}
	return fallback
}

// Sizer picks the worker count right before a Gradle invocation.
type Sizer struct {
	hw      HardwareInfo
	timeout time.Duration
	status  func(ctx context.Context, hw HardwareInfo) Status
}

// NewSizer returns a Sizer for the hardware.
func NewSizer(hw HardwareInfo) *Sizer {
	return &Sizer{hw: hw, timeout: 2 * time.Second, status: ReadStatus}
}

// Workers returns the configured worker count, or one derived from the
// hardware and throttled by the current thermal level.
func (s *Sizer) Workers(configured int) int {
	if configured > 0 {
		return configured
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	return s.status(ctx, s.hw).Throttle(Workers(s.hw, 0))
}

// WithMaxWorkers adds the worker cap to every Gradle wrapper invocation of a
// shell command that does not set one already.
func WithMaxWorkers(command string, workers int) string {
	if workers <= 0 || strings.Contains(command, MaxWorkersFlag) {
		return command
	}

	flag := fmt.Sprintf("%s=%d", MaxWorkersFlag, workers)
	parts := strings.Split(command, " ")
	out := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, p)
		if p == "./gradlew" || strings.HasSuffix(p, "/gradlew") {
			out = append(out, flag)
		}
	}
	return strings.Join(out, " ")
}

// FormatHardwareInfo returns a human-readable hardware description
func FormatHardwareInfo(hw HardwareInfo) string {
	var parts []string

	cores := fmt.Sprintf("%d cores", hw.NumCPU)
	if hw.PhysicalCores > 0 && hw.PhysicalCores != hw.NumCPU {
		cores = fmt.Sprintf("%d cores (%d physical)", hw.NumCPU, hw.PhysicalCores)
	}
	parts = append(parts, cores)

	if hw.ModelName != "" {
		parts = append(parts, hw.ModelName)
	}
	if hw.IsAppleSilicon {
		parts = append(parts, "Apple Silicon")
	}
	if !hw.IsDarwin {
		parts = append(parts, runtime.GOOS)
	}

	return strings.Join(parts, ", ")
}
