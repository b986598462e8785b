package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harshul/droidpanel/internal/doctor"
	"github.com/harshul/droidpanel/internal/procrun"
	"github.com/harshul/droidpanel/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the Android SDK tools and the selected project",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	logger, err := getLogger(os.Stderr)
	if err != nil {
		return err
	}
	s, err := loadSettings(ctx)
	if err != nil {
		return err
	}

	runner, err := procrun.NewRunner(procrun.RunnerConfig{Logger: logger})
	if err != nil {
		return err
	}
	d, err := doctor.New(doctor.Config{Runner: runner, SDK: s.SDK(), Logger: logger})
	if err != nil {
		return err
	}

	diag := d.Diagnose(ctx, s.ProjectPath, s.Module)

	fmt.Println("🩺 Android SDK: " + diag.SDKHome)
	for _, t := range diag.Tools {
		switch {
		case t.Installed:
			ui.PrintSuccess(fmt.Sprintf("%-10s %s", t.Name, t.Version))
		case t.Required:
			ui.PrintError(fmt.Sprintf("%-10s missing, %s", t.Name, t.Hint))
		default:
			ui.PrintWarning(fmt.Sprintf("%-10s missing, %s", t.Name, t.Hint))
		}
	}

	if p := diag.Project; p != nil {
		fmt.Println()
		fmt.Println("📦 Project: " + p.Path)
		ui.PrintHighlight("Gradle wrapper", yesNo(p.HasWrapper))
		ui.PrintHighlight("Modules", strings.Join(p.Modules, ", "))
		ui.PrintHighlight("Module", p.Module)
		ui.PrintHighlight("Package", orNone(p.PackageName))
		ui.PrintHighlight("Activity", orNone(p.Activity))
		for _, l := range p.Locks {
			ui.PrintWarning("Stale Gradle lock " + l + ", run 'droidpanel run stop-gradle'")
		}
	}

	if diag.Healthy {
		fmt.Println()
		ui.PrintSuccess("Everything looks good")
		return nil
	}

	fmt.Println()
	for _, issue := range diag.Issues {
		ui.PrintError(issue)
	}
	return &exitError{code: exitFailed}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
