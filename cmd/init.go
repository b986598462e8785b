package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harshul/droidpanel/internal/android"
	"github.com/harshul/droidpanel/internal/settings"
	"github.com/harshul/droidpanel/internal/ui"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Select the Android project to work on",
	Long: `The init command analyzes an Android project directory to detect:
- The Gradle wrapper
- The application modules
- The package name and launcher activity

It then saves the project and module in the settings so the dashboard
and 'droidpanel run' work on it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringP("module", "m", "", "Module to build (asked for when the project has several)")
	initCmd.Flags().StringP("build-type", "t", "", "Build type, debug or release")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	module, _ := cmd.Flags().GetString("module")
	buildType, _ := cmd.Flags().GetString("build-type")

	project, err := android.Analyze(dir)
	if err != nil {
		return fmt.Errorf("could not analyze %s: %w", dir, err)
	}
	if !project.HasWrapper {
		ui.PrintWarning("No gradlew found in " + project.Root)
	}
	if len(project.Modules) == 0 {
		return fmt.Errorf("%s has no Gradle modules", project.Root)
	}

	if module == "" {
		module, err = pickModule(project)
		if err != nil {
			return err
		}
	}

	s, err := settings.Load(opts.SettingsPath)
	if err != nil {
		return err
	}
	s.ProjectPath = project.Root
	if err := s.Set("module", module); err != nil {
		return err
	}
	if buildType != "" {
		if err := s.Set("build_type", strings.ToLower(buildType)); err != nil {
			return err
		}
	}

	if err := settings.Save(opts.SettingsPath, s); err != nil {
		return fmt.Errorf("could not save settings: %w", err)
	}

	ui.PrintSuccess("Project " + project.Name + " selected")
	ui.PrintHighlight("Path", project.Root)
	ui.PrintHighlight("Module", module)
	ui.PrintHighlight("Build type", s.BuildType)
	if pkg, err := android.PackageName(project.Root, module); err == nil {
		ui.PrintHighlight("Package", pkg)
	} else {
		ui.PrintWarning("Could not find the package name: " + err.Error())
	}
	if activity := android.MainActivity(project.Root, module); activity != "" {
		ui.PrintHighlight("Activity", activity)
	}
	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, "Run 'droidpanel' to open the dashboard.")

	return nil
}

// pickModule prefers the only module, then "app", then asks.
func pickModule(project android.Project) (string, error) {
	if len(project.Modules) == 1 {
		return project.Modules[0], nil
	}
	if !ui.Interactive() {
		for _, m := range project.Modules {
			if m == "app" {
				return m, nil
			}
		}
		return "", fmt.Errorf("several modules found (%s), use --module", strings.Join(project.Modules, ", "))
	}

	options := make([]ui.SelectOption, 0, len(project.Modules))
	for _, m := range project.Modules {
		options = append(options, ui.SelectOption{Label: m, Value: m})
	}
	selected, err := ui.Select("Which module do you want to build?", options)
	if err != nil {
		return "", err
	}
	return selected.Value, nil
}
