package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harshul/droidpanel/internal/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print a setting, passwords are masked",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd)
}

// runConfigShow prints the effective settings, environment overrides
// included.
func runConfigShow(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("# %s\n", opts.SettingsPath)
	for _, k := range settings.Keys() {
		v, err := s.Get(k)
		if err != nil {
			return err
		}
		fmt.Printf("%-24s %s\n", k, v)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd.Context())
	if err != nil {
		return err
	}
	v, err := s.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

// runConfigSet only touches the settings file, environment overrides are
// not persisted.
func runConfigSet(cmd *cobra.Command, args []string) error {
	s, err := settings.Load(opts.SettingsPath)
	if err != nil {
		return err
	}
	if err := s.Set(args[0], args[1]); err != nil {
		return err
	}
	if err := settings.Save(opts.SettingsPath, s); err != nil {
		return fmt.Errorf("could not save settings: %w", err)
	}

	v, _ := s.Get(args[0])
	fmt.Printf("%s = %s\n", args[0], v)
	return nil
}
