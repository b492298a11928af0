// Package cmd implements the taskdeck command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/engine"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "taskdeck",
	Short: "Session-oriented task runner",
	Long: `Taskdeck runs configured commands as PTY-backed instances you can
attach to, detach from, and kill, with recent output replayed on attach.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./taskdeck.toml or $HOME/.config/taskdeck)")
}

// loadConfig loads the configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// keyMapFromConfig translates configured binding strings into engine keys.
func keyMapFromConfig(keys config.KeysConfig) (engine.KeyMap, error) {
	km := engine.DefaultKeyMap()
	bind := func(name, value string, dst *byte) error {
		if value == "" {
			return nil
		}
		b, err := config.ParseKey(value)
		if err != nil {
			return fmt.Errorf("invalid %s binding: %w", name, err)
		}
		*dst = b
		return nil
	}
	if err := bind("prefix", keys.Prefix, &km.Prefix); err != nil {
		return km, err
	}
	if err := bind("detach", keys.Detach, &km.Detach); err != nil {
		return km, err
	}
	if err := bind("kill", keys.Kill, &km.Kill); err != nil {
		return km, err
	}
	if err := bind("global_detach", keys.GlobalDetach, &km.GlobalDetach); err != nil {
		return km, err
	}
	return km, nil
}
