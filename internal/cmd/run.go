//go:build !windows

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/engine"
	"github.com/taskdeck/taskdeck/internal/history"
	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/session"
)

var runInputs []string

var runCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Spawn a task instance and attach to it",
	Long: `Run spawns one instance of a configured task and attaches the local
terminal to it. Ctrl+P enters command mode: b detaches, k kills, q
detaches globally, Ctrl+P again sends a literal Ctrl+P.

The registry lives inside this process, so a detached instance cannot
outlive it: detaching terminates the instance before exiting. Use
'taskdeck serve' when instances should survive detach.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "input value as key=value (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func parseInputs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		values[key] = value
	}
	return values, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	def, ok := cfg.Task(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrTaskNotFound, args[0])
	}

	inputs, err := parseInputs(runInputs)
	if err != nil {
		return err
	}

	keys, err := keyMapFromConfig(cfg.Keys)
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.DBPath, cfg.HistoryLimit)
	if err != nil {
		return err
	}
	defer hist.Close()

	registry := session.NewManager(session.Config{
		BufferCap: cfg.BufferSize,
		LogDir:    cfg.LogDir,
		History:   hist,
	})
	defer registry.TerminateAll()

	info, err := registry.Spawn(def, inputs)
	if err != nil {
		return err
	}

	result, err := engine.RunInteractive(registry, info.ID, engine.Options{
		Keys:      keys,
		Indicator: true,
	})
	if err != nil {
		return err
	}

	switch result {
	case engine.ResultExited:
		// The exit watcher can settle a beat after the output stream ends.
		status, serr := registry.AwaitTerminal(info.ID, time.Second)
		if serr == nil {
			fmt.Printf("\n%s %s\n", info.ID, status)
		}
	case engine.ResultKilled:
		fmt.Printf("\n%s killed\n", info.ID)
	case engine.ResultDetached, engine.ResultGlobalDetach:
		// Single-process deployment: the registry dies with us, so the
		// deferred TerminateAll reaps the instance instead of orphaning it.
		fmt.Printf("\n%s detached, terminating\n", info.ID)
	}
	return nil
}
