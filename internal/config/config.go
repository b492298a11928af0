// Package config loads the task file and runtime settings.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/taskdeck/taskdeck/internal/task"
)

// KeysConfig holds the attach key bindings as written in the config file,
// e.g. "ctrl+p" or single characters.
type KeysConfig struct {
	Prefix       string `mapstructure:"prefix"`
	Detach       string `mapstructure:"detach"`
	Kill         string `mapstructure:"kill"`
	GlobalDetach string `mapstructure:"global_detach"`
}

// ServerConfig holds the REST/websocket server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the full runtime configuration.
type Config struct {
	Tasks        []task.Definition `mapstructure:"tasks"`
	Keys         KeysConfig        `mapstructure:"keys"`
	HistoryLimit int               `mapstructure:"history_limit"`
	BufferSize   int               `mapstructure:"buffer_size"`
	LogDir       string            `mapstructure:"log_dir"`
	DBPath       string            `mapstructure:"db_path"`
	Server       ServerConfig      `mapstructure:"server"`
}

// Load reads configuration from path, or from the default search locations
// when path is empty. Settings can be overridden via TASKDECK_* environment
// variables. A missing config file is only an error when a path was given
// explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("history_limit", 100)
	v.SetDefault("buffer_size", 16*1024)
	v.SetDefault("db_path", "taskdeck.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("keys.prefix", "ctrl+p")
	v.SetDefault("keys.detach", "b")
	v.SetDefault("keys.kill", "k")
	v.SetDefault("keys.global_detach", "q")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("taskdeck")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/taskdeck")
	}

	v.SetEnvPrefix("TASKDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	seen := make(map[string]bool)
	for i, t := range cfg.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if t.Command == "" {
			return fmt.Errorf("task %q has no command", t.ID)
		}
		for name, in := range t.Inputs {
			if in.Kind != task.InputSelect && in.Kind != task.InputText {
				return fmt.Errorf("task %q input %q has unknown type %q", t.ID, name, in.Kind)
			}
			if in.Kind == task.InputSelect && len(in.Options) == 0 {
				return fmt.Errorf("task %q input %q has no options", t.ID, name)
			}
		}
	}
	return nil
}

// Task returns the task with the given ID.
func (c *Config) Task(id string) (task.Definition, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return task.Definition{}, false
}

// ParseKey translates a binding string into its input byte: a single
// character maps to itself, "ctrl+x" maps to the control byte.
func ParseKey(s string) (byte, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) == 1 {
		return s[0], nil
	}
	if rest, ok := strings.CutPrefix(s, "ctrl+"); ok && len(rest) == 1 {
		c := rest[0]
		if c >= 'a' && c <= 'z' {
			return c & 0x1f, nil
		}
	}
	return 0, fmt.Errorf("unsupported key binding %q", s)
}
