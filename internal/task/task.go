// Package task defines task definitions and the command template renderer.
package task

import (
	"fmt"
	"strings"
)

// InputKind discriminates the two input flavors a task can declare.
type InputKind string

const (
	// InputSelect is a fixed list of options with a required default.
	InputSelect InputKind = "select"
	// InputText is free-form text with an optional default.
	InputText InputKind = "text"
)

// Input declares a template variable a task's command accepts.
type Input struct {
	Kind        InputKind `mapstructure:"type" json:"type"`
	Options     []string  `mapstructure:"options" json:"options,omitempty"`
	Default     string    `mapstructure:"default" json:"default,omitempty"`
	Placeholder string    `mapstructure:"placeholder" json:"placeholder,omitempty"`
}

// defaultValue returns the input's fallback value, if it declares one.
// Select inputs always have one; for text inputs an empty default is
// treated as absent, so the variable must be supplied.
func (in Input) defaultValue() (string, bool) {
	if in.Kind == InputSelect {
		return in.Default, true
	}
	return in.Default, in.Default != ""
}

// Definition describes one runnable task from the config file.
type Definition struct {
	ID       string            `mapstructure:"id" json:"id"`
	Name     string            `mapstructure:"name" json:"name"`
	Command  string            `mapstructure:"command" json:"command"`
	Category string            `mapstructure:"category" json:"category,omitempty"`
	Cwd      string            `mapstructure:"cwd" json:"cwd,omitempty"`
	Env      map[string]string `mapstructure:"env" json:"env,omitempty"`
	EnvClear bool              `mapstructure:"env_clear" json:"envClear,omitempty"`
	Inputs   map[string]Input  `mapstructure:"inputs" json:"inputs,omitempty"`
}

// RenderCommand substitutes {{name}} and {{name|default}} placeholders in
// command. Resolution order per variable: the supplied value, then the
// inline default, then the declared input's default. A variable that
// resolves nowhere is an error, as is an unclosed or empty placeholder.
func RenderCommand(command string, values map[string]string, inputs map[string]Input) (string, error) {
	var rendered strings.Builder
	rendered.Grow(len(command))
	cursor := 0

	for {
		start := strings.Index(command[cursor:], "{{")
		if start < 0 {
			break
		}
		start += cursor
		rendered.WriteString(command[cursor:start])

		afterStart := start + 2
		end := strings.Index(command[afterStart:], "}}")
		if end < 0 {
			return "", fmt.Errorf("unclosed template variable")
		}
		end += afterStart

		inner := strings.TrimSpace(command[afterStart:end])
		name := inner
		inlineDefault := ""
		hasInline := false
		if i := strings.Index(inner, "|"); i >= 0 {
			name = strings.TrimSpace(inner[:i])
			inlineDefault = strings.TrimSpace(inner[i+1:])
			hasInline = true
		}
		if name == "" {
			return "", fmt.Errorf("empty template variable")
		}

		value, ok := values[name]
		if !ok && hasInline {
			value, ok = inlineDefault, true
		}
		if !ok {
			if in, declared := inputs[name]; declared {
				value, ok = in.defaultValue()
			}
		}
		if !ok {
			return "", fmt.Errorf("missing value for template variable: %s", name)
		}

		rendered.WriteString(value)
		cursor = end + 2
	}

	rendered.WriteString(command[cursor:])
	return rendered.String(), nil
}
