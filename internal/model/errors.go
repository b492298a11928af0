package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInstanceNotFound is returned when an instance ID is unknown to the registry.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrCommandRequired is returned when a task definition has an empty command.
	ErrCommandRequired = errors.New("command is required")

	// ErrTaskNotFound is returned when a task ID is not present in the loaded config.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTerminationTimeout is returned when a killed process does not settle
	// within the bounded wait after the forceful kill was delivered.
	ErrTerminationTimeout = errors.New("termination timed out")
)

// SpawnError wraps an OS-level failure to create a PTY-backed process.
// When Spawn fails no instance is registered.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
