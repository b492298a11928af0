// Package model defines the instance data model shared by the registry,
// transports, and storage.
package model

import (
	"fmt"
	"time"
)

// InstanceState is the coarse lifecycle state of an instance.
type InstanceState string

const (
	StateRunning InstanceState = "running"
	StateExited  InstanceState = "exited"
	StateError   InstanceState = "error"
)

// InstanceStatus is a tagged status value. ExitCode is meaningful only when
// State is StateExited; Message only when State is StateError.
type InstanceStatus struct {
	State    InstanceState `json:"state"`
	ExitCode int           `json:"exitCode,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// Running returns the initial status of a freshly spawned instance.
func Running() InstanceStatus {
	return InstanceStatus{State: StateRunning}
}

// Exited returns a terminal status carrying the process exit code.
func Exited(code int) InstanceStatus {
	return InstanceStatus{State: StateExited, ExitCode: code}
}

// Errored returns a terminal status carrying a failure description.
func Errored(message string) InstanceStatus {
	return InstanceStatus{State: StateError, Message: message}
}

// Terminal reports whether the status can no longer change.
func (s InstanceStatus) Terminal() bool {
	return s.State == StateExited || s.State == StateError
}

func (s InstanceStatus) String() string {
	switch s.State {
	case StateExited:
		return fmt.Sprintf("exited(%d)", s.ExitCode)
	case StateError:
		return fmt.Sprintf("error(%s)", s.Message)
	default:
		return string(s.State)
	}
}

// InstanceInfo is the externally visible description of an instance.
// Consumers never hold the underlying process; they hold this plus an ID.
type InstanceInfo struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"taskId"`
	TaskName  string         `json:"taskName"`
	Command   string         `json:"command"`
	Status    InstanceStatus `json:"status"`
	PID       int            `json:"pid,omitempty"`
	Rows      uint16         `json:"rows"`
	Cols      uint16         `json:"cols"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   *time.Time     `json:"endedAt,omitempty"`
}

// Duration returns how long the instance has been (or was) running.
func (i *InstanceInfo) Duration() time.Duration {
	if i.EndedAt != nil {
		return i.EndedAt.Sub(i.StartedAt)
	}
	return time.Since(i.StartedAt)
}
