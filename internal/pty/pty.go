//go:build !windows

// Package pty wraps pseudo-terminal allocation and process control for
// task instances: spawn a command with a controlling terminal, propagate
// window size, signal it, and reap it.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// StartOptions contains options for starting a PTY-backed process.
type StartOptions struct {
	// Command is the executable to run.
	Command string

	// Args are the arguments to pass to the command.
	Args []string

	// Env is the process environment. If nil, the current environment is used.
	Env []string

	// Dir is the working directory. If empty, the current directory is used.
	Dir string

	// Rows and Cols are the initial terminal dimensions.
	Rows uint16
	Cols uint16
}

// Process is a running command attached to a PTY. The master side is the
// single bidirectional byte channel: reads return the child's output,
// writes feed its input.
type Process struct {
	master *os.File
	cmd    *exec.Cmd
	pid    int

	closeOnce sync.Once
	closeErr  error
}

// Start allocates a pseudo-terminal pair and spawns the command with the
// slave side as its controlling terminal, sized to opts.Rows x opts.Cols.
func Start(opts StartOptions) (*Process, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if opts.Dir != "" {
		if info, err := os.Stat(opts.Dir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("invalid working directory %s: %w", opts.Dir, err)
		}
		cmd.Dir = opts.Dir
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: opts.Rows,
		Cols: opts.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY process: %w", err)
	}

	return &Process{
		master: master,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
	}, nil
}

// Read reads output from the PTY master side.
func (p *Process) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

// Write writes input to the PTY master side.
func (p *Process) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

// Resize changes the PTY window size. A resize on a closed master is
// silently ignored.
func (p *Process) Resize(rows, cols uint16) error {
	err := pty.Setsize(p.master, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil && isClosedErr(err) {
		return nil
	}
	return err
}

// PID returns the child's process ID.
func (p *Process) PID() int {
	return p.pid
}

// Signal delivers sig to the child process. Delivery to an already-exited
// process is not an error.
func (p *Process) Signal(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", p.pid, err)
	}
	return nil
}

// Kill delivers SIGKILL to the child process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Wait blocks until the child exits and the OS has reaped it, and returns
// the exit code. Signal-terminated children report the code from
// ExitError.ExitCode. An error is returned only when the wait itself fails.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Close closes the PTY master. Safe to call more than once; the child
// observes EOF/SIGHUP on its controlling terminal.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.master.Close()
	})
	return p.closeErr
}

func isClosedErr(err error) bool {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err == os.ErrClosed || pe.Err == syscall.EBADF
	}
	return err == os.ErrClosed
}
