//go:build !windows

package engine

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/session"
)

// Registry is the slice of the session manager the attach session needs.
type Registry interface {
	Attach(id string) ([]byte, *session.Subscription, error)
	Write(id string, data []byte) error
	Kill(id string) (model.InstanceStatus, error)
	Resize(id string, rows, cols uint16) error
}

// Result says how an attach session ended.
type Result int

const (
	// ResultExited means the instance's output stream ended.
	ResultExited Result = iota
	// ResultDetached means the user detached; the instance keeps running.
	ResultDetached
	// ResultKilled means the user killed the instance from command mode.
	ResultKilled
	// ResultGlobalDetach means the user asked to drop all attachments.
	// The hosting process decides what that means for the instances.
	ResultGlobalDetach
)

// Command-mode indicator drawn over the first terminal row. Cursor
// position is saved and restored around it.
const (
	indicatorOn  = "\x1b7\x1b[1;1H\x1b[7m COMMAND \x1b[27m\x1b8"
	indicatorOff = "\x1b7\x1b[1;1H\x1b[27m         \x1b8"
)

// Options configures an attach session.
type Options struct {
	// Keys are the command-mode bindings; zero bytes use the defaults.
	Keys KeyMap

	// Indicator enables the on-screen command-mode marker. Off for
	// non-terminal outputs.
	Indicator bool
}

// lockedWriter serializes indicator writes from the input goroutine with
// output chunks from the stream loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// Run attaches in to an instance's input and its output to out, replay
// first, and runs the passthrough/command engine over in until the user
// detaches, kills, or the instance's output ends. Detach leaves the
// instance and its forwarder untouched.
func Run(reg Registry, id string, in io.Reader, out io.Writer, opts Options) (Result, error) {
	replay, sub, err := reg.Attach(id)
	if err != nil {
		return ResultExited, err
	}
	defer sub.Close()

	lw := &lockedWriter{w: out}
	if len(replay) > 0 {
		if _, err := lw.Write(replay); err != nil {
			return ResultExited, fmt.Errorf("failed to write replay: %w", err)
		}
	}

	fsm := NewFSM(opts.Keys)
	actions := make(chan Action, 1)
	inputDone := make(chan error, 1)

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				before := fsm.Mode()
				forward, action := fsm.Feed(buf[:n])
				if opts.Indicator && fsm.Mode() != before {
					if fsm.Mode() == ModeCommand {
						lw.Write([]byte(indicatorOn))
					} else {
						lw.Write([]byte(indicatorOff))
					}
				}
				if len(forward) > 0 {
					if werr := reg.Write(id, forward); werr != nil {
						inputDone <- werr
						return
					}
				}
				if action != ActionNone {
					actions <- action
					return
				}
			}
			if err != nil {
				inputDone <- err
				return
			}
		}
	}()

	for {
		select {
		case chunk, ok := <-sub.Out():
			if !ok {
				return ResultExited, nil
			}
			if _, err := lw.Write(chunk); err != nil {
				return ResultExited, fmt.Errorf("failed to write output: %w", err)
			}
		case action := <-actions:
			switch action {
			case ActionDetach:
				return ResultDetached, nil
			case ActionKill:
				if _, err := reg.Kill(id); err != nil {
					return ResultKilled, fmt.Errorf("failed to kill %s: %w", id, err)
				}
				return ResultKilled, nil
			case ActionGlobalDetach:
				return ResultGlobalDetach, nil
			}
		case err := <-inputDone:
			// Input gone (EOF or write failure): treat as a detach so the
			// instance keeps running.
			if err == io.EOF {
				return ResultDetached, nil
			}
			return ResultDetached, err
		}
	}
}

// RunInteractive runs an attach session against the local terminal: raw
// mode for the duration (restored on every path), initial size sync, and
// resize propagation on SIGWINCH.
func RunInteractive(reg Registry, id string, opts Options) (Result, error) {
	stdinFd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return ResultExited, fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(stdinFd, oldState)

	syncSize := func() {
		cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			return
		}
		reg.Resize(id, uint16(rows), uint16(cols))
	}
	syncSize()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-winch:
				syncSize()
			case <-stop:
				return
			}
		}
	}()

	return Run(reg, id, os.Stdin, os.Stdout, opts)
}
