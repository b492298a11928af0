//go:build !windows

package session

import (
	"errors"
	"io"
	"log"
	"os"
	"syscall"

	"github.com/taskdeck/taskdeck/internal/model"
)

const (
	// readBufSize is the PTY read chunk size.
	readBufSize = 4096

	// subChanLen is the per-subscriber channel depth. A subscriber that
	// falls this far behind the forwarder is evicted rather than allowed
	// to stall output delivery.
	subChanLen = 256
)

// Subscription is a live output stream handed out by Attach. The channel
// is closed when the instance's output ends or the subscriber is evicted.
type Subscription struct {
	ch     chan []byte
	cancel func()
}

// Out returns the channel delivering output chunks in arrival order.
func (s *Subscription) Out() <-chan []byte {
	return s.ch
}

// Close detaches the subscription. Safe to call after the channel has
// already been closed by the forwarder.
func (s *Subscription) Close() {
	s.cancel()
}

// InstanceWriter adapts an instance ID to io.Writer for stdin forwarding.
type InstanceWriter struct {
	m  *Manager
	id string
}

func (w *InstanceWriter) Write(p []byte) (int, error) {
	if err := w.m.Write(w.id, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Attach subscribes to an instance's output. The returned snapshot holds
// everything the ring buffer retained up to the moment of subscription;
// the subscription delivers every chunk forwarded after it. Registration
// and snapshot happen under the same lock the forwarder pushes under, so
// no byte is ever in both or in neither.
//
// Attaching to an instance whose output has already ended returns the
// final snapshot and an immediately closed subscription.
func (m *Manager) Attach(id string) ([]byte, *Subscription, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	inst.mu.Lock()
	if inst.subs == nil {
		snap := inst.buffer.Snapshot()
		inst.mu.Unlock()
		ch := make(chan []byte)
		close(ch)
		return snap, &Subscription{ch: ch, cancel: func() {}}, nil
	}

	ch := make(chan []byte, subChanLen)
	key := inst.nextSub
	inst.nextSub++
	inst.subs[key] = ch
	snap := inst.buffer.Snapshot()
	inst.mu.Unlock()

	cancel := func() {
		inst.mu.Lock()
		defer inst.mu.Unlock()
		if c, ok := inst.subs[key]; ok {
			delete(inst.subs, key)
			close(c)
		}
	}
	return snap, &Subscription{ch: ch, cancel: cancel}, nil
}

// forward is the per-instance forwarder: it drains the PTY master and,
// under the instance lock, pushes each chunk to the ring buffer, the cast
// recorder, and every subscriber. On end-of-stream it closes all
// subscriber channels; a read failure that is not the normal PTY
// end-of-stream marks the instance errored and forces the process down so
// the exit watcher reaps it. fwdDone is closed on every exit path; the
// exit watcher holds the terminal transition until then.
func (m *Manager) forward(inst *instance) {
	defer close(inst.fwdDone)

	buf := make([]byte, readBufSize)
	for {
		n, err := inst.proc.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			inst.mu.Lock()
			inst.buffer.Write(data)
			if inst.cast != nil {
				inst.cast.WriteOutput(data)
			}
			for key, ch := range inst.subs {
				select {
				case ch <- data:
				default:
					delete(inst.subs, key)
					close(ch)
				}
			}
			inst.mu.Unlock()
		}
		if err != nil {
			if !isStreamEnd(err) {
				m.finish(inst, model.Errored(err.Error()))
				// The child is still running; put it down so the exit
				// watcher reaps it and Kill/TerminateAll never see a
				// live process behind a terminal status.
				if kerr := inst.proc.Kill(); kerr != nil {
					log.Printf("failed to kill errored instance %s: %v", inst.info.ID, kerr)
				}
			}
			m.closeSubs(inst)
			return
		}
	}
}

// closeSubs closes every subscriber channel and marks the instance as no
// longer accepting subscriptions.
func (m *Manager) closeSubs(inst *instance) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for _, ch := range inst.subs {
		close(ch)
	}
	inst.subs = nil
}

// isStreamEnd reports whether a PTY master read error is the normal
// end-of-stream. Linux reports EIO rather than EOF once the slave side
// has gone away, and the exit watcher closes the master under us.
func isStreamEnd(err error) bool {
	if err == io.EOF || errors.Is(err, os.ErrClosed) {
		return true
	}
	return errors.Is(err, syscall.EIO)
}
