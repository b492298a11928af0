//go:build !windows

// Package session implements the instance registry: the authoritative table
// of task instances, their lifecycle transitions, and the per-instance
// output forwarding that backs attach/replay.
package session

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/taskdeck/taskdeck/internal/buffer"
	"github.com/taskdeck/taskdeck/internal/logger"
	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/pty"
	"github.com/taskdeck/taskdeck/internal/task"
)

const (
	// DefaultBufferCap is the default ring buffer capacity per instance (16 KiB).
	DefaultBufferCap = 16 * 1024

	// DefaultKillGrace is how long a SIGTERM'd process gets before SIGKILL.
	DefaultKillGrace = 3 * time.Second

	// DefaultKillWait bounds how long Kill blocks after the forceful kill.
	DefaultKillWait = 5 * time.Second

	// drainWait bounds how long the exit watcher waits for the forwarder
	// after the process is reaped. A grandchild holding the PTY slave open
	// can keep the forwarder reading indefinitely; past this bound the
	// watcher settles the status and closes the master anyway.
	drainWait = 5 * time.Second
)

// HistoryRecorder receives the final record of an instance once it reaches
// a terminal status. Implemented by the sqlite history store; nil disables
// recording.
type HistoryRecorder interface {
	Record(info model.InstanceInfo) error
}

// Config holds configuration for the registry.
type Config struct {
	// BufferCap is the per-instance ring buffer capacity in bytes.
	BufferCap int

	// LogDir, when non-empty, enables asciinema cast recording of every
	// instance's output under this directory.
	LogDir string

	// KillGrace is the SIGTERM-to-SIGKILL escalation period.
	KillGrace time.Duration

	// KillWait bounds how long Kill blocks waiting for the exit watcher
	// after the forceful kill.
	KillWait time.Duration

	// History records finished instances. Optional.
	History HistoryRecorder
}

// Manager is the instance registry and session manager. It is the sole
// owner of all process handles, ring buffers, and forwarders; consumers
// hold instance IDs and subscriptions only.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*instance
	counters  map[string]int

	bufferCap int
	logDir    string
	killGrace time.Duration
	killWait  time.Duration
	history   HistoryRecorder
}

// NewManager creates a new registry.
func NewManager(cfg Config) *Manager {
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = DefaultBufferCap
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = DefaultKillWait
	}
	return &Manager{
		instances: make(map[string]*instance),
		counters:  make(map[string]int),
		bufferCap: cfg.BufferCap,
		logDir:    cfg.LogDir,
		killGrace: cfg.KillGrace,
		killWait:  cfg.KillWait,
		history:   cfg.History,
	}
}

// process is the PTY-side surface the registry drives. *pty.Process is
// the production implementation.
type process interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(rows, cols uint16) error
	PID() int
	Signal(sig syscall.Signal) error
	Kill() error
	Wait() (int, error)
	Close() error
}

// instance is the registry's internal record. Its mutex guards the ring
// buffer, subscriber set, and info together so that Attach can register a
// subscription and take a snapshot with no byte lost between the two.
type instance struct {
	mu      sync.Mutex
	info    model.InstanceInfo
	proc    process
	buffer  *buffer.RingBuffer
	cast    *logger.CastLogger
	subs    map[uint64]chan []byte
	nextSub uint64
	done    chan struct{}
	fwdDone chan struct{}
}

// Spawn renders the task's command with the supplied input values, starts
// it on a fresh PTY, and registers the instance as running. On failure no
// instance is registered.
func (m *Manager) Spawn(def task.Definition, inputs map[string]string) (model.InstanceInfo, error) {
	inst, err := m.spawn(def, inputs)
	if err != nil {
		return model.InstanceInfo{}, err
	}
	inst.mu.Lock()
	info := inst.info
	inst.mu.Unlock()
	return info, nil
}

// RawStreams are the forwarding endpoints handed out by SpawnRaw and Attach.
type RawStreams struct {
	// Replay is the ring buffer snapshot taken at subscription time.
	Replay []byte

	// Output delivers every chunk forwarded after the snapshot.
	Output *Subscription

	// Input writes raw bytes to the instance's PTY.
	Input *InstanceWriter
}

// SpawnRaw is Spawn plus an immediate attach: the caller owns the live
// forwarding loop from the first byte, while the registry retains the
// process, ring buffer, and forwarder.
func (m *Manager) SpawnRaw(def task.Definition, inputs map[string]string) (model.InstanceInfo, RawStreams, error) {
	inst, err := m.spawn(def, inputs)
	if err != nil {
		return model.InstanceInfo{}, RawStreams{}, err
	}
	inst.mu.Lock()
	info := inst.info
	inst.mu.Unlock()

	replay, sub, err := m.Attach(info.ID)
	if err != nil {
		return model.InstanceInfo{}, RawStreams{}, err
	}
	return info, RawStreams{
		Replay: replay,
		Output: sub,
		Input:  &InstanceWriter{m: m, id: info.ID},
	}, nil
}

func (m *Manager) spawn(def task.Definition, inputs map[string]string) (*instance, error) {
	if def.Command == "" {
		return nil, model.ErrCommandRequired
	}
	rendered, err := task.RenderCommand(def.Command, inputs, def.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to render command for task %s: %w", def.ID, err)
	}

	env := buildEnv(def)
	id := m.nextInstanceID(def.ID)

	proc, err := pty.Start(pty.StartOptions{
		Command: "/bin/sh",
		Args:    []string{"-c", rendered},
		Env:     env,
		Dir:     def.Cwd,
		Rows:    24,
		Cols:    80,
	})
	if err != nil {
		return nil, &model.SpawnError{Command: rendered, Err: err}
	}

	var cast *logger.CastLogger
	if m.logDir != "" {
		castPath := filepath.Join(m.logDir, castFileName(id))
		cast, err = logger.NewCastLogger(castPath)
		if err != nil {
			log.Printf("cast recording disabled for %s: %v", id, err)
			cast = nil
		} else if err := cast.WriteHeader(80, 24); err != nil {
			cast.Close()
			cast = nil
		}
	}

	inst := &instance{
		info: model.InstanceInfo{
			ID:        id,
			TaskID:    def.ID,
			TaskName:  def.Name,
			Command:   rendered,
			Status:    model.Running(),
			PID:       proc.PID(),
			Rows:      24,
			Cols:      80,
			StartedAt: time.Now(),
		},
		proc:    proc,
		buffer:  buffer.NewRingBuffer(m.bufferCap),
		cast:    cast,
		subs:    make(map[uint64]chan []byte),
		done:    make(chan struct{}),
		fwdDone: make(chan struct{}),
	}

	m.mu.Lock()
	m.instances[id] = inst
	m.mu.Unlock()

	go m.forward(inst)
	go m.watch(inst)

	return inst, nil
}

// nextInstanceID allocates the next per-task sequence number. Numbers are
// strictly increasing and never reused, even when a later spawn step fails.
func (m *Manager) nextInstanceID(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[taskID]++
	return fmt.Sprintf("%s#%d", taskID, m.counters[taskID])
}

func buildEnv(def task.Definition) []string {
	var env []string
	if !def.EnvClear {
		env = os.Environ()
	}
	for k, v := range def.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// castFileName maps an instance ID to a filesystem-safe cast file name.
func castFileName(id string) string {
	return strings.ReplaceAll(id, "#", "-") + ".cast"
}

// lookup returns the live instance record for id.
func (m *Manager) lookup(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, model.ErrInstanceNotFound
	}
	return inst, nil
}

// GetStatus returns the current status of an instance.
func (m *Manager) GetStatus(id string) (model.InstanceStatus, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return model.InstanceStatus{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.info.Status, nil
}

// GetInfo returns the full instance description.
func (m *Manager) GetInfo(id string) (model.InstanceInfo, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return model.InstanceInfo{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.info, nil
}

// List returns all registered instances ordered by start time, then ID.
func (m *Manager) List() []model.InstanceInfo {
	m.mu.RLock()
	insts := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.mu.RUnlock()

	infos := make([]model.InstanceInfo, 0, len(insts))
	for _, inst := range insts {
		inst.mu.Lock()
		infos = append(infos, inst.info)
		inst.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Snapshot returns the current ring buffer contents of an instance.
func (m *Manager) Snapshot(id string) ([]byte, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return inst.buffer.Snapshot(), nil
}

// Write writes raw input bytes to the instance's PTY.
func (m *Manager) Write(id string, data []byte) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}
	if _, err := inst.proc.Write(data); err != nil {
		return fmt.Errorf("failed to write to instance %s: %w", id, err)
	}
	if inst.cast != nil {
		inst.cast.WriteInput(data)
	}
	return nil
}

// Resize propagates new terminal dimensions to the instance's PTY and
// records them. A resize against a closed PTY is silently ignored.
func (m *Manager) Resize(id string, rows, cols uint16) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := inst.proc.Resize(rows, cols); err != nil {
		return fmt.Errorf("failed to resize instance %s: %w", id, err)
	}
	inst.mu.Lock()
	inst.info.Rows = rows
	inst.info.Cols = cols
	inst.mu.Unlock()
	return nil
}

// Kill terminates a running instance: SIGTERM, a bounded grace period,
// then SIGKILL, blocking until the exit watcher settles the status or the
// bounded wait elapses. Kill on an already-terminal instance returns the
// existing status and delivers no signals.
func (m *Manager) Kill(id string) (model.InstanceStatus, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return model.InstanceStatus{}, err
	}

	inst.mu.Lock()
	status := inst.info.Status
	inst.mu.Unlock()
	if status.Terminal() {
		return status, nil
	}

	if err := inst.proc.Signal(syscall.SIGTERM); err != nil {
		log.Printf("SIGTERM to %s failed: %v", id, err)
	}

	select {
	case <-inst.done:
	case <-time.After(m.killGrace):
		if err := inst.proc.Kill(); err != nil {
			log.Printf("SIGKILL to %s failed: %v", id, err)
		}
		select {
		case <-inst.done:
		case <-time.After(m.killWait):
			return model.InstanceStatus{}, model.ErrTerminationTimeout
		}
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.info.Status, nil
}

// AwaitTerminal blocks until the instance reaches a terminal status or the
// timeout elapses, then returns whatever status it holds at that point.
// Callers that saw the output stream end use this to pick up the final
// status without polling.
func (m *Manager) AwaitTerminal(id string, timeout time.Duration) (model.InstanceStatus, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return model.InstanceStatus{}, err
	}

	select {
	case <-inst.done:
	case <-time.After(timeout):
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.info.Status, nil
}

// Remove drops a terminal instance from the registry. Running instances
// cannot be removed; kill them first.
func (m *Manager) Remove(id string) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	terminal := inst.info.Status.Terminal()
	inst.mu.Unlock()
	if !terminal {
		return fmt.Errorf("instance %s is still running", id)
	}
	m.mu.Lock()
	delete(m.instances, id)
	m.mu.Unlock()
	return nil
}

// TerminateAll signals every running instance for termination and waits,
// bounded, for each to settle. Used on shutdown of a registry whose host
// process is going away, so no orphan processes are left behind.
func (m *Manager) TerminateAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := m.Kill(id); err != nil && err != model.ErrInstanceNotFound {
				log.Printf("failed to terminate %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
}

// finish applies the single terminal transition for an instance. The first
// observer (exit watcher or forwarder error path) wins; later calls are
// no-ops. Returns true when this call applied the transition.
func (m *Manager) finish(inst *instance, status model.InstanceStatus) bool {
	inst.mu.Lock()
	if inst.info.Status.Terminal() {
		inst.mu.Unlock()
		return false
	}
	now := time.Now()
	inst.info.Status = status
	inst.info.EndedAt = &now
	info := inst.info
	if inst.cast != nil {
		inst.cast.Close()
		inst.cast = nil
	}
	inst.mu.Unlock()

	close(inst.done)

	if m.history != nil {
		if err := m.history.Record(info); err != nil {
			log.Printf("failed to record history for %s: %v", info.ID, err)
		}
	}
	log.Printf("instance %s finished: %s", info.ID, info.Status)
	return true
}

// watch is the exit watcher: it reaps the process exactly once, waits for
// the forwarder to drain the master, then applies the terminal status and
// closes the master. A terminal status therefore means the ring buffer
// already holds the instance's final output. The drain wait is bounded so
// a grandchild holding the slave open cannot wedge the lifecycle.
func (m *Manager) watch(inst *instance) {
	code, err := inst.proc.Wait()

	select {
	case <-inst.fwdDone:
	case <-time.After(drainWait):
		log.Printf("instance %s: output drain timed out, settling anyway", inst.info.ID)
	}

	if err != nil {
		m.finish(inst, model.Errored(err.Error()))
	} else {
		m.finish(inst, model.Exited(code))
	}
	inst.proc.Close()
}
