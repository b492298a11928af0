// Package logger records instance terminal sessions in asciinema v2
// JSON-Lines format, one cast file per instance.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CastHeader is the asciinema v2 recording header.
type CastHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// CastEvent is a single recording event, serialized as
// [time_offset, event_type, data].
type CastEvent struct {
	TimeOffset float64
	EventType  string // "o" for output, "i" for input
	Data       string
}

func (e CastEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.EventType, e.Data})
}

func (e *CastEvent) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}
	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	eventType, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	eventData, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}
	e.TimeOffset = timeOffset
	e.EventType = eventType
	e.Data = eventData
	return nil
}

// CastLogger appends asciinema v2 events for one instance. All methods are
// safe for concurrent use; the forwarder writes output events while the
// input path writes input events.
type CastLogger struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// NewCastLogger creates a cast file at path, creating parent directories
// as needed.
func NewCastLogger(path string) (*CastLogger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cast directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create cast file: %w", err)
	}
	return &CastLogger{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewCastLoggerWithWriter creates a logger backed by an arbitrary writer.
// Useful for testing.
func NewCastLoggerWithWriter(w io.Writer) *CastLogger {
	return &CastLogger{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the v2 header. Call once, before any event.
func (l *CastLogger) WriteHeader(cols, rows int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := CastHeader{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: l.startTime.Unix(),
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// WriteOutput records an output ("o") event.
func (l *CastLogger) WriteOutput(data []byte) error {
	return l.writeEvent("o", data)
}

// WriteInput records an input ("i") event.
func (l *CastLogger) WriteInput(data []byte) error {
	return l.writeEvent("i", data)
}

func (l *CastLogger) writeEvent(eventType string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := CastEvent{
		TimeOffset: time.Since(l.startTime).Seconds(),
		EventType:  eventType,
		Data:       string(data),
	}
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := l.writer.Write(append(eventData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the underlying file, if the logger owns one.
func (l *CastLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
