// Package buffer provides the ring buffer used to cache instance output.
package buffer

import (
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer that retains the most
// recent data up to a fixed capacity. When the buffer is full, oldest data
// is discarded to make room for new data.
//
// Each instance owns one ring buffer so that a newly attached consumer can
// replay recent terminal output before the live stream.
type RingBuffer struct {
	data     []byte
	capacity int
	mu       sync.RWMutex
}

// NewRingBuffer creates a new RingBuffer with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write appends data to the buffer, discarding the oldest bytes once the
// total exceeds capacity. Implements io.Writer and never fails.
func (rb *RingBuffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Incoming chunk alone exceeds capacity: keep only its tail.
	if len(p) >= rb.capacity {
		rb.data = make([]byte, rb.capacity)
		copy(rb.data, p[len(p)-rb.capacity:])
		return len(p), nil
	}

	newLen := len(rb.data) + len(p)
	if newLen <= rb.capacity {
		rb.data = append(rb.data, p...)
	} else {
		discard := newLen - rb.capacity
		newData := make([]byte, rb.capacity)
		copy(newData, rb.data[discard:])
		copy(newData[len(rb.data)-discard:], p)
		rb.data = newData
	}

	return len(p), nil
}

// Snapshot returns a copy of the current contents, oldest to newest.
// It is non-destructive and repeatable.
func (rb *RingBuffer) Snapshot() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if len(rb.data) == 0 {
		return nil
	}

	result := make([]byte, len(rb.data))
	copy(result, rb.data)
	return result
}

// Clear removes all data from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = rb.data[:0]
}

// Len returns the current number of bytes in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return len(rb.data)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}
