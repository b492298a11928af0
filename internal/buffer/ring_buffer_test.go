package buffer

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewRingBuffer(t *testing.T) {
	rb := NewRingBuffer(100)
	if rb.Cap() != 100 {
		t.Errorf("expected capacity 100, got %d", rb.Cap())
	}
	if rb.Len() != 0 {
		t.Errorf("expected length 0, got %d", rb.Len())
	}

	// Zero and negative capacities default to 1.
	if rb := NewRingBuffer(0); rb.Cap() != 1 {
		t.Errorf("expected capacity 1 for zero input, got %d", rb.Cap())
	}
	if rb := NewRingBuffer(-5); rb.Cap() != 1 {
		t.Errorf("expected capacity 1 for negative input, got %d", rb.Cap())
	}
}

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(10)

	n, err := rb.Write([]byte("hello"))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected n=5, got %d", n)
	}

	rb.Write([]byte("world"))
	if rb.Len() != 10 {
		t.Errorf("expected length 10, got %d", rb.Len())
	}

	data := rb.Snapshot()
	if !bytes.Equal(data, []byte("helloworld")) {
		t.Errorf("expected 'helloworld', got '%s'", string(data))
	}
}

func TestRingBuffer_WriteOverflow(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Write([]byte("0123456789"))
	rb.Write([]byte("abc"))

	data := rb.Snapshot()
	if !bytes.Equal(data, []byte("3456789abc")) {
		t.Errorf("expected '3456789abc', got '%s'", string(data))
	}
	if rb.Len() != 10 {
		t.Errorf("expected length 10, got %d", rb.Len())
	}
}

func TestRingBuffer_WriteLargerThanCapacity(t *testing.T) {
	rb := NewRingBuffer(5)

	n, err := rb.Write([]byte("0123456789"))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 10 {
		t.Errorf("expected n=10, got %d", n)
	}

	data := rb.Snapshot()
	if !bytes.Equal(data, []byte("56789")) {
		t.Errorf("expected '56789', got '%s'", string(data))
	}
}

func TestRingBuffer_WriteEmpty(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte("hello"))

	n, err := rb.Write([]byte{})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected n=0, got %d", n)
	}

	data := rb.Snapshot()
	if !bytes.Equal(data, []byte("hello")) {
		t.Errorf("expected 'hello', got '%s'", string(data))
	}
}

func TestRingBuffer_Snapshot(t *testing.T) {
	rb := NewRingBuffer(10)

	if data := rb.Snapshot(); data != nil {
		t.Errorf("expected nil for empty buffer, got %v", data)
	}

	rb.Write([]byte("test"))
	data := rb.Snapshot()
	if !bytes.Equal(data, []byte("test")) {
		t.Errorf("expected 'test', got '%s'", string(data))
	}

	// Snapshot returns a copy: mutating it must not affect the buffer,
	// and a second snapshot must return the same contents.
	data[0] = 'X'
	data2 := rb.Snapshot()
	if !bytes.Equal(data2, []byte("test")) {
		t.Errorf("Snapshot should return a copy, got '%s'", string(data2))
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte("hello"))

	rb.Clear()

	if rb.Len() != 0 {
		t.Errorf("expected length 0 after clear, got %d", rb.Len())
	}

	rb.Write([]byte("world"))
	if data := rb.Snapshot(); !bytes.Equal(data, []byte("world")) {
		t.Errorf("expected 'world', got '%s'", string(data))
	}
}

// After pushing chunks totaling more than the capacity, the snapshot equals
// exactly the last C bytes pushed, in arrival order.
func TestRingBufferRetentionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot equals the tail of everything written", prop.ForAll(
		func(capacity int, chunks [][]byte) bool {
			rb := NewRingBuffer(capacity)
			var all []byte
			for _, chunk := range chunks {
				rb.Write(chunk)
				all = append(all, chunk...)
			}

			want := all
			if len(all) > capacity {
				want = all[len(all)-capacity:]
			}
			got := rb.Snapshot()
			if len(want) == 0 {
				return len(got) == 0
			}
			return bytes.Equal(got, want)
		},
		gen.IntRange(1, 64),
		gen.SliceOf(gen.SliceOf(gen.UInt8Range(0, 255))),
	))

	properties.TestingRun(t)
}
