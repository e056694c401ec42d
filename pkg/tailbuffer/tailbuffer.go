package tailbuffer

import (
	"io"
	"sync"
)

// TailBuffer retains the last capacity bytes written to it. It is used to keep
// the tail of inference engine output around for crash reporting without
// buffering the full stream.
type TailBuffer struct {
	mu       sync.Mutex
	capacity int
	buf      []byte
}

var _ io.ReadWriter = (*TailBuffer)(nil)

// New creates a TailBuffer holding at most capacity bytes.
func New(capacity int) *TailBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &TailBuffer{capacity: capacity}
}

// Write appends p, discarding the oldest bytes once capacity is exceeded. It
// never fails and always reports len(p) written.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.capacity {
		t.buf = append(t.buf[:0], p[len(p)-t.capacity:]...)
		return len(p), nil
	}
	t.buf = append(t.buf, p...)
	if excess := len(t.buf) - t.capacity; excess > 0 {
		n := copy(t.buf, t.buf[excess:])
		t.buf = t.buf[:n]
	}
	return len(p), nil
}

// Read drains buffered bytes into p, oldest first. It returns io.EOF when the
// buffer is empty.
func (t *TailBuffer) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, t.buf)
	rest := copy(t.buf, t.buf[n:])
	t.buf = t.buf[:rest]
	return n, nil
}

// String returns the current tail without draining it.
func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
