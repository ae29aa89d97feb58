// Package buffer holds the bounded scrollback kept for each terminal session.
package buffer

import (
	"sync"
	"unicode/utf8"
)

// RingBuffer keeps the most recent bytes written to it, up to a fixed
// capacity. It is safe for concurrent use.
type RingBuffer struct {
	mu    sync.RWMutex
	buf   []byte
	start int
	size  int
	total int64
}

// NewRingBuffer creates a RingBuffer holding at most capacity bytes.
// A capacity below 1 is raised to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest bytes once the buffer is full.
// It never fails.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.total += int64(len(p))
	c := len(rb.buf)
	if len(p) >= c {
		copy(rb.buf, p[len(p)-c:])
		rb.start = 0
		rb.size = c
		return len(p), nil
	}

	end := (rb.start + rb.size) % c
	n := copy(rb.buf[end:], p)
	copy(rb.buf, p[n:])

	rb.size += len(p)
	if rb.size > c {
		rb.start = (rb.start + rb.size - c) % c
		rb.size = c
	}
	return len(p), nil
}

// WriteString appends s.
func (rb *RingBuffer) WriteString(s string) (int, error) {
	return rb.Write([]byte(s))
}

// Bytes returns a copy of the retained bytes, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return nil
	}
	out := make([]byte, rb.size)
	n := copy(out, rb.buf[rb.start:min(rb.start+rb.size, len(rb.buf))])
	copy(out[n:], rb.buf[:rb.size-n])
	return out
}

// String returns the retained text. Continuation bytes left at the front by
// an overwritten multi-byte character are skipped.
func (rb *RingBuffer) String() string {
	b := rb.Bytes()
	for len(b) > 0 && !utf8.RuneStart(b[0]) {
		b = b[1:]
	}
	return string(b)
}

// Reset discards all retained bytes.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.start = 0
	rb.size = 0
}

// Len returns the number of retained bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Cap returns the capacity.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}

// Total returns the number of bytes ever written, including overwritten ones.
func (rb *RingBuffer) Total() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}
