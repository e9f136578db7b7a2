package journal

import (
	"context"
	"sync"
)

// Memory is a fixed-capacity in-memory journal. Once full, the oldest entry is
// overwritten.
type Memory struct {
	mu     sync.Mutex
	buf    []Entry
	next   int
	size   int
	closed bool
}

// Compile-time interface assertion.
var _ Journal = (*Memory)(nil)

// NewMemory creates a ring holding up to capacity entries. A non-positive
// capacity uses DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{buf: make([]Entry, capacity)}
}

// Record implements Journal.
func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.buf[m.next] = e
	m.next = (m.next + 1) % len(m.buf)
	if m.size < len(m.buf) {
		m.size++
	}
	return nil
}

// Recent implements Journal.
func (m *Memory) Recent(_ context.Context, n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	n = min(max(n, 0), m.size)
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out, nil
}

// Ping implements Journal.
func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Journal.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
