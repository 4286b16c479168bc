// Package data provides the buffer capability the engine binds to child
// descriptors, and an in-memory implementation of it.
package data

import "sync"

// Mode is the direction a buffer is used in, seen from the child process.
type Mode int

// Buffer modes.
const (
	ModeNone      Mode = iota // not yet assigned
	ModeToChild               // the engine writes the buffer into the child
	ModeFromChild             // the engine fills the buffer from the child
	ModeBoth                  // bidirectional, not supported by the engine
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeToChild:
		return "to-child"
	case ModeFromChild:
		return "from-child"
	case ModeBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Type is the backing storage of a buffer.
type Type int

// Buffer types.
const (
	TypeNone Type = iota // empty, nothing written yet
	TypeMem              // in-memory bytes
	TypeFD               // backed by a caller descriptor
	TypeFile             // backed by a named file
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeMem:
		return "mem"
	case TypeFD:
		return "fd"
	case TypeFile:
		return "file"
	default:
		return "unknown"
	}
}

// Buffer is the capability the engine needs from a data object.
type Buffer interface {
	Mode() Mode
	Type() Type

	// Unread returns the bytes not yet sent to the child.
	Unread() []byte
	// Advance moves the read cursor forward by n bytes.
	Advance(n int)
	// Append stores bytes received from the child.
	Append(p []byte) error
}

// Mem is an in-memory Buffer.
type Mem struct {
	mu      sync.Mutex
	mode    Mode
	data    []byte
	readPos int
	hasData bool
}

// NewMem creates a buffer holding a copy of b.
func NewMem(b []byte) *Mem {
	m := &Mem{data: append([]byte(nil), b...)}
	m.hasData = true
	return m
}

// NewEmpty creates an empty buffer to be used as a sink.
func NewEmpty() *Mem {
	return &Mem{}
}

// Mode implements Buffer.
func (m *Mem) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode sets the direction the buffer is used in.
func (m *Mem) SetMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// Type implements Buffer. An empty sink reports TypeNone until written.
func (m *Mem) Type() Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasData {
		return TypeNone
	}
	return TypeMem
}

// Unread implements Buffer.
func (m *Mem) Unread() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[m.readPos:]
}

// Advance implements Buffer.
func (m *Mem) Advance(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readPos = min(m.readPos+n, len(m.data))
}

// Append implements Buffer.
func (m *Mem) Append(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, p...)
	m.hasData = true
	return nil
}

// Bytes returns a copy of the whole buffer content.
func (m *Mem) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Len returns the total number of bytes held.
func (m *Mem) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Rewind resets the read cursor to the start.
func (m *Mem) Rewind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readPos = 0
}
