// Package fdio wraps raw pipe descriptors for use with poll(2).
//
// Descriptors handed to the wait loop must never be owned by the Go runtime
// poller, so File talks to the kernel directly through golang.org/x/sys/unix.
// Close is idempotent: once a File is closed its number is forgotten and a
// later Close cannot hit a descriptor that the kernel has reused.
package fdio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Read and Write on a non-blocking descriptor
// that is not ready.
var ErrWouldBlock = errors.New("fdio: operation would block")

// ErrClosed is returned by operations on a closed File.
var ErrClosed = errors.New("fdio: file already closed")

// File is a raw file descriptor.
type File struct {
	mu     sync.Mutex
	fd     int
	name   string
	closed bool
}

// NewFile wraps fd. The File takes ownership of the descriptor.
func NewFile(fd int, name string) *File {
	return &File{fd: fd, name: name}
}

// Pipe creates a close-on-exec pipe. Both ends start in blocking mode.
func Pipe(name string) (r, w *File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("pipe %s: %w", name, err)
	}
	return NewFile(fds[0], name+"[r]"), NewFile(fds[1], name+"[w]"), nil
}

// Fd returns the descriptor number, or -1 once the file is closed.
func (f *File) Fd() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return -1
	}
	return f.fd
}

// Name returns the diagnostic name of the file.
func (f *File) Name() string {
	return f.name
}

// Closed reports whether Close or Detach has been called.
func (f *File) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetNonblock switches the descriptor in or out of non-blocking mode.
func (f *File) SetNonblock(nonblocking bool) error {
	fd := f.Fd()
	if fd < 0 {
		return ErrClosed
	}
	return unix.SetNonblock(fd, nonblocking)
}

// Read performs one read. A zero-byte read is reported as io.EOF.
func (f *File) Read(p []byte) (int, error) {
	fd := f.Fd()
	if fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, &os.PathError{Op: "read", Path: f.name, Err: err}
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write performs one write and reports how many bytes the kernel accepted.
func (f *File) Write(p []byte) (int, error) {
	fd := f.Fd()
	if fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Write(fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, &os.PathError{Op: "write", Path: f.name, Err: err}
		}
		return n, nil
	}
}

// Close closes the descriptor. Calling Close more than once is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return unix.Close(f.fd)
}

// Detach hands the descriptor over to an *os.File, for passing to a child
// process. The File is marked closed without closing the descriptor.
func (f *File) Detach() *os.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return os.NewFile(uintptr(f.fd), f.name)
}
