// Package pump moves bytes between a data buffer and one pipe endpoint, one
// non-blocking step per readiness notification.
package pump

import (
	"errors"
	"io"
	"log/slog"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/fdio"
	"github.com/smazurov/gpgrun/internal/metrics"
	"github.com/smazurov/gpgrun/internal/wait"
)

// scratchSize is the read window of an inbound pump.
const scratchSize = 200

// Endpoint is the parent side of a data pipe.
type Endpoint interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Outbound writes a buffer into the child.
type Outbound struct {
	buf    data.Buffer
	ep     Endpoint
	logger *slog.Logger
	total  int
}

// NewOutbound creates a pump that writes buf to ep.
func NewOutbound(buf data.Buffer, ep Endpoint, logger *slog.Logger) *Outbound {
	return &Outbound{buf: buf, ep: ep, logger: logger}
}

// Kind implements wait.Handler.
func (o *Outbound) Kind() wait.Kind { return wait.KindOutbound }

// Written returns the number of bytes written so far.
func (o *Outbound) Written() int { return o.total }

// HandleIO implements wait.Handler.
func (o *Outbound) HandleIO() (bool, error) {
	remaining := o.buf.Unread()
	if len(remaining) == 0 {
		o.retire()
		return true, nil
	}

	n, err := o.ep.Write(remaining)
	if errors.Is(err, fdio.ErrWouldBlock) {
		return false, nil
	}
	if err != nil || n < 1 {
		// A short or failed write ends the stream; the child sees EOF.
		o.logger.Warn("Write to child failed, closing pipe", "written", o.total, "remaining", len(remaining), "error", err)
		o.retire()
		return true, nil
	}

	o.buf.Advance(n)
	o.total += n
	metrics.AddPumpedBytes(metrics.DirectionToChild, n)
	return false, nil
}

func (o *Outbound) retire() {
	if err := o.ep.Close(); err != nil {
		o.logger.Debug("Close after write failed", "error", err)
	}
}

// Inbound reads from the child into a buffer.
type Inbound struct {
	buf     data.Buffer
	ep      Endpoint
	logger  *slog.Logger
	scratch [scratchSize]byte
	total   int
}

// NewInbound creates a pump that appends bytes read from ep to buf.
func NewInbound(buf data.Buffer, ep Endpoint, logger *slog.Logger) *Inbound {
	return &Inbound{buf: buf, ep: ep, logger: logger}
}

// Kind implements wait.Handler.
func (in *Inbound) Kind() wait.Kind { return wait.KindInbound }

// Received returns the number of bytes read so far.
func (in *Inbound) Received() int { return in.total }

// HandleIO implements wait.Handler.
func (in *Inbound) HandleIO() (bool, error) {
	n, err := in.ep.Read(in.scratch[:])
	if n > 0 {
		if appendErr := in.buf.Append(in.scratch[:n]); appendErr != nil {
			in.retire()
			return true, appendErr
		}
		in.total += n
		metrics.AddPumpedBytes(metrics.DirectionFromChild, n)
	}

	switch {
	case errors.Is(err, fdio.ErrWouldBlock):
		return false, nil
	case errors.Is(err, io.EOF):
		in.retire()
		return true, nil
	case err != nil:
		in.logger.Warn("Read from child failed, closing pipe", "received", in.total, "error", err)
		in.retire()
		return true, nil
	case n == 0:
		in.retire()
		return true, nil
	}
	return false, nil
}

func (in *Inbound) retire() {
	if err := in.ep.Close(); err != nil {
		in.logger.Debug("Close after read failed", "error", err)
	}
}
