package wait

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/smazurov/gpgrun/internal/fdio"
	"github.com/smazurov/gpgrun/internal/gpgerr"
	"github.com/smazurov/gpgrun/internal/metrics"
)

// entry is one slot of the wait table. A retired slot has a nil file.
type entry struct {
	file     *fdio.File
	handler  Handler
	pid      int
	dir      Direction
	signaled bool
}

// Context is a wait table plus the state of the loop that drives it.
type Context struct {
	mu       sync.Mutex
	entries  []entry
	pending  bool
	finished bool
	err      error
	onDone   func(error)

	canceled atomic.Bool
	wakeR    *fdio.File
	wakeW    *fdio.File

	// poll is unix.Poll; tests replace it to fail.
	poll   func(fds []unix.PollFd, timeout int) (int, error)
	logger *slog.Logger
}

// NewContext creates an empty context.
func NewContext(logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r, w, err := fdio.Pipe("wake")
	if err != nil {
		return nil, gpgerr.Wrap(gpgerr.ResourceExhausted, "failed to create wake pipe", err)
	}
	for _, f := range []*fdio.File{r, w} {
		if err := f.SetNonblock(true); err != nil {
			_ = r.Close()
			_ = w.Close()
			return nil, gpgerr.Wrap(gpgerr.ResourceExhausted, "failed to configure wake pipe", err)
		}
	}
	return &Context{wakeR: r, wakeW: w, poll: unix.Poll, logger: logger}, nil
}

// OnDone installs a callback run exactly once when the context completes or
// fails. The error is nil on completion.
func (c *Context) OnDone(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDone = fn
}

// Register adds a descriptor to the table.
func (c *Context) Register(f *fdio.File, h Handler, pid int, dir Direction) error {
	if f == nil || f.Closed() {
		return gpgerr.New(gpgerr.RegistrationFailed, "descriptor is not open")
	}
	if h == nil {
		return gpgerr.New(gpgerr.RegistrationFailed, "no handler for "+f.Name())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return gpgerr.New(gpgerr.RegistrationFailed, "wait context already finished")
	}
	if c.canceled.Load() {
		return gpgerr.New(gpgerr.RegistrationFailed, "wait context canceled")
	}

	c.entries = append(c.entries, entry{file: f, handler: h, pid: pid, dir: dir})
	c.pending = true
	c.logger.Debug("Registered descriptor",
		"name", f.Name(), "fd", f.Fd(), "kind", h.Kind().String(), "direction", dir.String(), "pid", pid)
	return nil
}

// Pending reports whether registrations are outstanding.
func (c *Context) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Live returns the number of slots that have not been retired.
func (c *Context) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.entries {
		if c.entries[i].file != nil {
			n++
		}
	}
	return n
}

// Err returns the error the context failed with, if any.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Abort closes every registered descriptor and finishes the context with
// err, as a failing handler would. It returns the context's error unchanged
// if the context has already finished.
func (c *Context) Abort(err error) error {
	c.mu.Lock()
	if c.finished {
		prev := c.err
		c.mu.Unlock()
		return prev
	}
	c.mu.Unlock()
	return c.fail(err)
}

// Cancel asks the loop to stop. It is safe to call from any goroutine.
func (c *Context) Cancel() {
	if c.canceled.Swap(true) {
		return
	}
	if _, err := c.wakeW.Write([]byte{1}); err != nil && !errors.Is(err, fdio.ErrWouldBlock) {
		c.logger.Debug("Failed to wake wait loop", "error", err)
	}
}

// Reset clears a finished context for reuse.
func (c *Context) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return gpgerr.New(gpgerr.Busy, "wait context has pending registrations")
	}
	c.entries = nil
	c.finished = false
	c.err = nil
	c.canceled.Store(false)
	c.drainWake()
	return nil
}

// Close closes every live descriptor and the wake pipe.
func (c *Context) Close() error {
	c.mu.Lock()
	c.closeAll()
	c.pending = false
	c.finished = true
	c.mu.Unlock()

	return errors.Join(c.wakeR.Close(), c.wakeW.Close())
}

// Wait drives the loop until every registration is retired or an error
// occurs. Cancelling ctx cancels the context.
func (c *Context) Wait(ctx context.Context) error {
	return c.WaitOn(ctx, nil)
}

// WaitOn drives the loop like Wait, and also returns nil as soon as cond
// holds. cond is checked before every poll.
func (c *Context) WaitOn(ctx context.Context, cond func() bool) error {
	if ctx != nil && ctx.Done() != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				c.Cancel()
			case <-stop:
			}
		}()
	}
	return c.loop(cond)
}

func (c *Context) loop(cond func() bool) error {
	var fds []unix.PollFd
	var slots []int

	for {
		c.mu.Lock()
		if c.finished {
			err := c.err
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()

		if cond != nil && cond() {
			return nil
		}
		if c.canceled.Load() {
			return c.fail(gpgerr.New(gpgerr.Canceled, "operation canceled"))
		}

		fds, slots = c.pollSet(fds[:0], slots[:0])
		if len(slots) == 0 {
			c.complete()
			return nil
		}

		if _, err := c.poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return c.fail(gpgerr.Wrap(gpgerr.IOFailure, "poll failed", err))
		}

		if fds[len(fds)-1].Revents != 0 {
			c.mu.Lock()
			c.drainWake()
			c.mu.Unlock()
		}

		c.mu.Lock()
		for i, slot := range slots {
			if fds[i].Revents != 0 {
				c.entries[slot].signaled = true
			}
		}
		c.mu.Unlock()

		for _, slot := range slots {
			if err := c.dispatch(slot); err != nil {
				return c.fail(err)
			}
			if c.canceled.Load() {
				return c.fail(gpgerr.New(gpgerr.Canceled, "operation canceled"))
			}
		}
	}
}

// pollSet collects the live slots in table order, followed by the wake pipe.
func (c *Context) pollSet(fds []unix.PollFd, slots []int) ([]unix.PollFd, []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		e := &c.entries[i]
		if e.file == nil {
			continue
		}
		fd := e.file.Fd()
		if fd < 0 {
			c.logger.Debug("Retiring closed descriptor", "name", e.file.Name(), "pid", e.pid)
			e.file = nil
			e.handler = nil
			continue
		}
		events := int16(unix.POLLIN)
		if e.dir == Write {
			events = unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		slots = append(slots, i)
	}
	if len(slots) > 0 {
		fds = append(fds, unix.PollFd{Fd: int32(c.wakeR.Fd()), Events: unix.POLLIN})
	}
	return fds, slots
}

func (c *Context) dispatch(slot int) error {
	c.mu.Lock()
	e := &c.entries[slot]
	if e.file == nil || !e.signaled {
		c.mu.Unlock()
		return nil
	}
	e.signaled = false
	h := e.handler
	c.mu.Unlock()

	done, err := h.HandleIO()
	if err != nil {
		if gpgerr.CodeOf(err) == "" {
			err = gpgerr.Wrap(gpgerr.IOFailure, h.Kind().String()+" handler failed", err)
		}
		return err
	}
	if done {
		c.mu.Lock()
		e = &c.entries[slot]
		c.logger.Debug("Retired descriptor", "name", e.file.Name(), "kind", h.Kind().String(), "pid", e.pid)
		e.file = nil
		e.handler = nil
		c.mu.Unlock()
	}
	return nil
}

// fail closes every registered descriptor and finishes the context with err.
func (c *Context) fail(err error) error {
	c.mu.Lock()
	c.closeAll()
	fn := c.finish(err)
	c.mu.Unlock()

	metrics.IncWaitFailures(string(gpgerr.CodeOf(err)))
	c.logger.Warn("Wait loop aborted", "error", err)

	if fn != nil {
		fn(err)
	}
	return err
}

func (c *Context) complete() {
	c.mu.Lock()
	fn := c.finish(nil)
	c.mu.Unlock()

	c.logger.Debug("Wait context complete")
	if fn != nil {
		fn(nil)
	}
}

// finish marks the context finished and returns the callback to run, or nil
// if the context had already finished. Caller holds mu.
func (c *Context) finish(err error) func(error) {
	if c.finished {
		return nil
	}
	c.finished = true
	c.pending = false
	c.err = err
	fn := c.onDone
	c.onDone = nil
	return fn
}

// closeAll closes and retires every live slot. Caller holds mu.
func (c *Context) closeAll() {
	for i := range c.entries {
		e := &c.entries[i]
		if e.file == nil {
			continue
		}
		if err := e.file.Close(); err != nil {
			c.logger.Debug("Close failed", "name", e.file.Name(), "error", err)
		}
		e.file = nil
		e.handler = nil
	}
}

// drainWake empties the wake pipe. Caller holds mu.
func (c *Context) drainWake() {
	var buf [16]byte
	for {
		if _, err := c.wakeR.Read(buf[:]); err != nil {
			return
		}
	}
}
