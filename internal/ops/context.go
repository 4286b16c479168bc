// Package ops runs gpg operations on top of the process engine and the wait
// loop.
package ops

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/events"
	"github.com/smazurov/gpgrun/internal/gpgerr"
	"github.com/smazurov/gpgrun/internal/logging"
	"github.com/smazurov/gpgrun/internal/process"
	"github.com/smazurov/gpgrun/internal/status"
	"github.com/smazurov/gpgrun/internal/wait"
)

// Data is a buffer whose direction the operation assigns.
type Data interface {
	data.Buffer
	SetMode(mode data.Mode)
}

// ProgressFunc receives parsed PROGRESS status lines.
type ProgressFunc func(info status.ProgressInfo)

// Option configures a Context.
type Option func(*Context)

// WithEngineOptions passes options to every engine the context creates.
func WithEngineOptions(opts ...process.Option) Option {
	return func(c *Context) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// WithHomedir runs gpg with --homedir dir.
func WithHomedir(dir string) Option {
	return func(c *Context) {
		if dir != "" {
			c.baseArgs = append(c.baseArgs, "--homedir", dir)
		}
	}
}

// WithArgs adds arguments placed before every operation's own arguments.
func WithArgs(args ...string) Option {
	return func(c *Context) {
		c.baseArgs = append(c.baseArgs, args...)
	}
}

// WithLogger sets the operation logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventBus publishes operation events to bus. Engines created by the
// context publish to it too.
func WithEventBus(bus *events.Bus) Option {
	return func(c *Context) {
		c.bus = bus
		c.engineOpts = append(c.engineOpts, process.WithEventBus(bus))
	}
}

// Context holds the options of gpg operations and runs one at a time.
type Context struct {
	mu         sync.Mutex
	armor      bool
	textmode   bool
	verbosity  int
	baseArgs   []string
	progress   ProgressFunc
	engineOpts []process.Option
	logger     *slog.Logger
	bus        *events.Bus

	wc        *wait.Context
	engine    *process.Engine
	operation string
	pending   bool
	exit      process.ExitStatus
	stderr    []logging.LogEntry
	sign      SignResult
}

// New creates an operation context.
func New(opts ...Option) (*Context, error) {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetLogger("ops")
	}

	wc, err := wait.NewContext(logging.GetLogger("wait"))
	if err != nil {
		return nil, err
	}
	c.wc = wc
	return c, nil
}

// SetArmor selects ASCII armored output.
func (c *Context) SetArmor(yes bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armor = yes
}

// SetTextMode selects canonical text mode.
func (c *Context) SetTextMode(yes bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textmode = yes
}

// SetVerbosity sets how many --verbose flags are passed.
func (c *Context) SetVerbosity(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verbosity = max(n, 0)
}

// SetProgress installs a callback for PROGRESS status lines.
func (c *Context) SetProgress(fn ProgressFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = fn
}

// Pending reports whether an operation is outstanding.
func (c *Context) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Cancel aborts the pending operation. Safe from any goroutine.
func (c *Context) Cancel() {
	c.wc.Cancel()
}

// ExitStatus returns how the child of the last operation terminated.
func (c *Context) ExitStatus() process.ExitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

// Diagnostics returns the last stderr lines of the last operation's child.
func (c *Context) Diagnostics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]string, 0, len(c.stderr))
	for _, entry := range c.stderr {
		lines = append(lines, entry.Message)
	}
	return lines
}

// DiagnosticLog returns the same lines as Diagnostics with their level,
// time and pid.
func (c *Context) DiagnosticLog() []logging.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.stderr)
}

// Close releases the context.
func (c *Context) Close() error {
	c.mu.Lock()
	eng := c.engine
	c.engine = nil
	c.pending = false
	c.mu.Unlock()

	if eng != nil {
		eng.Release()
	}
	return c.wc.Close()
}

// begin marks an operation pending and creates its engine.
func (c *Context) begin(operation string, handler status.Handler) (*process.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending {
		return nil, gpgerr.New(gpgerr.Busy, "operation "+c.operation+" pending")
	}
	if err := c.wc.Reset(); err != nil {
		return nil, err
	}

	eng, err := process.New(c.engineOpts...)
	if err != nil {
		return nil, err
	}
	eng.SetStatusHandler(c.withProgress(handler))
	for _, arg := range c.baseArgs {
		if err := eng.AddArg(arg); err != nil {
			eng.Release()
			return nil, err
		}
	}

	c.engine = eng
	c.operation = operation
	c.pending = true
	c.exit = process.ExitStatus{}
	c.stderr = nil
	c.logger.Debug("Operation started", "operation", operation)
	return eng, nil
}

// abort undoes begin after a failed start. Registrations made before the
// failure are dropped so the wait context can be reset for the next operation.
func (c *Context) abort(eng *process.Engine, err error) {
	eng.Release()
	if c.wc.Pending() {
		_ = c.wc.Abort(err)
	}

	c.mu.Lock()
	c.engine = nil
	c.pending = false
	c.mu.Unlock()
}

// withProgress routes PROGRESS lines to the progress callback before h.
func (c *Context) withProgress(h status.Handler) status.Handler {
	return func(code status.Code, args string) error {
		if code == status.Progress {
			c.mu.Lock()
			fn := c.progress
			c.mu.Unlock()
			if info, ok := status.ParseProgress(args); ok && fn != nil {
				fn(info)
			}
		}
		if h == nil {
			return nil
		}
		return h(code, args)
	}
}

// Wait drives the pending operation to completion, reaps the child and
// releases the engine.
func (c *Context) Wait(ctx context.Context) error {
	c.mu.Lock()
	eng, operation := c.engine, c.operation
	c.mu.Unlock()
	if eng == nil {
		return nil
	}

	err := c.wc.Wait(ctx)
	if err == nil {
		var exit process.ExitStatus
		if exit, err = eng.Wait(ctx); err == nil {
			c.mu.Lock()
			c.exit = exit
			c.mu.Unlock()
		}
	}
	eng.Release()

	c.mu.Lock()
	c.stderr = eng.StderrLog(diagnosticLines)
	c.engine = nil
	c.pending = false
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Operation failed", "operation", operation, "error", err)
	} else {
		c.logger.Debug("Operation finished", "operation", operation)
	}
	c.publishDone(operation, err)
	return err
}

func (c *Context) publishDone(operation string, err error) {
	if c.bus == nil {
		return
	}
	ev := events.OperationDoneEvent{
		Operation: operation,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.bus.Publish(ev)
}

// diagnosticLines is how many stderr lines are kept per operation.
const diagnosticLines = 10
