package process

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/events"
	"github.com/smazurov/gpgrun/internal/fdio"
	"github.com/smazurov/gpgrun/internal/gpgerr"
	"github.com/smazurov/gpgrun/internal/logging"
	"github.com/smazurov/gpgrun/internal/status"
)

const (
	toolName       = "gpg"
	statusFdOption = "--status-fd"

	stderrTailSize = 64
)

// item is one entry of the argument list: a literal argument, or a buffer
// bound to a child descriptor.
type item struct {
	arg   string
	buf   data.Buffer
	dupTo int
}

func (it item) isData() bool {
	return it.buf != nil
}

// binding is the spawn-time state of one data item.
type binding struct {
	buf     data.Buffer
	inbound bool
	parent  *fdio.File
	child   *fdio.File
	childFd int
	dupTo   int
}

// Engine drives one gpg child process.
type Engine struct {
	mu          sync.Mutex
	path        string
	env         []string
	logger      *slog.Logger
	childLogger *slog.Logger
	killGrace   time.Duration
	maxArgs     int
	bus         *events.Bus

	items    []item
	poisoned error
	handler  status.Handler

	statusR  *fdio.File
	statusW  *fdio.File
	parser   *status.Parser
	statusFd int

	argv     []string
	bindings []*binding
	stderr   *stderrWriter
	proc     *os.Process
	pid      int
	state    State
	exit     ExitStatus
	exited   chan struct{}
	reaped   bool
}

// New creates an engine with an empty argument list and a fresh status pipe.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		path:      DefaultPath,
		killGrace: DefaultKillGrace,
		maxArgs:   DefaultMaxArgs,
		state:     StateCreated,
		exited:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.GetLogger("engine")
	}
	if e.childLogger == nil {
		e.childLogger = logging.GetLogger("gpg")
	}

	r, w, err := fdio.Pipe("status")
	if err != nil {
		return nil, gpgerr.Wrap(gpgerr.ResourceExhausted, "failed to create status pipe", err)
	}
	e.statusR, e.statusW = r, w
	e.parser = status.NewParser(nil)
	e.stderr = newStderrWriter(e.childLogger, stderrTailSize)
	return e, nil
}

// AddArg appends a literal argument.
//
// Once an argument cannot be accepted the engine is poisoned: this and every
// later addition fail with RESOURCE_EXHAUSTED, and so does Spawn.
func (e *Engine) AddArg(arg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.addable(); err != nil {
		return err
	}
	if strings.IndexByte(arg, 0) >= 0 {
		return e.poison("argument contains a NUL byte")
	}
	e.items = append(e.items, item{arg: arg, dupTo: -1})
	return nil
}

// AddData appends a buffer bound to a child descriptor. dupTo forces the
// child-side descriptor number; -1 lets the engine pick one. The direction is
// taken from buf.Mode() at spawn time.
func (e *Engine) AddData(buf data.Buffer, dupTo int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.addable(); err != nil {
		return err
	}
	if buf == nil {
		return e.poison("nil data buffer")
	}
	e.items = append(e.items, item{buf: buf, dupTo: dupTo})
	return nil
}

// addable checks that another item may be added. Caller holds mu.
func (e *Engine) addable() error {
	if e.poisoned != nil {
		return e.poisoned
	}
	if e.state != StateCreated {
		return gpgerr.New(gpgerr.InvalidValue, "engine already "+string(e.state))
	}
	if len(e.items) >= e.maxArgs {
		return e.poison("argument limit reached")
	}
	return nil
}

// poison records a deferred failure. Caller holds mu.
func (e *Engine) poison(reason string) error {
	e.poisoned = gpgerr.New(gpgerr.ResourceExhausted, reason)
	e.logger.Debug("Engine poisoned", "reason", reason)
	return e.poisoned
}

// SetStatusHandler installs the handler for status events and the EOF
// pseudo-event. It must be called before Spawn.
func (e *Engine) SetStatusHandler(h status.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Argv returns the argument vector built by Spawn.
func (e *Engine) Argv() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.argv)
}

// Descriptors returns the descriptor map built by Spawn.
func (e *Engine) Descriptors() []Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Descriptor, 0, len(e.bindings))
	for _, b := range e.bindings {
		out = append(out, Descriptor{
			Name:     b.parent.Name(),
			Inbound:  b.inbound,
			ParentFd: b.parent.Fd(),
			ChildFd:  b.childFd,
			DupTo:    b.dupTo,
		})
	}
	return out
}

// StatusFd returns the child-side number of the status pipe, or -1 before
// Spawn.
func (e *Engine) StatusFd() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.argv == nil {
		return -1
	}
	return e.statusFd
}

// PID returns the child's process id, or 0 before Spawn.
func (e *Engine) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pid
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ExitStatus returns how the child terminated. It is only meaningful once
// Done is closed.
func (e *Engine) ExitStatus() ExitStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exit
}

// Done is closed once the child has been reaped.
func (e *Engine) Done() <-chan struct{} {
	return e.exited
}

// Wait blocks until the child has been reaped or ctx is done.
func (e *Engine) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-e.exited:
		return e.ExitStatus(), nil
	case <-ctx.Done():
		return ExitStatus{}, gpgerr.Wrap(gpgerr.Canceled, "wait for child", ctx.Err())
	}
}

// StderrLog returns up to n of the most recent stderr lines as log entries,
// with the level gpg's prefix implied.
func (e *Engine) StderrLog(n int) []logging.LogEntry {
	return e.stderr.tail.Tail(n)
}

// StderrTail returns up to n of the most recent lines the child wrote to
// stderr.
func (e *Engine) StderrTail(n int) []string {
	entries := e.StderrLog(n)
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, entry.Message)
	}
	return lines
}
