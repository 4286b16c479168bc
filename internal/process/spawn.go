package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/events"
	"github.com/smazurov/gpgrun/internal/fdio"
	"github.com/smazurov/gpgrun/internal/gpgerr"
	"github.com/smazurov/gpgrun/internal/metrics"
	"github.com/smazurov/gpgrun/internal/pump"
	"github.com/smazurov/gpgrun/internal/status"
	"github.com/smazurov/gpgrun/internal/wait"
)

// firstFreeFd is the lowest child descriptor above stdio.
const firstFreeFd = 3

// Spawn starts the child and registers its status and data descriptors with
// wc. No descriptor is created when a data item fails validation.
func (e *Engine) Spawn(wc *wait.Context) error {
	e.mu.Lock()
	started, err := e.spawn(wc)
	e.mu.Unlock()

	if err != nil {
		metrics.IncSpawns(metrics.SpawnFailed)
		if started {
			e.logger.Warn("Killing child after failed registration", "error", err)
			e.terminate()
		}
		return err
	}
	metrics.IncSpawns(metrics.SpawnOK)
	return nil
}

// spawn does the work of Spawn and reports whether a child was started.
// Caller holds mu.
func (e *Engine) spawn(wc *wait.Context) (bool, error) {
	if e.poisoned != nil {
		return false, e.poisoned
	}
	if e.state != StateCreated {
		return false, gpgerr.New(gpgerr.InvalidValue, "engine already "+string(e.state))
	}
	if wc == nil {
		return false, gpgerr.New(gpgerr.RegistrationFailed, "no wait context")
	}

	if err := e.validate(); err != nil {
		return false, err
	}

	bindings, err := e.openPipes()
	if err != nil {
		return false, err
	}
	e.bindings = bindings

	cmd, childFiles := e.command()
	if err := cmd.Start(); err != nil {
		closeFiles(childFiles)
		e.closeParentEnds()
		e.logger.Error("Failed to start process", "error", err, "path", e.path)
		return false, gpgerr.Wrap(gpgerr.ProcessStartFailed, "failed to start "+e.path, err)
	}
	closeFiles(childFiles)

	e.proc, e.pid = cmd.Process, cmd.Process.Pid
	e.state = StateRunning
	e.stderr.setPID(e.pid)
	e.parser.SetHandler(e.dispatcher(e.handler, e.pid))
	metrics.ChildStarted()
	e.logger.Info("Process started", "pid", e.pid, "argv", e.argv)
	if e.bus != nil {
		e.bus.Publish(events.ProcessStartedEvent{
			PID:       e.pid,
			Argv:      e.argv,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	go e.reap(cmd)

	return true, e.register(wc)
}

// validate checks every data item before any descriptor is created.
// Caller holds mu.
func (e *Engine) validate() error {
	forced := make(map[int]bool)
	for i, it := range e.items {
		if !it.isData() {
			continue
		}

		mode, typ := it.buf.Mode(), it.buf.Type()
		switch mode {
		case data.ModeToChild, data.ModeFromChild:
		default:
			return gpgerr.New(gpgerr.InvalidMode,
				fmt.Sprintf("data item %d has mode %s", i, mode))
		}

		switch {
		case typ == data.TypeMem:
		case typ == data.TypeNone && mode == data.ModeFromChild:
		default:
			return gpgerr.New(gpgerr.UnsupportedType,
				fmt.Sprintf("data item %d has type %s for mode %s", i, typ, mode))
		}

		if it.dupTo < -1 {
			return gpgerr.New(gpgerr.InvalidValue,
				fmt.Sprintf("data item %d has invalid descriptor %d", i, it.dupTo))
		}
		if it.dupTo >= 0 {
			if forced[it.dupTo] {
				return gpgerr.New(gpgerr.InvalidValue,
					fmt.Sprintf("descriptor %d bound twice", it.dupTo))
			}
			forced[it.dupTo] = true
		}
	}
	return nil
}

// openPipes builds argv and creates one pipe per data item.
// Caller holds mu.
func (e *Engine) openPipes() ([]*binding, error) {
	argv := []string{toolName, statusFdOption, ""}
	var bindings []*binding

	for i, it := range e.items {
		if !it.isData() {
			argv = append(argv, it.arg)
			continue
		}

		r, w, err := fdio.Pipe(fmt.Sprintf("data%d", i))
		if err != nil {
			for _, b := range bindings {
				_ = b.parent.Close()
				_ = b.child.Close()
			}
			return nil, gpgerr.Wrap(gpgerr.ResourceExhausted, "failed to create data pipe", err)
		}

		b := &binding{buf: it.buf, dupTo: it.dupTo}
		if it.buf.Mode() == data.ModeFromChild {
			b.inbound, b.parent, b.child = true, r, w
		} else {
			b.parent, b.child = w, r
		}
		bindings = append(bindings, b)
	}

	e.statusFd = assignChildFds(bindings)
	argv[2] = strconv.Itoa(e.statusFd)
	e.argv = argv
	return bindings, nil
}

// assignChildFds lays out the child descriptor table: forced targets first,
// then the status pipe, then unforced data items, each on the lowest free
// descriptor >= 3. It returns the status descriptor.
func assignChildFds(bindings []*binding) int {
	used := make(map[int]bool)
	for _, b := range bindings {
		if b.dupTo >= 0 {
			b.childFd = b.dupTo
			used[b.dupTo] = true
		}
	}

	next := firstFreeFd
	lowestFree := func() int {
		for used[next] {
			next++
		}
		used[next] = true
		return next
	}

	statusFd := lowestFree()
	for _, b := range bindings {
		if b.dupTo < 0 {
			b.childFd = lowestFree()
		}
	}
	return statusFd
}

// command builds the exec.Cmd and returns the child ends it passes on, which
// the parent must close once the child has started. Caller holds mu.
func (e *Engine) command() (*exec.Cmd, []*os.File) {
	byFd := map[int]*os.File{e.statusFd: e.statusW.Detach()}
	maxFd := e.statusFd
	for _, b := range e.bindings {
		byFd[b.childFd] = b.child.Detach()
		maxFd = max(maxFd, b.childFd)
	}

	cmd := exec.Command(e.path, e.argv[1:]...)
	cmd.Args = e.argv
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}
	// Unset stdio is /dev/null, except stderr which is logged.
	if f, ok := byFd[0]; ok {
		cmd.Stdin = f
	}
	if f, ok := byFd[1]; ok {
		cmd.Stdout = f
	}
	if f, ok := byFd[2]; ok {
		cmd.Stderr = f
	} else {
		cmd.Stderr = e.stderr
	}
	// Nil entries are closed in the child.
	if maxFd >= firstFreeFd {
		cmd.ExtraFiles = make([]*os.File, maxFd-firstFreeFd+1)
		for fd, f := range byFd {
			if fd >= firstFreeFd {
				cmd.ExtraFiles[fd-firstFreeFd] = f
			}
		}
	}
	cmd.WaitDelay = e.killGrace

	files := make([]*os.File, 0, len(byFd))
	for _, f := range byFd {
		files = append(files, f)
	}
	return cmd, files
}

// register hands the status and data descriptors to wc. Caller holds mu.
func (e *Engine) register(wc *wait.Context) error {
	for _, f := range append([]*fdio.File{e.statusR}, e.parentEnds()...) {
		if err := f.SetNonblock(true); err != nil {
			e.closeParentEnds()
			return gpgerr.Wrap(gpgerr.RegistrationFailed, "failed to configure "+f.Name(), err)
		}
	}

	sc := &statusChannel{file: e.statusR, parser: e.parser}
	if err := wc.Register(e.statusR, sc, e.pid, wait.Read); err != nil {
		e.closeParentEnds()
		return gpgerr.Wrap(gpgerr.RegistrationFailed, "failed to register status descriptor", err)
	}

	for _, b := range e.bindings {
		var h wait.Handler
		dir := wait.Write
		if b.inbound {
			h, dir = pump.NewInbound(b.buf, b.parent, e.logger), wait.Read
		} else {
			h = pump.NewOutbound(b.buf, b.parent, e.logger)
		}
		if err := wc.Register(b.parent, h, e.pid, dir); err != nil {
			e.closeParentEnds()
			return gpgerr.Wrap(gpgerr.RegistrationFailed, "failed to register "+b.parent.Name(), err)
		}
	}
	return nil
}

// dispatcher wraps the caller's status handler with logging, metrics and
// event publication.
func (e *Engine) dispatcher(h status.Handler, pid int) status.Handler {
	return func(code status.Code, args string) error {
		keyword := code.String()
		metrics.IncStatusEvents(keyword)
		e.logger.Debug("Status", "pid", pid, "keyword", keyword, "args", args)
		if e.bus != nil {
			e.bus.Publish(events.StatusEvent{
				PID:       pid,
				Keyword:   keyword,
				Args:      args,
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
		if h == nil {
			return nil
		}
		return h(code, args)
	}
}

// reap waits for the child and records how it terminated.
func (e *Engine) reap(cmd *exec.Cmd) {
	err := cmd.Wait()
	e.stderr.flush()

	exit := exitStatusFromState(cmd.ProcessState)
	if err != nil && cmd.ProcessState == nil {
		e.logger.Error("Process wait failed", "error", err)
		exit = ExitStatus{Code: 1}
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		e.logger.Warn("Child output still open after exit", "pid", cmd.Process.Pid)
	}

	e.mu.Lock()
	e.exit = exit
	e.reaped = true
	if e.state == StateRunning {
		e.state = StateExited
	}
	e.mu.Unlock()

	metrics.ChildExited(exit.Code)
	e.logger.Info("Process exited", "pid", cmd.Process.Pid, "status", exit.String())
	if e.bus != nil {
		ev := events.ProcessExitedEvent{
			PID:       cmd.Process.Pid,
			ExitCode:  exit.Code,
			Timestamp: time.Now().Format(time.RFC3339),
		}
		if exit.Signaled() {
			ev.Signal = exit.Signal.String()
		}
		e.bus.Publish(ev)
	}
	close(e.exited)
}

// exitStatusFromState extracts the exit code and signal of a reaped child.
func exitStatusFromState(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: 1}
	}
	exit := ExitStatus{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		exit.Signal = ws.Signal()
	}
	return exit
}

// parentEnds returns the parent side of every data pipe. Caller holds mu.
func (e *Engine) parentEnds() []*fdio.File {
	files := make([]*fdio.File, 0, len(e.bindings))
	for _, b := range e.bindings {
		files = append(files, b.parent)
	}
	return files
}

// closeParentEnds closes the status pipe and every data pipe end still held
// by the parent. Caller holds mu.
func (e *Engine) closeParentEnds() {
	for _, f := range append([]*fdio.File{e.statusR, e.statusW}, e.parentEnds()...) {
		if err := f.Close(); err != nil {
			e.logger.Debug("Close failed", "name", f.Name(), "error", err)
		}
	}
	for _, b := range e.bindings {
		_ = b.child.Close()
	}
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
