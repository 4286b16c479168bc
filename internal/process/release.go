package process

import (
	"errors"
	"os"
	"syscall"
	"time"
)

// Release tears the engine down. It closes every descriptor the engine still
// holds and, if the child is running, sends SIGTERM, waits the kill grace
// period, then sends SIGKILL. Release is safe on an engine in any state and
// may be called more than once.
func (e *Engine) Release() {
	e.mu.Lock()
	if e.state == StateReleased {
		e.mu.Unlock()
		return
	}
	running := e.state == StateRunning && !e.reaped
	e.state = StateReleased
	e.closeParentEnds()
	e.items = nil
	e.argv = nil
	e.bindings = nil
	e.mu.Unlock()

	if running {
		e.terminate()
	}
}

// terminate stops the child, escalating to SIGKILL after the grace period.
func (e *Engine) terminate() {
	e.mu.Lock()
	proc, pid := e.proc, e.pid
	e.mu.Unlock()
	if proc == nil {
		return
	}

	select {
	case <-e.exited:
		return
	default:
	}

	e.signal(proc, syscall.SIGTERM)
	select {
	case <-e.exited:
		return
	case <-time.After(e.killGrace):
		e.logger.Warn("Graceful shutdown timeout, forcing kill", "pid", pid, "timeout", e.killGrace)
	}

	e.signal(proc, syscall.SIGKILL)
	// Bounded so a stuck reaper cannot hang teardown.
	select {
	case <-e.exited:
	case <-time.After(e.killGrace):
		e.logger.Error("Process did not exit after kill signal", "pid", pid)
	}
}

// signal goes through the os.Process handle, which refuses to signal a child
// that has already been reaped.
func (e *Engine) signal(proc *os.Process, sig syscall.Signal) {
	pid := proc.Pid
	e.logger.Debug("Sending signal to process", "pid", pid, "signal", sig.String())
	if err := proc.Signal(sig); err != nil {
		// The child may exit between the check and the signal.
		if !errors.Is(err, os.ErrProcessDone) {
			e.logger.Warn("Failed to signal process", "pid", pid, "signal", sig.String(), "error", err)
		}
	}
}
