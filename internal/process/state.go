package process

import (
	"fmt"
	"syscall"
)

// State represents the lifecycle state of an engine.
type State string

// Engine states.
const (
	StateCreated  State = "created"  // Collecting arguments
	StateRunning  State = "running"  // Child spawned
	StateExited   State = "exited"   // Child reaped
	StateReleased State = "released" // Torn down
)

// ExitStatus records how a child terminated.
type ExitStatus struct {
	Code   int            // exit code, -1 when killed by a signal
	Signal syscall.Signal // terminating signal, 0 on a normal exit
}

// Signaled reports whether the child was killed by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != 0
}

// Success reports whether the child exited normally with code 0.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == 0
}

func (s ExitStatus) String() string {
	if s.Signaled() {
		return fmt.Sprintf("signal %s", s.Signal)
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Descriptor is one entry of the descriptor map built at spawn time.
type Descriptor struct {
	Name     string // diagnostic name of the parent end
	Inbound  bool   // the engine reads from the child
	ParentFd int    // parent end, -1 once retired
	ChildFd  int    // descriptor number in the child
	DupTo    int    // forced child descriptor, -1 when none
}
