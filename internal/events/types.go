package events

// Event type constants for kelindar/event.
const (
	TypeProcessStarted uint32 = iota + 1
	TypeProcessExited
	TypeStatus
	TypeOperationDone
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ProcessStartedEvent is published once a child has been spawned.
type ProcessStartedEvent struct {
	PID       int      `json:"pid"`
	Argv      []string `json:"argv"`
	Timestamp string   `json:"timestamp"`
}

// Type returns the event type identifier for ProcessStartedEvent.
func (e ProcessStartedEvent) Type() uint32 { return TypeProcessStarted }

// ProcessExitedEvent is published when a child has been reaped.
type ProcessExitedEvent struct {
	PID       int    `json:"pid"`
	ExitCode  int    `json:"exit_code"`
	Signal    string `json:"signal,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for ProcessExitedEvent.
func (e ProcessExitedEvent) Type() uint32 { return TypeProcessExited }

// StatusEvent carries one status line dispatched from a child.
type StatusEvent struct {
	PID       int    `json:"pid"`
	Keyword   string `json:"keyword"`
	Args      string `json:"args"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StatusEvent.
func (e StatusEvent) Type() uint32 { return TypeStatus }

// OperationDoneEvent is published when an operation finishes.
type OperationDoneEvent struct {
	Operation string `json:"operation"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for OperationDoneEvent.
func (e OperationDoneEvent) Type() uint32 { return TypeOperationDone }
