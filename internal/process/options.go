package process

import (
	"log/slog"
	"time"

	"github.com/smazurov/gpgrun/internal/events"
)

// Defaults applied by New.
const (
	DefaultPath      = "gpg"
	DefaultKillGrace = 2 * time.Second
	DefaultMaxArgs   = 4096
)

// Option configures an Engine.
type Option func(*Engine)

// WithPath sets the gpg executable. A bare name is looked up in PATH.
func WithPath(path string) Option {
	return func(e *Engine) {
		if path != "" {
			e.path = path
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithChildLogger sets the logger that receives the child's stderr lines.
func WithChildLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.childLogger = logger
		}
	}
}

// WithKillGrace sets how long Release waits after SIGTERM before SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.killGrace = d
		}
	}
}

// WithMaxArgs limits the number of arguments and data items.
func WithMaxArgs(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxArgs = n
		}
	}
}

// WithEventBus publishes process and status events to bus.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithEnv sets extra environment variables for the child, in KEY=value form.
func WithEnv(env ...string) Option {
	return func(e *Engine) {
		e.env = append(e.env, env...)
	}
}
