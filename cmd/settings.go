package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/gpgrun/internal/events"
	"github.com/smazurov/gpgrun/internal/logging"
	"github.com/smazurov/gpgrun/internal/metrics"
	"github.com/smazurov/gpgrun/internal/ops"
	"github.com/smazurov/gpgrun/internal/process"
)

// Settings are the global options every subcommand runs with. main fills
// them once flags, environment and config file are resolved.
type Settings struct {
	GpgPath         string
	GpgHomedir      string
	KillGrace       time.Duration
	MaxArgs         int
	Timeout         time.Duration
	MetricsTextfile string
	Bus             *events.Bus
}

// newContext creates an operation context configured from s.
func (s *Settings) newContext() (*ops.Context, error) {
	opts := []ops.Option{
		ops.WithEngineOptions(
			process.WithPath(s.GpgPath),
			process.WithKillGrace(s.KillGrace),
			process.WithMaxArgs(s.MaxArgs),
		),
		ops.WithHomedir(s.GpgHomedir),
	}
	if s.Bus != nil {
		opts = append(opts, ops.WithEventBus(s.Bus))
	}
	return ops.New(opts...)
}

// context returns a context canceled on SIGINT or SIGTERM and, if a timeout
// is set, when it expires.
func (s *Settings) context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if s.Timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// finish writes the metrics textfile if one is configured.
func (s *Settings) finish(logger *slog.Logger) {
	if s.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(s.MetricsTextfile); err != nil {
		logger.Warn("Failed to write metrics textfile", "path", s.MetricsTextfile, "error", err)
	}
}

// exit reports an operation failure with the child's last diagnostics and
// terminates with status 2.
func (s *Settings) exit(logger *slog.Logger, c *ops.Context, msg string, err error) {
	logger.Error(msg, "error", err)
	for _, entry := range c.DiagnosticLog() {
		fmt.Fprintln(os.Stderr, logging.FormatLogLine(entry))
	}
	s.finish(logger)
	os.Exit(2)
}
