package process

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/gpgrun/internal/logging"
)

// ParseLogLevel extracts a log level from a gpg diagnostic line such as
// "gpg: WARNING: unsafe permissions on homedir" or
// "gpg: signing failed: No secret key". The "gpg: " prefix is stripped.
func ParseLogLevel(line string) (level, msg string) {
	msg = strings.TrimPrefix(line, toolName+": ")

	switch {
	case hasAnyPrefix(msg, "WARNING: ", "Warning: "):
		return "warning", msg
	case hasAnyPrefix(msg, "Note: ", "NOTE: "):
		return "info", msg
	case hasAnyPrefix(msg, "DBG: "):
		return "debug", msg
	case hasAnyPrefix(msg, "fatal: ", "error", "can't "),
		strings.Contains(msg, " failed: "),
		strings.Contains(msg, ": error "):
		return "error", msg
	}
	return "info", msg
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// stderrWriter logs the child's stderr line by line and keeps the most recent
// lines for error reports.
type stderrWriter struct {
	mu      sync.Mutex
	logger  *slog.Logger
	pid     int
	partial []byte
	tail    *logging.RingBuffer
}

func newStderrWriter(logger *slog.Logger, tailSize int) *stderrWriter {
	return &stderrWriter{
		logger: logger,
		tail:   logging.NewRingBuffer(tailSize),
	}
}

func (w *stderrWriter) setPID(pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pid = pid
}

// Write implements io.Writer.
func (w *stderrWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// flush logs an unterminated last line.
func (w *stderrWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(string(w.partial))
		w.partial = nil
	}
}

// emit logs one line. Caller holds mu.
func (w *stderrWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}

	level, msg := ParseLogLevel(line)
	switch level {
	case "fatal", "error":
		w.logger.Error(msg, "pid", w.pid)
	case "warning":
		w.logger.Warn(msg, "pid", w.pid)
	case "debug":
		w.logger.Debug(msg, "pid", w.pid)
	default:
		w.logger.Info(msg, "pid", w.pid)
	}

	w.tail.Write(logging.LogEntry{
		Timestamp:  time.Now(),
		Level:      level,
		Module:     toolName,
		Message:    msg,
		Attributes: map[string]any{"pid": w.pid},
	})
}
