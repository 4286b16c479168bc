package logging

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// journalIdentifier is the SYSLOG_IDENTIFIER of every entry.
const journalIdentifier = "gpgrun"

// JournalHandler is a slog.Handler that sends records to the systemd journal
// as structured fields.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewJournalHandler creates a new journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle sends the record to the journal.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := journalPriority(r.Level)

	fields := journalFields{
		"PRIORITY":          strconv.Itoa(int(priority)),
		"SYSLOG_IDENTIFIER": journalIdentifier,
	}
	for _, attr := range h.attrs {
		fields.add(h.prefix, attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		fields.add(h.prefix, attr)
		return true
	})

	return journal.Send(r.Message, priority, fields)
}

// WithAttrs returns a new handler with additional attributes.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup returns a new handler whose later attributes are prefixed with
// name.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + strings.ToUpper(name) + "_"
	return &clone
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalFields maps upper-case journal field names to values.
type journalFields map[string]string

func (f journalFields) add(prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := prefix + strings.ToUpper(attr.Key)
	// Child pids use the journal's field for the process a message is about.
	if key == "PID" {
		key = "OBJECT_PID"
	}

	v := attr.Value
	switch v.Kind() {
	case slog.KindGroup:
		for _, a := range v.Group() {
			f.add(key+"_", a)
		}
	case slog.KindInt64:
		f[key] = strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		f[key] = strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		f[key] = strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		f[key] = strconv.FormatBool(v.Bool())
	case slog.KindTime:
		f[key] = v.Time().Format(time.RFC3339Nano)
	default:
		f[key] = v.String()
	}
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
