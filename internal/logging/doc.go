// Package logging provides structured logging with per-module log levels.
//
// Records go to stderr, never stdout, which carries gpg's data. When the
// systemd journal is reachable they are also sent there as structured
// fields, with SYSLOG_IDENTIFIER=gpgrun and child pids under OBJECT_PID:
//
//	journalctl -t gpgrun MODULE=engine
//	journalctl -t gpgrun OBJECT_PID=1234
//
// Initialize once at startup, then get a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:   "warn",
//		Format:  "text",
//		Modules: map[string]string{"engine": "debug"},
//	})
//	logger := logging.GetLogger("engine")
//
// Loggers obtained before Initialize pick up the new levels and format. The
// modules used by gpgrun are engine, gpg (the child's own stderr), wait, ops
// and cli. In TOML every key of the [logging] table other than level and
// format names a module:
//
//	[logging]
//	level = "warn"
//	engine = "debug"
package logging
