package main

import (
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/gpgrun/cmd"
	"github.com/smazurov/gpgrun/internal/config"
	"github.com/smazurov/gpgrun/internal/events"
	"github.com/smazurov/gpgrun/internal/logging"
	"github.com/smazurov/gpgrun/internal/process"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:""`

	// gpg settings
	GpgPath    string `help:"gpg executable, looked up in PATH if bare" default:"gpg" toml:"gpg.path" env:"GPG_PATH"`
	GpgHomedir string `help:"gpg home directory, passed as --homedir" default:"" toml:"gpg.homedir" env:"GPG_HOMEDIR"`

	// Engine settings
	EngineKillGrace string `help:"Time between SIGTERM and SIGKILL on release" default:"2s" toml:"engine.kill_grace" env:"ENGINE_KILL_GRACE"`
	EngineMaxArgs   int    `help:"Maximum number of gpg arguments and data items" default:"4096" toml:"engine.max_args" env:"ENGINE_MAX_ARGS"`
	EngineTimeout   string `help:"Abort an operation after this long, 0 for no limit" default:"0" toml:"engine.timeout" env:"ENGINE_TIMEOUT"`

	// Metrics settings
	MetricsTextfile string `help:"Write Prometheus metrics to this textfile on exit" default:"" toml:"metrics.textfile" env:"METRICS_TEXTFILE"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"warn" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingEngine string `help:"Process engine logging level" default:"" toml:"logging.engine" env:"LOGGING_ENGINE"`
	LoggingGpg    string `help:"Level for gpg's own stderr lines" default:"" toml:"logging.gpg" env:"LOGGING_GPG"`
	LoggingWait   string `help:"Wait loop logging level" default:"" toml:"logging.wait" env:"LOGGING_WAIT"`
	LoggingOps    string `help:"Operations logging level" default:"" toml:"logging.ops" env:"LOGGING_OPS"`
	LoggingCli    string `help:"Command line logging level" default:"" toml:"logging.cli" env:"LOGGING_CLI"`
}

func main() {
	settings := &cmd.Settings{}

	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		loadErr := config.LoadConfig(opts, cli.Root())

		loggingConfig := logging.Config{
			Level:   opts.LoggingLevel,
			Format:  opts.LoggingFormat,
			Modules: map[string]string{},
		}
		for module, level := range map[string]string{
			"engine": opts.LoggingEngine,
			"gpg":    opts.LoggingGpg,
			"wait":   opts.LoggingWait,
			"ops":    opts.LoggingOps,
			"cli":    opts.LoggingCli,
		} {
			if level != "" {
				loggingConfig.Modules[module] = level
			}
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")
		if loadErr != nil {
			logger.Warn("Failed to load config", "error", loadErr)
		}

		settings.GpgPath = opts.GpgPath
		settings.GpgHomedir = opts.GpgHomedir
		settings.MaxArgs = opts.EngineMaxArgs
		settings.MetricsTextfile = opts.MetricsTextfile
		settings.KillGrace = parseDuration(logger, "engine.kill_grace", opts.EngineKillGrace, process.DefaultKillGrace)
		settings.Timeout = parseDuration(logger, "engine.timeout", opts.EngineTimeout, 0)
		settings.Bus = events.New()

		hooks.OnStart(func() {
			_ = cli.Root().Help()
		})
	})

	cli.Root().Use = "gpgrun"
	cli.Root().Short = "Run gpg as a supervised subprocess"
	cli.Root().AddCommand(cmd.CreateSignCmd(settings))
	cli.Root().AddCommand(cmd.CreateRunCmd(settings))
	cli.Root().AddCommand(cmd.CreateVersionCmd(settings))

	// Run the CLI
	cli.Run()
}

func parseDuration(logger *slog.Logger, key, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return d
}
