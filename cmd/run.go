package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/events"
	"github.com/smazurov/gpgrun/internal/logging"
	"github.com/smazurov/gpgrun/internal/ops"
	"github.com/smazurov/gpgrun/internal/process"
	"github.com/smazurov/gpgrun/internal/status"
	"github.com/spf13/cobra"
)

// CreateRunCmd creates the run command.
func CreateRunCmd(s *Settings) *cobra.Command {
	var noInput bool

	cmd := &cobra.Command{
		Use:   "run -- [gpg args...]",
		Short: "Run gpg with arbitrary arguments",
		Long: `Runs gpg with the given arguments. Standard input is piped to gpg, its standard output ` +
			`is copied to standard output and every status line is printed to standard error. ` +
			`gpgrun exits with gpg's exit code.`,
		Run: func(_ *cobra.Command, args []string) {
			logger := logging.GetLogger("cli")

			var in *data.Mem
			if !noInput {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					logger.Error("Failed to read stdin", "error", err)
					os.Exit(1)
				}
				in = data.NewMem(b)
			}

			if s.Bus != nil {
				lifecycle := make(chan any, 8)
				defer events.SubscribeToChannel[events.ProcessStartedEvent](s.Bus, lifecycle)()
				defer events.SubscribeToChannel[events.ProcessExitedEvent](s.Bus, lifecycle)()
				go logLifecycle(lifecycle)
			}

			c, err := s.newContext()
			if err != nil {
				logger.Error("Failed to create operation context", "error", err)
				os.Exit(1)
			}
			defer c.Close()

			ctx, cancel := s.context()
			defer cancel()

			out := data.NewEmpty()
			var input ops.Data
			if in != nil && in.Type() != data.TypeNone {
				input = in
			}
			exit, err := c.Run(ctx, args, input, out, printStatus)
			if err != nil {
				s.exit(logger, c, "gpg run failed", err)
			}

			if _, err := os.Stdout.Write(out.Bytes()); err != nil {
				logger.Error("Failed to write output", "error", err)
				os.Exit(1)
			}
			s.finish(logger)

			if code := exitCode(exit); code != 0 {
				os.Exit(code)
			}
		},
	}

	cmd.Flags().BoolVar(&noInput, "no-input", false, "Do not pipe standard input to gpg")
	return cmd
}

func printStatus(code status.Code, args string) error {
	if code == status.EOF {
		return nil
	}
	if args == "" {
		_, err := fmt.Fprintf(os.Stderr, "[GNUPG:] %s\n", code)
		return err
	}
	_, err := fmt.Fprintf(os.Stderr, "[GNUPG:] %s %s\n", code, args)
	return err
}

func logLifecycle(ch <-chan any) {
	logger := logging.GetLogger("cli")
	for ev := range ch {
		switch e := ev.(type) {
		case events.ProcessStartedEvent:
			logger.Debug("gpg started", "pid", e.PID, "argv", e.Argv)
		case events.ProcessExitedEvent:
			logger.Debug("gpg exited", "pid", e.PID, "code", e.ExitCode, "signal", e.Signal)
		}
	}
}

// exitCode maps a child exit status to gpgrun's own, using the shell
// convention for signals.
func exitCode(exit process.ExitStatus) int {
	if exit.Signaled() {
		return 128 + int(exit.Signal)
	}
	return exit.Code
}
