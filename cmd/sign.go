package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/logging"
	"github.com/smazurov/gpgrun/internal/status"
	"github.com/spf13/cobra"
)

// CreateSignCmd creates the sign command.
func CreateSignCmd(s *Settings) *cobra.Command {
	var (
		armor    bool
		textmode bool
		verbose  int
		output   string
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Create a detached signature",
		Long: `Signs file, or standard input when no file is given, with the default secret key ` +
			`and writes the detached signature to standard output or --output.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logger := logging.GetLogger("cli")

			in, err := readInput(args)
			if err != nil {
				logger.Error("Failed to read input", "error", err)
				os.Exit(1)
			}

			c, err := s.newContext()
			if err != nil {
				logger.Error("Failed to create operation context", "error", err)
				os.Exit(1)
			}
			defer c.Close()

			c.SetArmor(armor)
			c.SetTextMode(textmode)
			c.SetVerbosity(verbose)
			if progress {
				c.SetProgress(func(info status.ProgressInfo) {
					fmt.Fprintf(os.Stderr, "%s: %d/%d\n", info.What, info.Current, info.Total)
				})
			}

			ctx, cancel := s.context()
			defer cancel()

			sig := data.NewEmpty()
			if err := c.Sign(ctx, data.NewMem(in), sig); err != nil {
				s.exit(logger, c, "Signing failed", err)
			}
			logger.Debug("Signature created", "created", c.SignResult().Created, "bytes", sig.Len())

			if err := writeOutput(output, sig.Bytes()); err != nil {
				logger.Error("Failed to write signature", "error", err)
				os.Exit(1)
			}
			s.finish(logger)
		},
	}

	cmd.Flags().BoolVarP(&armor, "armor", "a", false, "Create ASCII armored output")
	cmd.Flags().BoolVarP(&textmode, "textmode", "t", false, "Sign in canonical text mode")
	cmd.Flags().CountVarP(&verbose, "verbose", "v", "Pass --verbose to gpg, repeatable")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the signature to this file")
	cmd.Flags().BoolVar(&progress, "progress", false, "Print gpg progress to stderr")
	return cmd
}

// readInput reads the named file, or stdin when args is empty or "-".
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func writeOutput(path string, b []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
