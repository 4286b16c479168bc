package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/logging"
	"github.com/smazurov/gpgrun/internal/version"
	"github.com/spf13/cobra"
)

// CreateVersionCmd creates the version command.
func CreateVersionCmd(s *Settings) *cobra.Command {
	var (
		engine bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("cli")
			info := version.Get()

			if engine {
				v, err := engineVersion(s)
				if err != nil {
					logger.Warn("Failed to query gpg version", "path", s.GpgPath, "error", err)
				}
				info.Engine = v
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(info); err != nil {
					logger.Error("Failed to encode version", "error", err)
					os.Exit(1)
				}
				return
			}
			fmt.Print(info.Format())
		},
	}

	cmd.Flags().BoolVar(&engine, "engine", false, "Also query the gpg version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func engineVersion(s *Settings) (string, error) {
	c, err := s.newContext()
	if err != nil {
		return "", err
	}
	defer c.Close()

	ctx, cancel := s.context()
	defer cancel()

	out := data.NewEmpty()
	exit, err := c.Run(ctx, []string{"--version"}, nil, out, nil)
	if err != nil {
		return "", err
	}
	if !exit.Success() {
		return "", fmt.Errorf("gpg --version: %s", exit)
	}
	return version.ParseEngineVersion(out.Bytes()), nil
}
