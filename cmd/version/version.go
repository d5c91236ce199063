package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecoscout/ecoscout-go/internal/buildinfo"
)

// Command prints build metadata.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			build := buildinfo.Current()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "EcoScout %s (built %s)\n", build.Version(), build.BuildDate())
			return err
		},
	}
}
