package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/orchestra/internal/version"
)

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, git commit, build date, Go version and platform.
Use -o json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.render(cmd, version.Get())
		},
	}
}
