// Package cmd implements the orchestra command line.
package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// persistentFlags are bound to viper so ORCHESTRA_<NAME> overrides the default.
var persistentFlags = []string{"config", "project-dir", "log-level", "log-format", "output", "no-color"}

// NewRootCmd builds the command tree. Each call gets its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ORCHESTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "orchestra",
		Short: "Phase-driven orchestration of agent workflows",
		Long: `orchestra drives a manifest of components through a configurable sequence
of phases. Agents are invoked through an external command; their work is
validated, fixed, voted on and checkpointed so an interrupted run resumes
where it stopped.

Configuration is read from ~/.orchestra/orchestra.yaml and then from
.orchestra/orchestra.yaml in the project directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "configuration file (default .orchestra/orchestra.yaml)")
	flags.String("project-dir", ".", "project directory")
	flags.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.String("log-format", "", "log format: text or json (overrides config)")
	flags.StringP("output", "o", "text", "output format: text, json or yaml")
	flags.Bool("no-color", false, "disable colored output")
	for _, name := range persistentFlags {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	e := &env{v: v}
	root.AddCommand(
		newRunCmd(e),
		newPlanCmd(e),
		newStatusCmd(e),
		newCheckpointCmd(e),
		newConfigCmd(e),
		newDoctorCmd(e),
		newVersionCmd(e),
	)
	return root
}

// ExecuteContext runs the command line with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
