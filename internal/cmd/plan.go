package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/ux"
)

func newPlanCmd(e *env) *cobra.Command {
	var (
		manifestPath string
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate a manifest and show the execution plan",
		Long: `Plan validates the configuration and the manifest, then prints which phases
would run and the order components are built in. Nothing is invoked and no
state is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.load(cmd); err != nil {
				return err
			}
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			reg, err := e.cfg.AgentRegistry()
			if err != nil {
				return err
			}
			warnings, err := e.cfg.Validate(reg)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				e.logger.Warn(w)
			}
			order, err := m.ExecutionOrder()
			if err != nil {
				return err
			}
			return e.render(cmd, ux.NewPlanView(m, order, e.cfg.Phases, e.cfg.Pipeline.SharedPathFragments, dryRun))
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate skip conditions as for a dry run")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}
