package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/health"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/ux"
)

func newDoctorCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that a run can start",
		Long: `Doctor validates the configuration, looks up the agent command, checks
that the project is a git repository and that the state store is readable.
It fails when any check is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.load(cmd); err != nil {
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

			cfg := e.cfg
			m := health.NewManager(
				&health.CommandChecker{Label: "agent-command", Command: cfg.Invoker.Command},
				&health.RepositoryChecker{Dir: e.projectDir, Enabled: cfg.VCS.Enabled, Init: cfg.VCS.Init},
				&health.StoreChecker{Open: func() (*state.Store, error) { return e.openStore(nil) }},
			)
			if fb := cfg.Invoker.Fallback; fb != nil {
				m.Add(&health.CommandChecker{Label: "fallback-command", Command: fb.Command, Optional: true})
			}

			results := m.Check(cmd.Context())
			view := ux.DoctorView{Overall: health.Overall(results), Checks: results}
			if err := e.render(cmd, view); err != nil {
				return err
			}
			if view.Overall == health.StatusUnhealthy {
				return errors.New(errors.ErrCodeConfigInvalid, "preflight checks failed").
					WithSuggestion("Fix the unhealthy checks above and run 'orchestra doctor' again")
			}
			return nil
		},
	}
}
