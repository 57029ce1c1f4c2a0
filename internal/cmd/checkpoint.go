package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/tui"
	"github.com/felixgeelhaar/orchestra/internal/ux"
)

func newCheckpointCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and restore state checkpoints",
		Long: `Checkpoints are labeled snapshots of the run state taken around every
validation and fix attempt of a component.

Examples:
  orchestra checkpoint list
  orchestra checkpoint show api_validation_attempt_1
  orchestra checkpoint restore api_fix_attempt_2 --apply`,
	}
	cmd.AddCommand(newCheckpointListCmd(e), newCheckpointShowCmd(e), newCheckpointRestoreCmd(e))
	return cmd
}

func newCheckpointListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoint labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withStore(cmd, func(store *state.Store) error {
				labels, err := store.Checkpoints(cmd.Context())
				if err != nil {
					return err
				}
				return e.render(cmd, ux.CheckpointsView{Labels: labels})
			})
		},
	}
}

func newCheckpointShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <label>",
		Short: "Show the state recorded in a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd, func(store *state.Store) error {
				st, err := store.Restore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return e.render(cmd, ux.StatusView{Label: args[0], State: st, Phases: e.cfg.Phases})
			})
		},
	}
}

func newCheckpointRestoreCmd(e *env) *cobra.Command {
	var apply, yes bool
	cmd := &cobra.Command{
		Use:   "restore <label>",
		Short: "Preview or apply a checkpoint as the live state",
		Long: `Restore shows the checkpoint that would become the live state. With --apply the
live state is replaced, so the next run resumes from the checkpoint. Files
in the working tree are not touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := args[0]
			return e.withStore(cmd, func(store *state.Store) error {
				ctx := cmd.Context()
				st, err := store.Restore(ctx, label)
				if err != nil {
					return err
				}
				if !apply {
					if err := e.render(cmd, ux.StatusView{Label: label, State: st, Phases: e.cfg.Phases}); err != nil {
						return err
					}
					fmt.Fprintln(cmd.ErrOrStderr(), "Preview only; pass --apply to make it the live state.")
					return nil
				}

				if !yes && tui.ShouldPrompt() {
					ok, err := tui.PromptForConfirmation(ctx, fmt.Sprintf("Replace the live state with checkpoint %s?", label), false)
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.ErrOrStderr(), "Restore cancelled.")
						return nil
					}
				}

				st, err = store.Rollback(ctx, label)
				if err != nil {
					return err
				}
				return e.render(cmd, ux.StatusView{Label: label, State: st, Phases: e.cfg.Phases})
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "make the checkpoint the live state")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// withStore loads the environment and runs fn with an open store.
func (e *env) withStore(cmd *cobra.Command, fn func(*state.Store) error) error {
	if err := e.load(cmd); err != nil {
		return err
	}
	store, err := e.openStore(nil)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
