package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/orchestra/internal/ux"
)

func newStatusCmd(e *env) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded run",
		Long: `Status prints the persisted run: the phase table, component progress and the
latest discoveries. With --history it lists every saved snapshot instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.load(cmd); err != nil {
				return err
			}
			store, err := e.openStore(nil)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if history {
				snapshots, err := store.History(ctx)
				if err != nil {
					return err
				}
				return e.render(cmd, ux.HistoryView{Snapshots: snapshots})
			}

			view := ux.StatusView{Phases: e.cfg.Phases}
			exists, err := store.Exists(ctx)
			if err != nil {
				return err
			}
			if exists {
				if view.State, err = store.Load(ctx); err != nil {
					return err
				}
			}
			return e.render(cmd, view)
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "list every saved snapshot")
	return cmd
}
