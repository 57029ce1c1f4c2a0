package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/orchestra/internal/config"
	"github.com/felixgeelhaar/orchestra/internal/errors"
)

func newConfigCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or create the orchestra configuration",
		Long: `Manage orchestra.yaml. The effective configuration layers the project file
(.orchestra/orchestra.yaml) over the user file (~/.orchestra/orchestra.yaml)
over the built-in defaults.

Examples:
  orchestra config view
  orchestra config get voting.threshold
  orchestra config init`,
	}
	cmd.AddCommand(newConfigViewCmd(e), newConfigPathCmd(e), newConfigGetCmd(e), newConfigInitCmd(e))
	return cmd
}

func newConfigViewCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.load(cmd); err != nil {
				return err
			}
			if !e.textOutput() {
				return e.render(cmd, e.cfg)
			}
			data, err := yaml.Marshal(e.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.load(cmd); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if explicit := e.v.GetString("config"); explicit != "" {
				fmt.Fprintf(out, "config:  %s\n", explicit)
			} else {
				fmt.Fprintf(out, "project: %s\n", e.loader.ProjectPath())
			}
			if user := e.loader.UserPath(); user != "" {
				fmt.Fprintf(out, "user:    %s\n", user)
			}
			return nil
		},
	}
}

func newConfigGetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value, e.g. voting.threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.load(cmd); err != nil {
				return err
			}
			value, err := e.cfg.Get(args[0])
			if err != nil {
				return errors.Wrap(errors.ErrCodeConfigInvalid, "config get", err)
			}
			if !e.textOutput() {
				return e.render(cmd, value)
			}
			if _, isMap := value.(map[string]any); isMap || isList(value) {
				data, err := yaml.Marshal(value)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func newConfigInitCmd(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.resolveProject(); err != nil {
				return err
			}
			path := e.v.GetString("config")
			if path == "" {
				path = e.loader.ProjectPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("%s already exists", path)).
					WithSuggestion("Pass --force to overwrite it")
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
