package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/orchestra/internal/config"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/ux"
)

// env carries what every command resolves before doing its work.
type env struct {
	v          *viper.Viper
	projectDir string
	loader     *config.Loader
	cfg        *config.Config
	logger     *log.Logger
}

// load resolves the project directory, reads the configuration and installs
// the logger. Flags and ORCHESTRA_* variables override the logging section.
func (e *env) load(cmd *cobra.Command) error {
	if err := e.resolveProject(); err != nil {
		return err
	}
	cfg, err := e.loader.Load(e.v.GetString("config"))
	if err != nil {
		return err
	}
	e.cfg = cfg

	lc := cfg.LogConfig()
	if level := e.v.GetString("log-level"); level != "" {
		lc.Level = log.ParseLevel(level)
	}
	if format := e.v.GetString("log-format"); format != "" {
		lc.Format = log.ParseFormat(format)
	}
	lc.Output = cmd.ErrOrStderr()
	e.logger = log.New(lc)
	log.SetDefaultLogger(e.logger)
	return nil
}

// resolveProject makes the project directory absolute and points the
// configuration loader at it.
func (e *env) resolveProject() error {
	dir, err := filepath.Abs(e.v.GetString("project-dir"))
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}
	e.projectDir = dir
	e.loader = config.NewLoader()
	e.loader.SetProjectDir(dir)
	return nil
}

// openStore opens the configured state backend.
func (e *env) openStore(m *metrics.Metrics) (*state.Store, error) {
	var backend state.Backend
	switch e.cfg.State.Backend {
	case config.BackendSQLite:
		b, err := state.OpenSQLite(e.cfg.StatePath())
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		b, err := state.NewFileBackend(e.cfg.RunDir)
		if err != nil {
			return nil, err
		}
		backend = b
	}
	return state.NewStore(backend, e.logger, m), nil
}

// render writes data to the command's output in the selected format.
func (e *env) render(cmd *cobra.Command, data any) error {
	f, err := ux.NewFormatter(e.v.GetString("output"), &ux.FormatterOptions{
		Writer:  cmd.OutOrStdout(),
		NoColor: e.v.GetBool("no-color") || os.Getenv("NO_COLOR") != "",
	})
	if err != nil {
		return err
	}
	return f.Format(data)
}

// textOutput reports whether the human-readable format is selected.
func (e *env) textOutput() bool {
	out := e.v.GetString("output")
	return out == "" || out == "text"
}
