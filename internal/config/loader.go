package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/orchestra/internal/errors"
)

// Loader resolves the effective configuration from its layers.
//
// Resolution order (highest to lowest precedence):
//  1. the explicit --config file, or .orchestra/orchestra.yaml in the project
//  2. ~/.orchestra/orchestra.yaml
//  3. the built-in defaults
type Loader struct {
	projectDir string
	userDir    string
}

// NewLoader creates a loader rooted at the working directory.
func NewLoader() *Loader {
	homeDir, _ := os.UserHomeDir()
	userDir := ""
	if homeDir != "" {
		userDir = filepath.Join(homeDir, DefaultRunDir)
	}
	return &Loader{projectDir: ".", userDir: userDir}
}

// SetProjectDir sets the directory whose .orchestra/orchestra.yaml is read.
func (l *Loader) SetProjectDir(dir string) {
	l.projectDir = dir
}

// SetUserDir sets the user configuration directory; empty disables the layer.
func (l *Loader) SetUserDir(dir string) {
	l.userDir = dir
}

// ProjectPath is the project configuration file.
func (l *Loader) ProjectPath() string {
	return filepath.Join(l.projectDir, DefaultRunDir, FileName)
}

// UserPath is the user configuration file, or "" when there is none.
func (l *Loader) UserPath() string {
	if l.userDir == "" {
		return ""
	}
	return filepath.Join(l.userDir, FileName)
}

// Load layers the configuration files over the defaults. A non-empty
// explicit path replaces the project file and must exist. A relative run_dir
// is resolved against the project directory.
func (l *Loader) Load(explicit string) (*Config, error) {
	cfg := Default()

	if err := l.layer(cfg, l.UserPath(), false); err != nil {
		return nil, err
	}

	project, required := l.ProjectPath(), false
	if explicit != "" {
		project, required = explicit, true
	}
	if err := l.layer(cfg, project, required); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.RunDir) {
		cfg.RunDir = filepath.Join(l.projectDir, cfg.RunDir)
	}
	if cfg.Workspace.NotesDir != "" && !filepath.IsAbs(cfg.Workspace.NotesDir) {
		cfg.Workspace.NotesDir = filepath.Join(l.projectDir, cfg.Workspace.NotesDir)
	}
	return cfg, nil
}

func (l *Loader) layer(cfg *Config, path string, required bool) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if required {
				return errors.NewFileNotFoundError(path)
			}
			return nil
		}
		return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read config %s", path), err)
	}
	if err := decode(data, cfg); err != nil {
		return errors.NewFileUnmarshalError(path, "YAML", err)
	}
	return nil
}
