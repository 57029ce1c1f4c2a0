// Package workspace builds the context blob handed to agents alongside
// their prompts.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/vcs"
)

// Defaults for Provider limits.
const (
	DefaultMaxFiles     = 200
	DefaultMaxFileBytes = 16 * 1024
)

var skipDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true}

// Provider describes the project directory to agents: branch, file listing,
// per-agent notes and, for component calls, the component's current file.
type Provider struct {
	Root     string
	Manifest *manifest.Manifest
	// NotesDir holds optional <agent>.md files appended to that agent's context.
	NotesDir     string
	RunDir       string
	MaxFiles     int
	MaxFileBytes int
}

// Context implements the workspace contract. component may be empty.
func (p *Provider) Context(ctx context.Context, agent string, component domain.ComponentID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Workspace: %s\n", p.Root)
	if branch := vcs.Branch(p.Root); branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", branch)
	}

	files, truncated, err := p.listFiles()
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		b.WriteString("\nFiles:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "  %s\n", f)
		}
		if truncated {
			b.WriteString("  ...\n")
		}
	}

	if component != "" && p.Manifest != nil {
		if c, ok := p.Manifest.Component(component); ok && c.File != "" {
			content, err := p.readLimited(filepath.Join(p.Root, c.File))
			switch {
			case err == nil:
				fmt.Fprintf(&b, "\nCurrent %s:\n%s\n", c.File, content)
			case !os.IsNotExist(err):
				return "", fmt.Errorf("failed to read %s: %w", c.File, err)
			}
		}
	}

	if p.NotesDir != "" && agent != "" {
		notes, err := p.readLimited(filepath.Join(p.NotesDir, agent+".md"))
		switch {
		case err == nil:
			fmt.Fprintf(&b, "\nNotes for %s:\n%s\n", agent, notes)
		case !os.IsNotExist(err):
			return "", fmt.Errorf("failed to read notes for %s: %w", agent, err)
		}
	}

	return b.String(), nil
}

func (p *Provider) listFiles() ([]string, bool, error) {
	limit := p.MaxFiles
	if limit <= 0 {
		limit = DefaultMaxFiles
	}
	runDir := ""
	if p.RunDir != "" {
		runDir = filepath.Clean(p.RunDir)
	}

	var files []string
	err := filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != p.Root && (skipDirs[d.Name()] || filepath.Clean(path) == runDir) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(p.Root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to list workspace: %w", err)
	}

	sort.Strings(files)
	if len(files) > limit {
		return files[:limit], true, nil
	}
	return files, false, nil
}

func (p *Provider) readLimited(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	limit := p.MaxFileBytes
	if limit <= 0 {
		limit = DefaultMaxFileBytes
	}
	if len(data) > limit {
		return string(data[:limit]) + "\n[truncated]", nil
	}
	return string(data), nil
}
