// Package vcs takes filesystem checkpoints of the working tree as git commits.
package vcs

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/log"
)

// Default commit identity.
const (
	DefaultAuthorName  = "orchestra"
	DefaultAuthorEmail = "orchestra@localhost"
)

// GitOptions configures a GitCommitter.
type GitOptions struct {
	// Init creates the repository when dir is not one yet.
	Init        bool
	AuthorName  string
	AuthorEmail string
	// Exclude lists gitignore patterns never committed, e.g. the run directory.
	Exclude []string
	Logger  *log.Logger
}

// GitCommitter commits every change in the working tree.
type GitCommitter struct {
	dir      string
	repo     *git.Repository
	author   string
	email    string
	excludes []gitignore.Pattern
	logger   *log.Logger
	now      func() time.Time
}

// OpenGit opens the repository at dir.
func OpenGit(dir string, opts GitOptions) (*GitCommitter, error) {
	repo, err := git.PlainOpen(dir)
	if stderrors.Is(err, git.ErrRepositoryNotExists) && opts.Init {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository %s: %w", dir, err)
	}

	g := &GitCommitter{
		dir:    dir,
		repo:   repo,
		author: opts.AuthorName,
		email:  opts.AuthorEmail,
		logger: log.OrDefault(opts.Logger),
		now:    time.Now,
	}
	if g.author == "" {
		g.author = DefaultAuthorName
	}
	if g.email == "" {
		g.email = DefaultAuthorEmail
	}
	for _, p := range opts.Exclude {
		g.excludes = append(g.excludes, gitignore.ParsePattern(p, nil))
	}
	return g, nil
}

// Commit stages every change and commits it. A clean tree yields "".
func (g *GitCommitter) Commit(ctx context.Context, label string, component domain.ComponentID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	wt.Excludes = append(wt.Excludes, g.excludes...)

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to read worktree status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	hash, err := wt.Commit(Message(label, component), &git.CommitOptions{
		Author: &object.Signature{Name: g.author, Email: g.email, When: g.now()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	g.logger.Debug("checkpoint committed", "label", label, "component", string(component), "commit", hash.String())
	return hash.String(), nil
}

// Message returns the commit message for a checkpoint.
func Message(label string, component domain.ComponentID) string {
	label = strings.TrimSpace(label)
	if component == "" {
		return "orchestra: " + label
	}
	return fmt.Sprintf("orchestra: %s %s", component, label)
}

// Branch returns the checked-out branch of the repository at dir, or "" when
// dir is not a repository or HEAD is detached.
func Branch(dir string) string {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// Noop takes no checkpoints.
type Noop struct{}

// Commit implements the committer contract and always reports nothing to record.
func (Noop) Commit(context.Context, string, domain.ComponentID) (string, error) {
	return "", nil
}
