package health

import (
	"context"
	stderrors "errors"
	"os/exec"

	"github.com/go-git/go-git/v5"

	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/vcs"
)

// CommandChecker looks up an agent backend executable.
type CommandChecker struct {
	Label   string
	Command string
	// Optional downgrades a missing command to degraded.
	Optional bool
}

func (c *CommandChecker) Name() string { return c.Label }

func (c *CommandChecker) Check(_ context.Context) *Result {
	if c.Command == "" {
		return Unhealthy("no command configured").
			WithDetail("suggestion", "Set invoker.command in orchestra.yaml")
	}
	path, err := exec.LookPath(c.Command)
	if err != nil {
		res := Unhealthy(c.Command + " not found in PATH")
		if c.Optional {
			res = Degraded(c.Command + " not found in PATH")
		}
		return res.WithDetail("error", err.Error())
	}
	return Healthy(c.Command + " is installed").WithDetail("path", path)
}

// RepositoryChecker reports whether git checkpoints can be taken in Dir.
type RepositoryChecker struct {
	Dir     string
	Enabled bool
	Init    bool
}

func (c *RepositoryChecker) Name() string { return "git-repository" }

func (c *RepositoryChecker) Check(_ context.Context) *Result {
	if !c.Enabled {
		return Healthy("git checkpoints are disabled")
	}
	_, err := git.PlainOpen(c.Dir)
	switch {
	case err == nil:
		res := Healthy("project is a git repository")
		if branch := vcs.Branch(c.Dir); branch != "" {
			res.WithDetail("branch", branch)
		}
		return res
	case stderrors.Is(err, git.ErrRepositoryNotExists) && c.Init:
		return Healthy("repository will be initialized on the first checkpoint")
	case stderrors.Is(err, git.ErrRepositoryNotExists):
		return Degraded("project is not a git repository; checkpoints will be skipped").
			WithDetail("suggestion", "Run 'git init' or set vcs.init: true")
	default:
		return Unhealthy("cannot open git repository").WithDetail("error", err.Error())
	}
}

// StoreChecker opens the state store and decodes the recorded run, if any.
type StoreChecker struct {
	Open func() (*state.Store, error)
}

func (c *StoreChecker) Name() string { return "state-store" }

func (c *StoreChecker) Check(ctx context.Context) *Result {
	store, err := c.Open()
	if err != nil {
		return Unhealthy("cannot open state store").WithDetail("error", err.Error())
	}
	defer store.Close()

	exists, err := store.Exists(ctx)
	if err != nil {
		return Unhealthy("cannot read state").WithDetail("error", err.Error())
	}
	if !exists {
		return Healthy("state store is empty")
	}
	st, err := store.Load(ctx)
	if err != nil {
		return Unhealthy("recorded state is unreadable").WithDetail("error", err.Error())
	}
	return Healthy("recorded run is readable").
		WithDetail("run_id", st.RunID).
		WithDetail("status", string(st.Status))
}
