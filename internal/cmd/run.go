package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/orchestra/internal/agents"
	"github.com/felixgeelhaar/orchestra/internal/config"
	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/hooks"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
	"github.com/felixgeelhaar/orchestra/internal/pipeline"
	"github.com/felixgeelhaar/orchestra/internal/telemetry"
	"github.com/felixgeelhaar/orchestra/internal/tui"
	"github.com/felixgeelhaar/orchestra/internal/ux"
	"github.com/felixgeelhaar/orchestra/internal/validation"
	"github.com/felixgeelhaar/orchestra/internal/vcs"
	"github.com/felixgeelhaar/orchestra/internal/version"
	"github.com/felixgeelhaar/orchestra/internal/voting"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
	"github.com/felixgeelhaar/orchestra/internal/workspace"
)

type runOptions struct {
	manifest    string
	dryRun      bool
	interactive bool
	metricsAddr string
	noCommit    bool
}

func newRunCmd(e *env) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow for a manifest",
		Long: `Run executes the configured phases for a manifest. State is persisted after
every step; running again after an interruption or a blocked phase resumes
from the recorded position.

Examples:
  # Run against a manifest
  orchestra run -m manifest.yaml

  # Exercise the whole workflow without invoking any agent
  orchestra run -m manifest.yaml --dry-run

  # Answer escalations at the terminal instead of stopping
  orchestra run -m manifest.yaml --interactive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.manifest, "manifest", "m", "", "manifest file (required)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "answer every agent call with a canned payload")
	f.BoolVar(&opts.interactive, "interactive", false, "prompt for decisions instead of blocking")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	f.BoolVar(&opts.noCommit, "no-commit", false, "do not take git checkpoints")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func (e *env) run(cmd *cobra.Command, opts runOptions) error {
	if err := e.load(cmd); err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m, err := manifest.Load(opts.manifest)
	if err != nil {
		return err
	}
	reg, err := cfg.AgentRegistry()
	if err != nil {
		return err
	}
	warnings, err := cfg.Validate(reg)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	promReg, mtr := metrics.NewRegistry()
	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		bound, err := metrics.Serve(ctx, addr, promReg)
		if err != nil {
			return fmt.Errorf("failed to serve metrics on %s: %w", addr, err)
		}
		logger.Info("serving metrics", "addr", bound.String())
	}

	shutdown, err := telemetry.InitProvider(ctx, cfg.TelemetryConfig(version.Get().Version))
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, err := e.openStore(mtr)
	if err != nil {
		return err
	}
	defer store.Close()

	inv := buildInvoker(cfg, reg, opts.dryRun, logger, mtr)
	gate := voting.NewGate(inv, cfg.GateConfig(), logger, mtr)
	loop := validation.NewLoop(inv, gate, store, cfg.ValidationSettings(), logger, mtr)

	hookReg := hooks.NewRegistry(logger)
	if err := hookReg.Load(cfg.Hooks); err != nil {
		return err
	}

	ws := &workspace.Provider{
		Root:     e.projectDir,
		Manifest: m,
		NotesDir: cfg.Workspace.NotesDir,
		RunDir:   cfg.RunDir,
		MaxFiles: cfg.Workspace.MaxFiles,
	}

	componentPhase := componentsPhase(cfg.Phases)
	pipe := pipeline.New(pipeline.Options{
		Invoker:   inv,
		Loop:      loop,
		Store:     store,
		Committer: e.committer(cfg, opts, logger),
		Contexts:  ws,
		Settings:  cfg.PipelineSettings(),
		Phase:     componentPhase,
		Logger:    logger,
		Metrics:   mtr,
	})

	var expected []domain.ComponentID
	if componentPhase != "" {
		for _, c := range m.Components {
			expected = append(expected, c.ID)
		}
	}

	var decide workflow.DecisionFunc
	if opts.interactive {
		if tui.ShouldPrompt() {
			decide = tui.NewDecider().Decide
		} else {
			logger.Warn("--interactive ignored: no terminal attached")
		}
	}

	engine, err := workflow.NewEngine(workflow.Options{
		Workflow:           m.Name,
		Phases:             cfg.Phases,
		Store:              store,
		Invoker:            inv,
		Gate:               gate,
		Manifest:           m,
		ExpectedComponents: expected,
		Hooks:              hookReg,
		Decide:             decide,
		Contexts:           ws,
		Agents:             reg,
		DryRun:             opts.dryRun,
		Concurrency:        cfg.Invoker.Concurrency,
		Logger:             logger,
		Metrics:            mtr,
	})
	if err != nil {
		return err
	}
	if componentPhase != "" {
		if err := engine.RegisterHandler(pipeline.HandlerName, pipeline.NewHandler(pipe, hookReg)); err != nil {
			return err
		}
	}

	res, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	if err := e.render(cmd, ux.StatusView{State: store.State(), Phases: cfg.Phases}); err != nil {
		return err
	}
	if !res.Success {
		return errors.NewWorkflowBlockedError(res.Phase, res.Reason)
	}
	return nil
}

// buildInvoker assembles the agent backend. Every call is checked against
// its agent's schema and instrumented, dry runs included.
func buildInvoker(cfg *config.Config, reg *agents.Registry, dryRun bool, logger *log.Logger, m *metrics.Metrics) invoker.Invoker {
	var base invoker.Invoker = invoker.DryRun{}
	if !dryRun {
		ic := cfg.Invoker
		base = withRetry(cfg, &invoker.ExecutableInvoker{
			Command: ic.Command,
			Args:    ic.Args,
			Timeout: ic.Timeout,
			Models:  ic.Models,
		}, logger)
		if fb := ic.Fallback; fb != nil {
			timeout := fb.Timeout
			if timeout == 0 {
				timeout = ic.Timeout
			}
			base = &invoker.FallbackInvoker{
				Primary: base,
				Secondary: withRetry(cfg, &invoker.ExecutableInvoker{
					Command: fb.Command,
					Args:    fb.Args,
					Timeout: timeout,
					Models:  ic.Models,
				}, logger),
				Logger: logger,
			}
		}
	}
	return invoker.NewInstrumented(agents.NewSchemaInvoker(base, reg), m, logger)
}

func withRetry(cfg *config.Config, next invoker.Invoker, logger *log.Logger) invoker.Invoker {
	var limiter *rate.Limiter
	if cfg.Invoker.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Invoker.RatePerSecond), max(1, cfg.Invoker.Burst))
	}
	return invoker.NewRetryInvoker(next, cfg.RetryPolicy(), limiter, logger)
}

// committer returns the git committer, or a no-op when checkpoints are off
// or the project is not a repository.
func (e *env) committer(cfg *config.Config, opts runOptions, logger *log.Logger) pipeline.Committer {
	if opts.dryRun || opts.noCommit || !cfg.VCS.Enabled {
		return vcs.Noop{}
	}
	g, err := vcs.OpenGit(e.projectDir, cfg.GitOptions(logger))
	if err != nil {
		logger.Warn("git checkpoints disabled", "error", err)
		return vcs.Noop{}
	}
	return g
}

// componentsPhase returns the first phase that runs the component pipeline.
func componentsPhase(phases []workflow.Phase) string {
	for _, p := range phases {
		if p.HandlerName() == pipeline.HandlerName {
			return p.Name
		}
	}
	return ""
}
