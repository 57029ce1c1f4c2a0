package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/orchestra/internal/agents"
	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/hooks"
	"github.com/felixgeelhaar/orchestra/internal/voting"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
)

func registry(t *testing.T) *agents.Registry {
	t.Helper()
	reg, err := agents.Default()
	require.NoError(t, err)
	return reg
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()

	warnings, err := cfg.Validate(registry(t))
	require.NoError(t, err)
	assert.Empty(t, warnings)

	names := make([]string, len(cfg.Phases))
	for i, p := range cfg.Phases {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"analysis", "planning", "security_review", "architecture_vote", "components", "documentation"}, names)

	assert.Equal(t, "is_new_project", cfg.Phases[0].SkipIf)
	assert.Equal(t, workflow.HandlerVote, cfg.Phases[3].HandlerName())
	assert.Equal(t, "components", cfg.Phases[4].HandlerName())
	assert.Equal(t, BackendFile, cfg.State.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Invoker.Timeout)
	assert.Equal(t, voting.DefaultThreshold, cfg.Voting.Threshold)
}

func TestDefaultSkipConditions(t *testing.T) {
	phases := Default().Phases
	byName := make(map[string]workflow.Phase, len(phases))
	for _, p := range phases {
		byName[p.Name] = p
	}

	tests := []struct {
		phase string
		vars  map[string]any
		want  bool
	}{
		{"analysis", map[string]any{"is_new_project": true}, true},
		{"analysis", map[string]any{"is_new_project": false}, false},
		{"security_review", map[string]any{"risk_level": "low"}, true},
		{"security_review", map[string]any{"risk_level": "medium"}, true},
		{"security_review", map[string]any{"risk_level": "high"}, false},
		{"documentation", map[string]any{"dry_run": true}, true},
		{"documentation", map[string]any{"dry_run": false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.phase, func(t *testing.T) {
			assert.Equal(t, tt.want, workflow.EvaluateSkip(byName[tt.phase].SkipIf, tt.vars))
		})
	}
}

func TestParseLayersOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
state:
  backend: sqlite
invoker:
  command: my-agent
  models:
    advanced: big-model
voting:
  voters: 5
phases:
  - name: build
    handler: components
`))
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.State.Backend)
	assert.Equal(t, "my-agent", cfg.Invoker.Command)
	assert.Equal(t, "big-model", cfg.Invoker.Models[domain.TierAdvanced])
	assert.Equal(t, 3, cfg.Invoker.MaxRetries, "untouched keys keep their defaults")
	assert.Equal(t, 5, cfg.Voting.Voters)
	require.Len(t, cfg.Phases, 1, "a phase list replaces the default one")
	assert.Equal(t, "build", cfg.Phases[0].Name)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("votng:\n  voters: 5\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   errors.ErrorCode
	}{
		{"bad backend", func(c *Config) { c.State.Backend = "redis" }, errors.ErrCodeConfigInvalid},
		{"negative retries", func(c *Config) { c.Invoker.MaxRetries = -1 }, errors.ErrCodeConfigInvalid},
		{"bad model tier", func(c *Config) { c.Invoker.Models = map[domain.Tier]string{"huge": "x"} }, errors.ErrCodeConfigInvalid},
		{"fallback without command", func(c *Config) { c.Invoker.Fallback = &FallbackConfig{} }, errors.ErrCodeConfigInvalid},
		{"overlap above one", func(c *Config) { c.Validation.RepeatOverlap = 1.5 }, errors.ErrCodeConfigInvalid},
		{"threshold above one", func(c *Config) { c.Voting.Threshold = 2 }, errors.ErrCodeConfigInvalid},
		{"threshold NaN", func(c *Config) { c.Voting.Threshold = math.NaN() }, errors.ErrCodeConfigInvalid},
		{"default confidence NaN", func(c *Config) { c.Voting.DefaultConfidence = math.NaN() }, errors.ErrCodeConfigInvalid},
		{"overlap NaN", func(c *Config) { c.Validation.RepeatOverlap = math.NaN() }, errors.ErrCodeConfigInvalid},
		{"phase vote threshold NaN", func(c *Config) {
			c.Phases[1].Vote = &workflow.VoteSpec{Options: []string{"A"}, Threshold: math.NaN()}
		}, errors.ErrCodeConfigInvalid},
		{"duplicate phase", func(c *Config) { c.Phases = append(c.Phases, c.Phases[0]) }, errors.ErrCodeConfigInvalid},
		{"unknown policy", func(c *Config) { c.Phases[1].OnFailure = "pray" }, errors.ErrCodeConfigInvalid},
		{"unknown handler", func(c *Config) { c.Phases[1].Handler = "magic" }, errors.ErrCodeConfigInvalid},
		{"unknown phase agent", func(c *Config) { c.Phases[1].Agents = []string{"ghost"} }, errors.ErrCodeUnknownAgent},
		{"unknown voter", func(c *Config) { c.Voting.Agent = "ghost" }, errors.ErrCodeUnknownAgent},
		{"bad hook", func(c *Config) {
			c.Hooks = append(c.Hooks, hooks.Config{Name: "notify", Type: "script", Enabled: true})
		}, errors.ErrCodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			_, err := cfg.Validate(registry(t))
			require.Error(t, err)
			code, ok := errors.CodeOf(err)
			require.True(t, ok, "expected a coded error, got %v", err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestValidateWarnsOnUnparsableSkip(t *testing.T) {
	cfg := Default()
	cfg.Phases[1].SkipIf = "risk_level ==="

	warnings, err := cfg.Validate(registry(t))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "planning")
}

func TestValidateAcceptsConfiguredAgents(t *testing.T) {
	cfg := Default()
	cfg.Agents = append(cfg.Agents, agents.Definition{Name: "reviewer2", Schema: "status"})
	cfg.Phases[1].Agents = []string{"planner", "reviewer2"}

	reg, err := cfg.AgentRegistry()
	require.NoError(t, err)
	_, err = cfg.Validate(reg)
	require.NoError(t, err)
}

func TestLoaderLayers(t *testing.T) {
	project := t.TempDir()
	user := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(user, FileName), []byte("voting:\n  voters: 7\nlogging:\n  level: debug\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(project, DefaultRunDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, DefaultRunDir, FileName), []byte("voting:\n  voters: 5\n"), 0o644))

	l := NewLoader()
	l.SetProjectDir(project)
	l.SetUserDir(user)

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Voting.Voters, "project overrides user")
	assert.Equal(t, "debug", cfg.Logging.Level, "user overrides builtin")
	assert.Equal(t, filepath.Join(project, DefaultRunDir), cfg.RunDir)
}

func TestLoaderMissingFiles(t *testing.T) {
	l := NewLoader()
	l.SetProjectDir(t.TempDir())
	l.SetUserDir("")

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Phases, 6)

	_, err = l.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	code, _ := errors.CodeOf(err)
	assert.Equal(t, errors.ErrCodeFileNotFound, code)
}

func TestLoaderRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phases: [\n"), 0o644))

	l := NewLoader()
	l.SetUserDir("")
	_, err := l.Load(path)
	require.Error(t, err)
	code, _ := errors.CodeOf(err)
	assert.Equal(t, errors.ErrCodeFileUnmarshal, code)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	cfg := Default()
	cfg.Invoker.Command = "custom"
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	loaded, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "custom", loaded.Invoker.Command)
	assert.Equal(t, cfg.Invoker.Timeout, loaded.Invoker.Timeout)
	assert.Equal(t, cfg.Phases, loaded.Phases)
}

func TestGet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("voting.voters")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = cfg.Get("state.backend")
	require.NoError(t, err)
	assert.Equal(t, "file", v)

	_, err = cfg.Get("voting.nope")
	assert.Error(t, err)
	_, err = cfg.Get("run_dir.deeper")
	assert.Error(t, err)
}

func TestSectionMappings(t *testing.T) {
	cfg := Default()
	cfg.Invoker.MaxRetries = 0
	cfg.Invoker.InitialBackoff = 0

	p := cfg.RetryPolicy()
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialBackoff)

	assert.Equal(t, cfg.Invoker.Concurrency, cfg.GateConfig().Concurrency)
	assert.Equal(t, "skeleton", cfg.PipelineSettings().SkeletonAgent)
	assert.Equal(t, 3, cfg.ValidationSettings().MaxAttempts)

	tc := cfg.TelemetryConfig("1.2.3")
	assert.False(t, tc.Enabled)
	assert.Equal(t, "orchestra", tc.ServiceName)

	cfg.Telemetry.OTLPEndpoint = "localhost:4318"
	assert.True(t, cfg.TelemetryConfig("1.2.3").Enabled)

	assert.Contains(t, cfg.GitOptions(nil).Exclude, cfg.RunDir)
	assert.Equal(t, filepath.Join(cfg.RunDir, "state.db"), cfg.StatePath())
}
