// Package config loads orchestra.yaml: the phase list, agent definitions,
// invoker backend and the tuning knobs of the validation loop and voting gate.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/orchestra/internal/agents"
	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/hooks"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/pipeline"
	"github.com/felixgeelhaar/orchestra/internal/telemetry"
	"github.com/felixgeelhaar/orchestra/internal/validation"
	"github.com/felixgeelhaar/orchestra/internal/vcs"
	"github.com/felixgeelhaar/orchestra/internal/voting"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
)

//go:embed builtin/default.yaml
var builtinConfig []byte

const (
	// FileName is the configuration file name inside a run directory.
	FileName = "orchestra.yaml"
	// DefaultRunDir holds state, checkpoints and the project configuration.
	DefaultRunDir = ".orchestra"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the root of orchestra.yaml.
type Config struct {
	RunDir     string              `yaml:"run_dir"`
	State      StateConfig         `yaml:"state"`
	Invoker    InvokerConfig       `yaml:"invoker"`
	Agents     []agents.Definition `yaml:"agents,omitempty"`
	Phases     []workflow.Phase    `yaml:"phases"`
	Validation ValidationConfig    `yaml:"validation"`
	Pipeline   PipelineConfig      `yaml:"pipeline"`
	Voting     VotingConfig        `yaml:"voting"`
	VCS        VCSConfig           `yaml:"vcs"`
	Workspace  WorkspaceConfig     `yaml:"workspace"`
	Hooks      []hooks.Config      `yaml:"hooks,omitempty"`
	Logging    LoggingConfig       `yaml:"logging"`
	Telemetry  TelemetryConfig     `yaml:"telemetry"`
	Metrics    MetricsConfig       `yaml:"metrics"`
}

// StateConfig selects the state backend.
type StateConfig struct {
	Backend string `yaml:"backend"`
	// Path overrides the SQLite database location (default <run_dir>/state.db).
	Path string `yaml:"path,omitempty"`
}

// InvokerConfig configures the executable agent backend.
type InvokerConfig struct {
	Command        string                 `yaml:"command"`
	Args           []string               `yaml:"args,omitempty"`
	Timeout        time.Duration          `yaml:"timeout"`
	MaxRetries     int                    `yaml:"max_retries"`
	InitialBackoff time.Duration          `yaml:"initial_backoff"`
	MaxBackoff     time.Duration          `yaml:"max_backoff"`
	RatePerSecond  float64                `yaml:"rate_per_second"`
	Burst          int                    `yaml:"burst,omitempty"`
	Concurrency    int                    `yaml:"concurrency"`
	Models         map[domain.Tier]string `yaml:"models,omitempty"`
	Fallback       *FallbackConfig        `yaml:"fallback,omitempty"`
}

// FallbackConfig is the secondary backend used when the primary is unavailable.
type FallbackConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ValidationConfig tunes the validation loop.
type ValidationConfig struct {
	MaxAttempts        int      `yaml:"max_attempts"`
	SameIssueThreshold int      `yaml:"same_issue_threshold"`
	RepeatOverlap      float64  `yaml:"repeat_overlap"`
	SecurityKeywords   []string `yaml:"security_keywords"`
	ValidatorAgent     string   `yaml:"validator_agent,omitempty"`
	FixerAgent         string   `yaml:"fixer_agent,omitempty"`
	IntegrationAgent   string   `yaml:"integration_agent,omitempty"`
}

// PipelineConfig names the component pipeline agents.
type PipelineConfig struct {
	SkeletonAgent       string   `yaml:"skeleton_agent"`
	ImplementerAgent    string   `yaml:"implementer_agent"`
	SharedPathFragments []string `yaml:"shared_path_fragments"`
}

// VotingConfig holds the gate defaults.
type VotingConfig struct {
	Agent             string  `yaml:"agent"`
	Voters            int     `yaml:"voters"`
	Threshold         float64 `yaml:"threshold"`
	DefaultConfidence float64 `yaml:"default_confidence"`
}

// VCSConfig controls filesystem checkpoints.
type VCSConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Init        bool     `yaml:"init"`
	AuthorName  string   `yaml:"author_name"`
	AuthorEmail string   `yaml:"author_email"`
	Exclude     []string `yaml:"exclude,omitempty"`
}

// WorkspaceConfig shapes the context handed to agents.
type WorkspaceConfig struct {
	NotesDir string `yaml:"notes_dir"`
	MaxFiles int    `yaml:"max_files"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Insecure     bool    `yaml:"insecure,omitempty"`
	SampleRate   float64 `yaml:"sample_rate"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	if err := decode(builtinConfig, cfg); err != nil {
		panic(fmt.Sprintf("builtin configuration is invalid: %v", err))
	}
	return cfg
}

// Parse layers data over the built-in configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays the keys present in data onto cfg. Unknown keys are errors.
func decode(data []byte, cfg *Config) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

// Save writes cfg to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns the value at a dotted key such as "voting.threshold".
func (c *Config) Get(key string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	var current any = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
	}
	return current, nil
}

// ValidationSettings maps the validation section onto loop settings.
func (c *Config) ValidationSettings() validation.Settings {
	return validation.Settings{
		MaxAttempts:        c.Validation.MaxAttempts,
		SameIssueThreshold: c.Validation.SameIssueThreshold,
		RepeatOverlap:      c.Validation.RepeatOverlap,
		SecurityKeywords:   c.Validation.SecurityKeywords,
		ValidatorAgent:     c.Validation.ValidatorAgent,
		FixerAgent:         c.Validation.FixerAgent,
		IntegrationAgent:   c.Validation.IntegrationAgent,
		Concurrency:        c.Invoker.Concurrency,
	}
}

// PipelineSettings maps the pipeline section onto pipeline settings.
func (c *Config) PipelineSettings() pipeline.Settings {
	return pipeline.Settings{
		SkeletonAgent:       c.Pipeline.SkeletonAgent,
		ImplementerAgent:    c.Pipeline.ImplementerAgent,
		SharedPathFragments: c.Pipeline.SharedPathFragments,
	}
}

// GateConfig maps the voting section onto gate defaults.
func (c *Config) GateConfig() voting.Config {
	return voting.Config{
		Agent:             c.Voting.Agent,
		Voters:            c.Voting.Voters,
		Threshold:         c.Voting.Threshold,
		DefaultConfidence: c.Voting.DefaultConfidence,
		Concurrency:       c.Invoker.Concurrency,
	}
}

// RetryPolicy maps the invoker section onto a retry policy.
func (c *Config) RetryPolicy() invoker.RetryPolicy {
	p := invoker.DefaultRetryPolicy()
	if c.Invoker.MaxRetries >= 0 {
		p.MaxRetries = c.Invoker.MaxRetries
	}
	if c.Invoker.InitialBackoff > 0 {
		p.InitialBackoff = c.Invoker.InitialBackoff
	}
	if c.Invoker.MaxBackoff > 0 {
		p.MaxBackoff = c.Invoker.MaxBackoff
	}
	return p
}

// GitOptions maps the vcs section onto committer options.
func (c *Config) GitOptions(logger *log.Logger) vcs.GitOptions {
	return vcs.GitOptions{
		Init:        c.VCS.Init,
		AuthorName:  c.VCS.AuthorName,
		AuthorEmail: c.VCS.AuthorEmail,
		Exclude:     append([]string{c.RunDir}, c.VCS.Exclude...),
		Logger:      logger,
	}
}

// LogConfig maps the logging section onto a logger configuration.
func (c *Config) LogConfig() log.Config {
	return log.ConfigFromStrings(c.Logging.Level, c.Logging.Format)
}

// TelemetryConfig maps the telemetry section; tracing is enabled only with an endpoint.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	tc := telemetry.ConfigForEndpoint(c.Telemetry.OTLPEndpoint, version)
	if c.Telemetry.ServiceName != "" {
		tc.ServiceName = c.Telemetry.ServiceName
	}
	tc.Insecure = c.Telemetry.Insecure
	if c.Telemetry.SampleRate > 0 {
		tc.SampleRate = c.Telemetry.SampleRate
	}
	return tc
}

// AgentRegistry returns the built-in agents with the configured ones
// registered over them.
func (c *Config) AgentRegistry() (*agents.Registry, error) {
	reg, err := agents.Default()
	if err != nil {
		return nil, err
	}
	for _, def := range c.Agents {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// StatePath returns the SQLite database path.
func (c *Config) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	return filepath.Join(c.RunDir, "state.db")
}

func configError(format string, args ...any) *errors.OrchestraError {
	return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...))
}
