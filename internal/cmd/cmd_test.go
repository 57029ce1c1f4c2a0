package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/orchestra/internal/config"
	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/ux"
	"github.com/felixgeelhaar/orchestra/internal/version"
)

const testManifest = `
name: checkout
project_id: shop
risk_level: low
complexity: 3
execution:
  parallelism: sequential
components:
  - id: models
    file: internal/models/order.go
    complexity: low
  - id: api
    file: internal/api/checkout.go
    depends_on: [models]
    complexity: medium
`

type result struct {
	stdout string
	stderr string
	err    error
}

// execute runs the command line isolated from the user's home directory.
func execute(t *testing.T, args ...string) result {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")

	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func newProject(t *testing.T) (dir, manifestPath string) {
	t.Helper()
	dir = t.TempDir()
	manifestPath = filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(testManifest), 0o644))
	return dir, manifestPath
}

func TestRunDryRunCompletes(t *testing.T) {
	dir, manifestPath := newProject(t)

	res := execute(t, "run", "--project-dir", dir, "-m", manifestPath, "--dry-run", "-o", "json", "--log-level", "error")
	require.NoError(t, res.err, res.stderr)

	var view struct {
		State *state.WorkflowState `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &view))
	require.NotNil(t, view.State)
	assert.Equal(t, state.RunComplete, view.State.Status)
	assert.Equal(t, "checkout", view.State.Workflow)
	for _, id := range []domain.ComponentID{"models", "api"} {
		require.Contains(t, view.State.Components, id)
		assert.Equal(t, state.ComponentComplete, view.State.Components[id].Status)
	}

	assert.FileExists(t, filepath.Join(dir, config.DefaultRunDir, "state.json"))

	// a second run finds the completed state and does nothing
	res = execute(t, "run", "--project-dir", dir, "-m", manifestPath, "--dry-run", "--log-level", "error")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "complete")
}

func TestRunRequiresManifest(t *testing.T) {
	res := execute(t, "run", "--project-dir", t.TempDir())
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), `required flag(s) "manifest" not set`)
}

func TestRunRejectsCyclicManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: loop
project_id: p
risk_level: low
complexity: 1
execution:
  parallelism: sequential
components:
  - {id: a, file: a.go, complexity: low, depends_on: [b]}
  - {id: b, file: b.go, complexity: low, depends_on: [a]}
`), 0o644))

	res := execute(t, "run", "--project-dir", dir, "-m", path, "--dry-run")
	require.Error(t, res.err)
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultRunDir, "state.json"))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dir, manifestPath := newProject(t)
	cfgPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("state:\n  backend: redis\n"), 0o644))

	res := execute(t, "run", "--project-dir", dir, "--config", cfgPath, "-m", manifestPath, "--dry-run")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "state.backend")
}

func TestPlan(t *testing.T) {
	dir, manifestPath := newProject(t)

	res := execute(t, "plan", "--project-dir", dir, "-m", manifestPath)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Plan for checkout")
	assert.Contains(t, res.stdout, "skipped: risk_level in ('low', 'medium')")

	res = execute(t, "plan", "--project-dir", dir, "-m", manifestPath, "-o", "json")
	require.NoError(t, res.err)
	var plan ux.PlanView
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &plan))
	require.Len(t, plan.Order, 2)
	assert.Equal(t, domain.ComponentID("models"), plan.Order[0].ID)
	assert.Equal(t, domain.ComponentID("api"), plan.Order[1].ID)

	assert.NoDirExists(t, filepath.Join(dir, config.DefaultRunDir), "plan writes no state")
}

func TestStatus(t *testing.T) {
	dir, manifestPath := newProject(t)

	res := execute(t, "status", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No run recorded yet")

	require.NoError(t, execute(t, "run", "--project-dir", dir, "-m", manifestPath, "--dry-run", "--log-level", "error").err)

	res = execute(t, "status", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "checkout")
	assert.Contains(t, res.stdout, "models")

	res = execute(t, "status", "--project-dir", dir, "--history", "-o", "json")
	require.NoError(t, res.err)
	var history ux.HistoryView
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &history))
	assert.NotEmpty(t, history.Snapshots)
}

func TestCheckpointCommands(t *testing.T) {
	dir, manifestPath := newProject(t)

	res := execute(t, "checkpoint", "list", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No checkpoints.")

	require.NoError(t, execute(t, "run", "--project-dir", dir, "-m", manifestPath, "--dry-run", "--log-level", "error").err)

	res = execute(t, "checkpoint", "list", "--project-dir", dir, "-o", "json")
	require.NoError(t, res.err)
	var list ux.CheckpointsView
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &list))
	assert.Contains(t, list.Labels, "api_validation_attempt_1")

	res = execute(t, "checkpoint", "show", "api_validation_attempt_1", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Checkpoint api_validation_attempt_1")

	res = execute(t, "checkpoint", "restore", "api_validation_attempt_1", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Preview only")
	assertRunStatus(t, dir, state.RunComplete)

	res = execute(t, "checkpoint", "restore", "api_validation_attempt_1", "--apply", "--yes", "--project-dir", dir)
	require.NoError(t, res.err)
	assertRunStatus(t, dir, state.RunRunning)

	res = execute(t, "checkpoint", "show", "missing", "--project-dir", dir)
	require.Error(t, res.err)
}

func assertRunStatus(t *testing.T, dir string, want state.RunStatus) {
	t.Helper()
	res := execute(t, "status", "--project-dir", dir, "-o", "json")
	require.NoError(t, res.err)
	var view struct {
		State *state.WorkflowState `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &view))
	require.NotNil(t, view.State)
	assert.Equal(t, want, view.State.Status)
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	res := execute(t, "config", "init", "--project-dir", dir)
	require.NoError(t, res.err)
	path := filepath.Join(dir, config.DefaultRunDir, config.FileName)
	assert.FileExists(t, path)

	res = execute(t, "config", "init", "--project-dir", dir)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "already exists")
	require.NoError(t, execute(t, "config", "init", "--project-dir", dir, "--force").err)

	require.NoError(t, os.WriteFile(path, []byte("voting:\n  voters: 5\n"), 0o644))
	res = execute(t, "config", "get", "voting.voters", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Equal(t, "5\n", res.stdout)

	res = execute(t, "config", "get", "voting", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "voters: 5")

	res = execute(t, "config", "get", "voting.nope", "--project-dir", dir)
	require.Error(t, res.err)

	res = execute(t, "config", "view", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "phases:")

	res = execute(t, "config", "path", "--project-dir", dir)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, path)
}

func TestDoctor(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "orchestra.yaml")

	require.NoError(t, os.WriteFile(cfgPath, []byte("invoker:\n  command: definitely-not-installed-xyz\n"), 0o644))
	res := execute(t, "doctor", "--project-dir", dir, "--config", cfgPath)
	require.Error(t, res.err)
	assert.Contains(t, res.stdout, "not found in PATH")

	require.NoError(t, os.WriteFile(cfgPath, []byte("invoker:\n  command: go\nvcs:\n  enabled: false\n"), 0o644))
	res = execute(t, "doctor", "--project-dir", dir, "--config", cfgPath)
	require.NoError(t, res.err, res.stdout)
	assert.Contains(t, res.stdout, "Overall: ✓ healthy")
}

func TestVersion(t *testing.T) {
	res := execute(t, "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "orchestra ")

	res = execute(t, "version", "-o", "json")
	require.NoError(t, res.err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.NotEmpty(t, info.GoVersion)
}

func TestOutputFromEnvironment(t *testing.T) {
	t.Setenv("ORCHESTRA_OUTPUT", "json")
	res := execute(t, "version")
	require.NoError(t, res.err)
	assert.True(t, json.Valid([]byte(res.stdout)), res.stdout)
}

func TestUnknownOutputFormat(t *testing.T) {
	res := execute(t, "version", "-o", "xml")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "unknown format")
}
