package state

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/voting"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileBackend(filepath.Join(dir, "file-run"))
	require.NoError(t, err)
	db, err := OpenSQLite(filepath.Join(dir, "sqlite-run", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   file,
		"sqlite": db,
	}
}

func newTestStore(t *testing.T, b Backend) *Store {
	t.Helper()
	s := NewStore(b, log.Discard(), nil)
	s.now = fixedClock()
	return s
}

func populated(t *testing.T, s *Store) *WorkflowState {
	t.Helper()
	ctx := context.Background()
	_, err := s.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, s.UpdatePhase(ctx, "components", PhaseInProgress))
	require.NoError(t, s.UpdateComponent(ctx, "auth", func(c *ComponentState) {
		c.Status = ComponentValidating
		c.Issues = []domain.Issue{{Severity: domain.SeverityCritical, File: "auth.go", Line: 10, Description: "missing check"}}
		c.ValidationAttempts = 1
		c.Attempts = append(c.Attempts, Attempt{Index: 1, Outcome: "failed", RemainingIssues: 1})
	}))
	_, err = s.AddDiscovery(ctx, "planning", "planner", "uses postgres")
	require.NoError(t, err)

	conf := 0.9
	require.NoError(t, s.AddVoteResult(ctx, voting.Outcome{
		Gate:      "architecture",
		Options:   []string{"A", "B"},
		Threshold: voting.DefaultThreshold,
		Consensus: true,
		Winner:    "A",
		Scores:    map[string]float64{"A": 0.9, "B": 0},
		Method:    voting.MethodWeighted,
		Votes:     []voting.VoteRecord{{Voter: "voter-1", Option: "A", Confidence: &conf}},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC),
	}))
	require.NoError(t, s.SetError(ctx, "transient"))
	return s.State()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := populated(t, newTestStore(t, b))

			reloaded := newTestStore(t, b)
			got, err := reloaded.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, CurrentVersion, got.Version)
		})
	}
}

func TestLoadFreshState(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	st, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, st.RunID)
	assert.False(t, st.StartedAt.IsZero())
	assert.Equal(t, RunRunning, st.Status)
	assert.Equal(t, PhaseNotStarted, st.PhaseStatus)
	assert.NotNil(t, st.Components)
}

func TestExists(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t, b)

			ok, err := s.Exists(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Load(ctx)
			require.NoError(t, err)
			ok, err = s.Exists(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "a fresh state is not written until the first save")

			require.NoError(t, s.UpdatePhase(ctx, "planning", PhaseInProgress))
			ok, err = s.Exists(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStateReturnsCopy(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	populated(t, s)

	st := s.State()
	st.CurrentPhase = "tampered"
	st.Components["auth"] = ComponentState{Status: ComponentComplete}

	live := s.State()
	assert.Equal(t, "components", live.CurrentPhase)
	assert.Equal(t, ComponentValidating, live.Components["auth"].Status)
}

func TestHistoryIsChronological(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t, b)
			populated(t, s)

			history, err := s.History(ctx)
			require.NoError(t, err)
			// phase, component, discovery, vote, error
			require.Len(t, history, 5)
			assert.Empty(t, history[0].Components)
			assert.Len(t, history[1].Components, 1)
			assert.Empty(t, history[2].VoteResults)
			assert.Len(t, history[3].VoteResults, 1)
			assert.Equal(t, "transient", history[4].LastError)
			for i := 1; i < len(history); i++ {
				assert.True(t, history[i].UpdatedAt.After(history[i-1].UpdatedAt))
			}
		})
	}
}

func TestCheckpointRestore(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t, b)
			populated(t, s)

			require.NoError(t, s.Checkpoint(ctx, "auth_validation_attempt_1"))
			snapshot := s.State()

			require.NoError(t, s.UpdateComponent(ctx, "auth", func(c *ComponentState) {
				c.Status = ComponentComplete
			}))

			restored, err := s.Restore(ctx, "auth_validation_attempt_1")
			require.NoError(t, err)
			assert.Equal(t, snapshot, restored)
			assert.Equal(t, ComponentComplete, s.State().Components["auth"].Status, "restore must not touch live state")

			labels, err := s.Checkpoints(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"auth_validation_attempt_1"}, labels)

			_, err = s.Restore(ctx, "missing")
			code, ok := errors.CodeOf(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCodeCheckpointNotFound, code)
		})
	}
}

func TestCheckpointIsWriteOnce(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t, b)
			populated(t, s)

			require.NoError(t, s.Checkpoint(ctx, "auth_fix_attempt_1"))
			require.NoError(t, s.UpdateComponent(ctx, "auth", func(c *ComponentState) {
				c.FixAttempts = 7
			}))

			err := s.Checkpoint(ctx, "auth_fix_attempt_1")
			code, ok := errors.CodeOf(err)
			require.True(t, ok, "expected a coded error, got %v", err)
			assert.Equal(t, errors.ErrCodeCheckpointExists, code)

			restored, err := s.Restore(ctx, "auth_fix_attempt_1")
			require.NoError(t, err)
			assert.Zero(t, restored.Components["auth"].FixAttempts)

			labels, err := s.Checkpoints(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"auth_fix_attempt_1"}, labels)
		})
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend())
	populated(t, s)
	require.NoError(t, s.Checkpoint(ctx, "before"))
	require.NoError(t, s.UpdatePhase(ctx, "documentation", PhaseInProgress))

	st, err := s.Rollback(ctx, "before")
	require.NoError(t, err)
	assert.Equal(t, "components", st.CurrentPhase)

	reloaded := newTestStore(t, s.backend)
	got, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "components", got.CurrentPhase)
}

func TestCheckpointRejectsUnsafeLabel(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	populated(t, s)

	err := s.Checkpoint(context.Background(), "../escape")
	code, ok := errors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeCheckpointWriteFailed, code)
}

func TestMarkComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("all complete", func(t *testing.T) {
		s := newTestStore(t, NewMemoryBackend())
		_, err := s.Load(ctx)
		require.NoError(t, err)
		for _, id := range []domain.ComponentID{"a", "b"} {
			require.NoError(t, s.UpdateComponent(ctx, id, func(c *ComponentState) { c.Status = ComponentComplete }))
		}

		status, err := s.MarkComplete(ctx, []domain.ComponentID{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, RunComplete, status)
		st := s.State()
		assert.Equal(t, PhaseComplete, st.PhaseStatus)
		assert.False(t, st.CompletedAt.IsZero())
		assert.False(t, st.Components["a"].CompletedAt.IsZero())
	})

	t.Run("partial completion is blocked", func(t *testing.T) {
		s := newTestStore(t, NewMemoryBackend())
		_, err := s.Load(ctx)
		require.NoError(t, err)
		require.NoError(t, s.UpdateComponent(ctx, "a", func(c *ComponentState) { c.Status = ComponentComplete }))
		require.NoError(t, s.UpdateComponent(ctx, "b", func(c *ComponentState) { c.Status = ComponentFixing }))

		status, err := s.MarkComplete(ctx, []domain.ComponentID{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, RunBlocked, status)

		st := s.State()
		assert.Equal(t, PhaseBlocked, st.PhaseStatus)
		assert.Equal(t, ComponentBlocked, st.Components["b"].Status)
		assert.Equal(t, ComponentBlocked, st.Components["c"].Status)
		assert.Equal(t, "incomplete components: b, c", st.LastError)
	})
}

type failingBackend struct {
	*MemoryBackend
	failCurrent bool
	failHistory bool
}

func (f *failingBackend) WriteCurrent(ctx context.Context, data []byte) error {
	if f.failCurrent {
		return fmt.Errorf("disk full")
	}
	return f.MemoryBackend.WriteCurrent(ctx, data)
}

func (f *failingBackend) AppendHistory(ctx context.Context, data []byte) error {
	if f.failHistory {
		return fmt.Errorf("disk full")
	}
	return f.MemoryBackend.AppendHistory(ctx, data)
}

func TestPersistenceFailurePropagates(t *testing.T) {
	ctx := context.Background()

	t.Run("current write", func(t *testing.T) {
		b := &failingBackend{MemoryBackend: NewMemoryBackend()}
		s := newTestStore(t, b)
		_, err := s.Load(ctx)
		require.NoError(t, err)
		require.NoError(t, s.UpdatePhase(ctx, "planning", PhaseInProgress))

		b.failCurrent = true
		err = s.UpdatePhase(ctx, "planning", PhaseComplete)
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, "STATE"))
		assert.Equal(t, PhaseInProgress, s.State().PhaseStatus, "failed write must not change live state")
	})

	t.Run("history append", func(t *testing.T) {
		b := &failingBackend{MemoryBackend: NewMemoryBackend(), failHistory: true}
		s := newTestStore(t, b)
		_, err := s.Load(ctx)
		require.NoError(t, err)

		_, err = s.AddDiscovery(ctx, "planning", "planner", "x")
		code, ok := errors.CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrCodeStateWriteFailed, code)
	})

	t.Run("mutator error writes nothing", func(t *testing.T) {
		b := NewMemoryBackend()
		s := newTestStore(t, b)
		_, err := s.Load(ctx)
		require.NoError(t, err)

		sentinel := stderrors.New("reject")
		err = s.Mutate(ctx, func(st *WorkflowState) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
		_, err = b.ReadCurrent(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLoadRejectsCorruptAndNewerState(t *testing.T) {
	ctx := context.Background()

	b := NewMemoryBackend()
	require.NoError(t, b.WriteCurrent(ctx, []byte("{not json")))
	_, err := newTestStore(t, b).Load(ctx)
	code, _ := errors.CodeOf(err)
	assert.Equal(t, errors.ErrCodeStateCorrupt, code)

	require.NoError(t, b.WriteCurrent(ctx, []byte(`{"version": 99}`)))
	_, err = newTestStore(t, b).Load(ctx)
	code, _ = errors.CodeOf(err)
	assert.Equal(t, errors.ErrCodeStateCorrupt, code)
}

func TestMutateBeforeLoad(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	err := s.SetError(context.Background(), "x")
	assert.True(t, errors.HasCategory(err, "STATE"))
}

func TestSanitizeLabel(t *testing.T) {
	tests := map[string]string{
		"auth_fix_attempt_1": "auth_fix_attempt_1",
		"phase: planning/1":  "phase__planning_1",
		"../etc":             "etc",
		"":                   "checkpoint",
		"???":                "checkpoint",
	}
	for in, want := range tests {
		got := SanitizeLabel(in)
		assert.Equal(t, want, got, "SanitizeLabel(%q)", in)
		assert.NoError(t, ValidateLabel(got))
	}
}
