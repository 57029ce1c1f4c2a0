package state

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
	"github.com/felixgeelhaar/orchestra/internal/voting"
)

// Store owns the live WorkflowState of one run. Every mutator changes a copy
// of the state, persists it and only then makes it live, so a failed write
// leaves memory and disk in agreement and the error reaches the caller.
type Store struct {
	mu      sync.Mutex
	backend Backend
	state   *WorkflowState
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewStore creates a store over backend. logger and m may be nil.
func NewStore(backend Backend, logger *log.Logger, m *metrics.Metrics) *Store {
	return &Store{
		backend: backend,
		logger:  log.OrDefault(logger).With("component", "state"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC().Round(0) },
	}
}

// Load reads the current record or creates a fresh state with a new run ID
// and start time. A fresh state is not written until the first save.
func (s *Store) Load(ctx context.Context) (*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.backend.ReadCurrent(ctx)
	if stderrors.Is(err, ErrNotFound) {
		s.state = NewWorkflowState(uuid.NewString(), s.now())
		s.logger.Debug("created fresh workflow state", "run_id", s.state.RunID)
		return s.state.Clone(), nil
	}
	if err != nil {
		return nil, errors.NewStateReadError("workflow state", err)
	}

	st, err := decode(data)
	if err != nil {
		return nil, err
	}
	s.state = st
	s.logger.Debug("loaded workflow state", "run_id", st.RunID, "phase", st.CurrentPhase, "status", st.PhaseStatus)
	return st.Clone(), nil
}

// Exists reports whether a state record has been persisted.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, err := s.backend.ReadCurrent(ctx)
	if stderrors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStateReadError("workflow state", err)
	}
	return true, nil
}

// State returns a copy of the live state, loading nothing.
func (s *Store) State() *WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	return s.state.Clone()
}

// Save makes st the live state, stamps UpdatedAt, overwrites the current
// record and appends it to the history log.
func (s *Store) Save(ctx context.Context, st *WorkflowState) error {
	if st == nil {
		return errors.NewStateWriteError("workflow state", fmt.Errorf("nil state"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, st.Clone())
}

func (s *Store) saveLocked(ctx context.Context, st *WorkflowState) error {
	st.Version = CurrentVersion
	st.UpdatedAt = s.now()

	data, err := json.Marshal(st)
	if err != nil {
		return errors.NewStateWriteError("workflow state", err)
	}

	if err := s.backend.WriteCurrent(ctx, data); err != nil {
		s.metrics.RecordStateWrite("current", false)
		return errors.NewStateWriteError("workflow state", err)
	}
	s.metrics.RecordStateWrite("current", true)
	s.state = st

	if err := s.backend.AppendHistory(ctx, data); err != nil {
		s.metrics.RecordStateWrite("history", false)
		return errors.NewStateWriteError("state history", err)
	}
	s.metrics.RecordStateWrite("history", true)
	return nil
}

// Mutate applies fn to a copy of the live state and saves it. If fn returns
// an error nothing is written.
func (s *Store) Mutate(ctx context.Context, fn func(*WorkflowState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return errors.NewStateWriteError("workflow state", fmt.Errorf("store not loaded"))
	}
	next := s.state.Clone()
	if err := fn(next); err != nil {
		return err
	}
	return s.saveLocked(ctx, next)
}

// Checkpoint writes the live state under label. Checkpoints are independent
// of the history log, never read by normal resumption and never overwritten:
// an existing label fails with STATE-006.
func (s *Store) Checkpoint(ctx context.Context, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return errors.Wrap(errors.ErrCodeCheckpointWriteFailed, "failed to write checkpoint "+label, fmt.Errorf("store not loaded"))
	}
	data, err := json.Marshal(s.state)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCheckpointWriteFailed, "failed to write checkpoint "+label, err)
	}
	if err := s.backend.WriteCheckpoint(ctx, label, data); err != nil {
		s.metrics.RecordStateWrite("checkpoint", false)
		if stderrors.Is(err, ErrCheckpointExists) {
			return errors.NewCheckpointExistsError(label)
		}
		return errors.Wrap(errors.ErrCodeCheckpointWriteFailed, "failed to write checkpoint "+label, err).
			WithSuggestion("Check that the run directory is writable")
	}
	s.metrics.RecordStateWrite("checkpoint", true)
	s.logger.Debug("checkpoint written", "label", label)
	return nil
}

// Restore reads the checkpoint label. The live state is left untouched.
func (s *Store) Restore(ctx context.Context, label string) (*WorkflowState, error) {
	data, err := s.backend.ReadCheckpoint(ctx, label)
	if stderrors.Is(err, ErrNotFound) {
		return nil, errors.NewCheckpointNotFoundError(label)
	}
	if err != nil {
		return nil, errors.NewStateReadError("checkpoint "+label, err)
	}
	return decode(data)
}

// Rollback restores label and saves it as the live state.
func (s *Store) Rollback(ctx context.Context, label string) (*WorkflowState, error) {
	st, err := s.Restore(ctx, label)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("state rolled back to checkpoint", "label", label, "run_id", st.RunID)
	return s.State(), nil
}

// Checkpoints lists checkpoint labels alphabetically.
func (s *Store) Checkpoints(ctx context.Context) ([]string, error) {
	labels, err := s.backend.ListCheckpoints(ctx)
	if err != nil {
		return nil, errors.NewStateReadError("checkpoint list", err)
	}
	return labels, nil
}

// History returns every autosaved snapshot, oldest first.
func (s *Store) History(ctx context.Context) ([]*WorkflowState, error) {
	records, err := s.backend.ReadHistory(ctx)
	if err != nil {
		return nil, errors.NewStateReadError("state history", err)
	}
	out := make([]*WorkflowState, 0, len(records))
	for i, rec := range records {
		st, err := decode(rec)
		if err != nil {
			return nil, fmt.Errorf("history record %d: %w", i, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// UpdatePhase records phase as the current phase with the given status.
func (s *Store) UpdatePhase(ctx context.Context, phase string, status PhaseStatus) error {
	return s.Mutate(ctx, func(st *WorkflowState) error {
		st.CurrentPhase = phase
		st.PhaseStatus = status
		st.Phases[phase] = status
		st.PhaseHistory = append(st.PhaseHistory, PhaseRecord{Phase: phase, Status: status, At: s.now()})
		return nil
	})
}

// UpdateComponent applies fn to the component record, creating it on first use.
func (s *Store) UpdateComponent(ctx context.Context, id domain.ComponentID, fn func(*ComponentState)) error {
	return s.Mutate(ctx, func(st *WorkflowState) error {
		now := s.now()
		c, ok := st.Components[id]
		if !ok {
			c = ComponentState{ID: id, Status: ComponentNotStarted, StartedAt: now}
		}
		fn(&c)
		c.UpdatedAt = now
		if c.Status == ComponentComplete && c.CompletedAt.IsZero() {
			c.CompletedAt = now
		}
		st.Components[id] = c
		return nil
	})
}

// AddDiscovery appends to the discovery log and returns the stored entry.
func (s *Store) AddDiscovery(ctx context.Context, phase, source, content string) (Discovery, error) {
	d := Discovery{
		ID:        uuid.NewString(),
		Phase:     phase,
		Source:    source,
		Content:   content,
		Timestamp: s.now(),
	}
	err := s.Mutate(ctx, func(st *WorkflowState) error {
		st.Discoveries = append(st.Discoveries, d)
		return nil
	})
	return d, err
}

// AddVoteResult appends a gate outcome to the voting history.
func (s *Store) AddVoteResult(ctx context.Context, outcome voting.Outcome) error {
	return s.Mutate(ctx, func(st *WorkflowState) error {
		st.VoteResults = append(st.VoteResults, outcome)
		return nil
	})
}

// SetError records the last error. An empty message clears it.
func (s *Store) SetError(ctx context.Context, message string) error {
	return s.Mutate(ctx, func(st *WorkflowState) error {
		st.LastError = message
		return nil
	})
}

// SetEscalation records the run-level escalation. nil clears it.
func (s *Store) SetEscalation(ctx context.Context, esc *Escalation) error {
	return s.Mutate(ctx, func(st *WorkflowState) error {
		if esc != nil && esc.At.IsZero() {
			esc.At = s.now()
		}
		st.Escalation = esc
		return nil
	})
}

// MarkComplete finishes the run. The run is Complete only when every
// component in expected and in the state is Complete; any other component
// is marked Blocked and the run ends Blocked instead.
func (s *Store) MarkComplete(ctx context.Context, expected []domain.ComponentID) (RunStatus, error) {
	var status RunStatus
	err := s.Mutate(ctx, func(st *WorkflowState) error {
		now := s.now()
		for _, id := range expected {
			if _, ok := st.Components[id]; !ok {
				st.Components[id] = ComponentState{ID: id, Status: ComponentNotStarted, StartedAt: now}
			}
		}

		var incomplete []string
		for id, c := range st.Components {
			if c.Status == ComponentComplete {
				continue
			}
			incomplete = append(incomplete, string(id))
			if c.Status != ComponentBlocked {
				c.Status = ComponentBlocked
				if c.LastError == "" {
					c.LastError = "workflow finished before component completed"
				}
				c.UpdatedAt = now
				st.Components[id] = c
			}
		}

		st.CompletedAt = now
		if len(incomplete) == 0 {
			st.Status = RunComplete
			st.PhaseStatus = PhaseComplete
		} else {
			sortStrings(incomplete)
			st.Status = RunBlocked
			st.PhaseStatus = PhaseBlocked
			if st.LastError == "" {
				st.LastError = "incomplete components: " + strings.Join(incomplete, ", ")
			}
		}
		status = st.Status
		return nil
	})
	return status, err
}

// MarkBlocked ends the run as Blocked with reason.
func (s *Store) MarkBlocked(ctx context.Context, reason string) error {
	return s.Mutate(ctx, func(st *WorkflowState) error {
		st.Status = RunBlocked
		st.PhaseStatus = PhaseBlocked
		if st.CurrentPhase != "" {
			st.Phases[st.CurrentPhase] = PhaseBlocked
		}
		st.LastError = reason
		return nil
	})
}

// Clone returns a deep copy of s.
func (s *WorkflowState) Clone() *WorkflowState {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("state: clone marshal: %v", err))
	}
	var out WorkflowState
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("state: clone unmarshal: %v", err))
	}
	out.ensureMaps()
	return &out
}

func (s *WorkflowState) ensureMaps() {
	if s.Phases == nil {
		s.Phases = make(map[string]PhaseStatus)
	}
	if s.Components == nil {
		s.Components = make(map[domain.ComponentID]ComponentState)
	}
}

func decode(data []byte) (*WorkflowState, error) {
	var st WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStateCorrupt, "workflow state is not valid JSON", err).
			WithSuggestion("Restore a checkpoint with 'orchestra checkpoint restore <label> --apply'")
	}
	if st.Version > CurrentVersion {
		return nil, errors.New(errors.ErrCodeStateCorrupt,
			fmt.Sprintf("workflow state version %d is newer than supported version %d", st.Version, CurrentVersion)).
			WithSuggestion("Upgrade orchestra to resume this run")
	}
	st.ensureMaps()
	return &st, nil
}

// SanitizeLabel maps arbitrary text to a valid checkpoint label.
func SanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), "._-")
	if out == "" {
		out = "checkpoint"
	}
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}
