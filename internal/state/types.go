package state

import (
	"time"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/voting"
)

// CurrentVersion is the schema version written into every persisted state.
const CurrentVersion = 1

// PhaseStatus is the status of a workflow phase.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseComplete   PhaseStatus = "complete"
	PhaseBlocked    PhaseStatus = "blocked"
	PhaseSkipped    PhaseStatus = "skipped"
)

// IsDone reports whether the phase needs no further execution.
func (p PhaseStatus) IsDone() bool {
	return p == PhaseComplete || p == PhaseSkipped
}

// ComponentStatus is the status of a component in its pipeline.
type ComponentStatus string

const (
	ComponentNotStarted   ComponentStatus = "not_started"
	ComponentSkeleton     ComponentStatus = "skeleton"
	ComponentImplementing ComponentStatus = "implementing"
	ComponentValidating   ComponentStatus = "validating"
	ComponentFixing       ComponentStatus = "fixing"
	ComponentComplete     ComponentStatus = "complete"
	ComponentBlocked      ComponentStatus = "blocked"
)

// IsTerminal reports whether the component reached Complete or Blocked.
func (c ComponentStatus) IsTerminal() bool {
	return c == ComponentComplete || c == ComponentBlocked
}

// RunStatus is the overall status of a run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunBlocked  RunStatus = "blocked"
)

// Escalation is a terminal outcome that needs an external decision.
type Escalation struct {
	Reason string `json:"reason"`
	// Vote is the unresolved gate outcome, when a gate was involved.
	Vote *voting.Outcome `json:"vote,omitempty"`
	// Prompt is what the external decision maker is asked.
	Prompt string    `json:"prompt,omitempty"`
	At     time.Time `json:"at"`
}

// Attempt summarizes one validation round of a component.
type Attempt struct {
	Index           int    `json:"index"`
	Outcome         string `json:"outcome"`
	RemainingIssues int    `json:"remaining_issues"`
	Error           string `json:"error,omitempty"`
}

// ComponentState is the mutable progress record of one component.
type ComponentState struct {
	ID                 domain.ComponentID `json:"id"`
	Status             ComponentStatus    `json:"status"`
	Issues             []domain.Issue     `json:"issues"`
	PreviousIssues     []domain.Issue     `json:"previous_issues"`
	FixAttempts        int                `json:"fix_attempts"`
	ValidationAttempts int                `json:"validation_attempts"`
	Attempts           []Attempt          `json:"attempts"`
	Commits            []string           `json:"commits"`
	StartedAt          time.Time          `json:"started_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	CompletedAt        time.Time          `json:"completed_at"`
	LastError          string             `json:"last_error,omitempty"`
	Escalation         *Escalation        `json:"escalation,omitempty"`
}

// Discovery is an append-only note produced during a run.
type Discovery struct {
	ID        string    `json:"id"`
	Phase     string    `json:"phase"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PhaseRecord is one entry of the phase transition log.
type PhaseRecord struct {
	Phase  string      `json:"phase"`
	Status PhaseStatus `json:"status"`
	At     time.Time   `json:"at"`
}

// WorkflowState is the root aggregate of a run. Exactly one live instance exists
// per run and it is persisted after every mutation.
type WorkflowState struct {
	Version      int    `json:"version"`
	RunID        string `json:"run_id"`
	Workflow     string `json:"workflow"`
	ManifestHash string `json:"manifest_hash"`

	CurrentPhase string                 `json:"current_phase"`
	PhaseStatus  PhaseStatus            `json:"phase_status"`
	Phases       map[string]PhaseStatus `json:"phases"`
	PhaseHistory []PhaseRecord          `json:"phase_history"`

	Components  map[domain.ComponentID]ComponentState `json:"components"`
	Discoveries []Discovery                           `json:"discoveries"`
	VoteResults []voting.Outcome                      `json:"vote_results"`

	RiskLevel     domain.RiskLevel `json:"risk_level"`
	ExecutionMode string           `json:"execution_mode"`
	DryRun        bool             `json:"dry_run"`

	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt time.Time   `json:"completed_at"`
	LastError   string      `json:"last_error,omitempty"`
	Escalation  *Escalation `json:"escalation,omitempty"`
}

// NewWorkflowState creates a fresh state started at now.
func NewWorkflowState(runID string, now time.Time) *WorkflowState {
	return &WorkflowState{
		Version:     CurrentVersion,
		RunID:       runID,
		PhaseStatus: PhaseNotStarted,
		Phases:      make(map[string]PhaseStatus),
		Components:  make(map[domain.ComponentID]ComponentState),
		Status:      RunRunning,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// Component returns the state of id, or a NotStarted record when none exists yet.
func (s *WorkflowState) Component(id domain.ComponentID) ComponentState {
	if c, ok := s.Components[id]; ok {
		return c
	}
	return ComponentState{ID: id, Status: ComponentNotStarted}
}

// ComponentsWithStatus returns the ids with the given status, sorted.
func (s *WorkflowState) ComponentsWithStatus(status ComponentStatus) []domain.ComponentID {
	var out []domain.ComponentID
	for id, c := range s.Components {
		if c.Status == status {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// PhaseStatusOf returns the recorded status of a phase.
func (s *WorkflowState) PhaseStatusOf(phase string) PhaseStatus {
	if st, ok := s.Phases[phase]; ok {
		return st
	}
	return PhaseNotStarted
}
