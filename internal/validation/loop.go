package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/telemetry"
	"github.com/felixgeelhaar/orchestra/internal/voting"
)

// Attempt outcomes recorded in the component history.
const (
	AttemptPassed          = "passed"
	AttemptFailed          = "failed"
	AttemptRepeat          = "repeat"
	AttemptReviewersFailed = "reviewers_failed"
	AttemptEscalated       = "escalated"
)

// Escalation reasons.
const (
	ReasonMaxAttempts   = "max attempts reached"
	ReasonVoteEscalate  = "same issues repeated; reviewers voted to escalate"
	ReasonNoConsensus   = "same issues repeated; no consensus on how to proceed"
	ReasonRepeatNoGate  = "same issues repeated"
	ReasonManualCheck   = "integration check requires manual review"
	maxHistoryErrorSize = 200
)

// Target is the component under validation.
type Target struct {
	Manifest  *manifest.Manifest
	Component manifest.Component
	// Tier is used for reviewer calls.
	Tier    domain.Tier
	Context string
}

// Result is the terminal outcome of a loop. Either Passed is true, or
// Escalated is true with a Reason.
type Result struct {
	Component domain.ComponentID
	Passed    bool
	Escalated bool
	Reason    string
	// Rounds is the number of validation rounds that ran.
	Rounds   int
	Issues   []domain.Issue
	Vote     *voting.Outcome
	Attempts []state.Attempt
}

// Loop validates a component with parallel reviewers and drives fixes until
// it passes or escalates.
type Loop struct {
	inv      invoker.Invoker
	gate     *voting.Gate
	store    *state.Store
	settings Settings
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// NewLoop creates a loop. gate may be nil, in which case repeated issues
// escalate without a vote. logger and m may be nil.
func NewLoop(inv invoker.Invoker, gate *voting.Gate, store *state.Store, settings Settings, logger *log.Logger, m *metrics.Metrics) *Loop {
	return &Loop{
		inv:      inv,
		gate:     gate,
		store:    store,
		settings: settings.withDefaults(),
		logger:   log.OrDefault(logger),
		metrics:  m,
	}
}

// Settings returns the effective settings.
func (l *Loop) Settings() Settings {
	return l.settings
}

// Run validates t.Component for at most MaxAttempts rounds. The returned
// error is reserved for persistence failures and cancellation; a component
// that cannot be made to pass is an escalated Result.
func (l *Loop) Run(ctx context.Context, t Target) (Result, error) {
	id := t.Component.ID
	ctx, span := telemetry.StartComponentSpan(ctx, string(id), "validate")
	defer span.End()

	logger := l.logger.With("component", string(id))
	reviewers := ReviewerCount(t.Manifest.RiskLevel, t.Manifest.Execution.Reviewers, t.Component.Purpose, l.settings.SecurityKeywords)

	res := Result{Component: id}
	var previous []domain.Issue
	repeats := 0
	strategy := DecisionFixInPlace

	for attempt := 1; attempt <= l.settings.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Rounds = attempt

		if err := l.checkpoint(ctx, id, "validation", l.store.State().Component(id).ValidationAttempts+1); err != nil {
			return res, err
		}
		if err := l.store.UpdateComponent(ctx, id, func(c *state.ComponentState) {
			c.Status = state.ComponentValidating
			c.ValidationAttempts++
		}); err != nil {
			return res, err
		}

		logger.Info("validation round started", "attempt", attempt, "reviewers", reviewers)
		issues, reviewErr := l.review(ctx, t, reviewers, attempt)

		record := state.Attempt{Index: attempt}
		if reviewErr != nil {
			record.Outcome = AttemptReviewersFailed
			record.Error = truncate(reviewErr.Error(), maxHistoryErrorSize)
			record.RemainingIssues = len(domain.BlockingIssues(res.Issues))
			l.metrics.RecordValidation(false, nil)
			logger.Warn("all reviewers failed", "attempt", attempt, "error", reviewErr)
		} else {
			res.Issues = issues
			record.RemainingIssues = len(domain.BlockingIssues(issues))
			passed := Passed(issues)
			l.metrics.RecordValidation(passed, countBySeverity(issues))

			switch {
			case passed:
				record.Outcome = AttemptPassed
			case previous != nil && IsRepeat(issues, previous, l.settings.RepeatOverlap):
				repeats++
				record.Outcome = AttemptRepeat
			default:
				record.Outcome = AttemptFailed
			}
			prior := previous
			previous = issues

			if err := l.store.UpdateComponent(ctx, id, func(c *state.ComponentState) {
				c.PreviousIssues = prior
				c.Issues = issues
			}); err != nil {
				return res, err
			}

			if passed {
				res.Passed = true
				res.Attempts = append(res.Attempts, record)
				if err := l.recordAttempt(ctx, id, record); err != nil {
					return res, err
				}
				logger.Info("validation passed", "attempt", attempt, "minor_issues", len(issues))
				telemetry.RecordSuccess(span, attribute.Int("orchestra.attempts", attempt))
				return res, nil
			}

			if repeats >= l.settings.SameIssueThreshold {
				logger.Warn("same issues repeated", "attempt", attempt, "repeats", repeats)
				escalate, reason, err := l.decideOnRepeat(ctx, t, issues, &res)
				if err != nil {
					return res, err
				}
				if escalate {
					record.Outcome = AttemptEscalated
					res.Attempts = append(res.Attempts, record)
					if err := l.recordAttempt(ctx, id, record); err != nil {
						return res, err
					}
					return l.escalate(ctx, res, reason, span)
				}
				repeats = 0
				strategy = res.Vote.Winner
			}
		}

		res.Attempts = append(res.Attempts, record)
		if err := l.recordAttempt(ctx, id, record); err != nil {
			return res, err
		}

		if attempt == l.settings.MaxAttempts {
			break
		}
		if len(domain.BlockingIssues(res.Issues)) == 0 {
			// nothing known to fix; re-run the reviewers
			continue
		}
		if err := l.fix(ctx, t, attempt, res.Issues, res.Attempts, strategy); err != nil {
			return res, err
		}
	}

	return l.escalate(ctx, res, ReasonMaxAttempts, span)
}

// FixTier returns the tier of the fix call made after validation attempt n.
func FixTier(attempt int) domain.Tier {
	if attempt >= 2 {
		return domain.TierAdvanced
	}
	return domain.TierStandard
}

// CheckpointLabel names the checkpoint taken around a validation or fix attempt.
func CheckpointLabel(id domain.ComponentID, kind string, attempt int) string {
	return state.SanitizeLabel(fmt.Sprintf("%s_%s_attempt_%d", id, kind, attempt))
}

func (l *Loop) review(ctx context.Context, t Target, reviewers, attempt int) ([]domain.Issue, error) {
	reqs := make([]invoker.Request, reviewers)
	for i := range reqs {
		reqs[i] = invoker.Request{
			Agent:   l.settings.ValidatorAgent,
			Prompt:  reviewerPrompt(t, i+1, reviewers),
			Tier:    t.Tier,
			Schema:  invoker.SchemaIssues,
			Context: t.Context,
			Metadata: map[string]string{
				"component":      string(t.Component.ID),
				"attempt":        strconv.Itoa(attempt),
				"reviewer_index": strconv.Itoa(i + 1),
				"reviewers":      strconv.Itoa(reviewers),
			},
		}
	}

	limit := l.settings.Concurrency
	if t.Manifest.IsSequential() {
		limit = 1
	}
	results := invoker.Batch(ctx, l.inv, reqs, limit)

	var merged []domain.Issue
	var failures []string
	for i, r := range results {
		var payload invoker.IssuesPayload
		if err := r.Decode(&payload); err != nil {
			failures = append(failures, fmt.Sprintf("reviewer %d: %v", i+1, err))
			continue
		}
		merged = append(merged, payload.Normalized()...)
	}
	if len(failures) == len(results) {
		return nil, fmt.Errorf("%d of %d reviewers failed: %s", len(failures), len(results), failures[0])
	}
	if len(failures) > 0 {
		l.logger.Warn("some reviewers failed", "component", string(t.Component.ID), "failed", len(failures), "reviewers", len(results))
	}
	return Dedupe(merged), nil
}

// decideOnRepeat runs the repeat-issue gate. It reports whether the loop must
// escalate and why.
func (l *Loop) decideOnRepeat(ctx context.Context, t Target, issues []domain.Issue, res *Result) (bool, string, error) {
	if l.gate == nil {
		return true, ReasonRepeatNoGate, nil
	}

	outcome, err := l.gate.Run(ctx, voting.Request{
		Name:    CheckpointLabel(t.Component.ID, "repeat", res.Rounds),
		Options: RepeatOptions,
		Prompt:  repeatPrompt(t, issues, res.Attempts),
		Tier:    domain.TierAdvanced,
		Context: t.Context,
	})
	if err != nil {
		return false, "", err
	}
	res.Vote = &outcome
	if err := l.store.AddVoteResult(ctx, outcome); err != nil {
		return false, "", err
	}

	switch {
	case !outcome.Consensus:
		return true, ReasonNoConsensus, nil
	case outcome.Winner == DecisionEscalate:
		return true, ReasonVoteEscalate, nil
	default:
		l.logger.Info("repeat gate decided", "component", string(t.Component.ID), "decision", outcome.Winner)
		return false, "", nil
	}
}

func (l *Loop) fix(ctx context.Context, t Target, attempt int, issues []domain.Issue, history []state.Attempt, strategy string) error {
	id := t.Component.ID
	tier := FixTier(attempt)

	if err := l.store.UpdateComponent(ctx, id, func(c *state.ComponentState) {
		c.Status = state.ComponentFixing
		c.FixAttempts++
	}); err != nil {
		return err
	}

	ctx, span := telemetry.StartComponentSpan(ctx, string(id), "fix")
	defer span.End()

	res := l.inv.Invoke(ctx, invoker.Request{
		Agent:   l.settings.FixerAgent,
		Prompt:  fixPrompt(t, issues, history, strategy),
		Tier:    tier,
		Schema:  invoker.SchemaStatus,
		Context: t.Context,
		Metadata: map[string]string{
			"component": string(id),
			"attempt":   strconv.Itoa(attempt),
			"strategy":  strategy,
		},
	})

	var fixErr string
	var status invoker.StatusPayload
	if err := res.Decode(&status); err != nil {
		fixErr = err.Error()
	} else if !status.Succeeded() {
		fixErr = fmt.Sprintf("fixer reported status %q", status.Status)
	}

	if fixErr != "" {
		l.logger.Warn("fix attempt failed", "component", string(id), "attempt", attempt, "tier", tier, "error", fixErr)
		telemetry.RecordFailure(span, fixErr)
		if err := l.store.UpdateComponent(ctx, id, func(c *state.ComponentState) {
			c.LastError = truncate(fixErr, maxHistoryErrorSize)
		}); err != nil {
			return err
		}
	} else {
		l.logger.Info("fix attempt applied", "component", string(id), "attempt", attempt, "tier", tier)
		telemetry.RecordSuccess(span)
	}

	return l.checkpoint(ctx, id, "fix", l.store.State().Component(id).FixAttempts)
}

// checkpoint numbers labels from the persisted attempt counters so a later
// run on the same component continues the sequence. A label taken by an
// earlier run (possible after a rollback) moves to the next free number.
func (l *Loop) checkpoint(ctx context.Context, id domain.ComponentID, kind string, n int) error {
	for {
		err := l.store.Checkpoint(ctx, CheckpointLabel(id, kind, n))
		if code, ok := errors.CodeOf(err); !ok || code != errors.ErrCodeCheckpointExists {
			return err
		}
		n++
	}
}

func (l *Loop) recordAttempt(ctx context.Context, id domain.ComponentID, record state.Attempt) error {
	return l.store.UpdateComponent(ctx, id, func(c *state.ComponentState) {
		c.Attempts = append(c.Attempts, record)
		if record.Error != "" {
			c.LastError = record.Error
		}
	})
}

func (l *Loop) escalate(ctx context.Context, res Result, reason string, span trace.Span) (Result, error) {
	res.Passed = false
	res.Escalated = true
	res.Reason = reason

	esc := &state.Escalation{
		Reason: reason,
		Vote:   res.Vote,
		Prompt: escalationPrompt(res),
	}
	if err := l.store.UpdateComponent(ctx, res.Component, func(c *state.ComponentState) {
		c.Escalation = esc
		c.LastError = reason
	}); err != nil {
		return res, err
	}

	l.metrics.RecordEscalation(reason)
	l.logger.Warn("validation escalated", "component", string(res.Component), "reason", reason, "rounds", res.Rounds)
	telemetry.RecordFailure(span, reason, attribute.Int("orchestra.attempts", res.Rounds))
	return res, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
