package voting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
	"github.com/felixgeelhaar/orchestra/internal/telemetry"
)

// Outcome is the recorded result of one gate run.
type Outcome struct {
	Gate      string             `json:"gate"`
	Options   []string           `json:"options"`
	Threshold float64            `json:"threshold"`
	Consensus bool               `json:"consensus"`
	Winner    string             `json:"winner,omitempty"`
	Scores    map[string]float64 `json:"scores"`
	Method    Method             `json:"method"`
	Votes     []VoteRecord       `json:"votes"`
	// Discarded counts voter responses that failed or did not name a valid option.
	Discarded         int       `json:"discarded,omitempty"`
	NeedsUserDecision bool      `json:"needs_user_decision"`
	DecisionPrompt    string    `json:"decision_prompt,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Request describes one gate run.
type Request struct {
	Name    string
	Options []string
	// Voters defaults to the gate's configured count when zero.
	Voters int
	// Threshold defaults to the gate's configured threshold when zero.
	Threshold float64
	Prompt    string
	// Agent defaults to the gate's configured voter agent when empty.
	Agent   string
	Tier    domain.Tier
	Context string
}

// Config holds gate-wide defaults.
type Config struct {
	Agent             string
	Voters            int
	Threshold         float64
	DefaultConfidence float64
	// Concurrency bounds parallel voter calls; zero means all at once.
	Concurrency int
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Agent:             "voter",
		Voters:            DefaultVoters,
		Threshold:         DefaultThreshold,
		DefaultConfidence: DefaultConfidence,
	}
}

// Gate runs independent voters in parallel and tallies their votes.
// It never blocks on an external decision; an unresolved outcome carries the
// prompt for whoever resolves it.
type Gate struct {
	inv     invoker.Invoker
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewGate creates a gate. m may be nil.
func NewGate(inv invoker.Invoker, cfg Config, logger *log.Logger, m *metrics.Metrics) *Gate {
	def := DefaultConfig()
	if cfg.Agent == "" {
		cfg.Agent = def.Agent
	}
	if cfg.Voters <= 0 {
		cfg.Voters = def.Voters
	}
	if !(cfg.Threshold > 0) {
		cfg.Threshold = def.Threshold
	}
	if !(cfg.DefaultConfidence > 0) {
		cfg.DefaultConfidence = def.DefaultConfidence
	}
	return &Gate{
		inv:     inv,
		cfg:     cfg,
		logger:  log.OrDefault(logger),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run dispatches the voters and tallies the result. The only errors are
// configuration errors in req; zero valid votes is a no-consensus outcome.
func (g *Gate) Run(ctx context.Context, req Request) (Outcome, error) {
	if err := g.normalize(&req); err != nil {
		return Outcome{}, err
	}

	ctx, span := telemetry.StartVoteSpan(ctx, req.Name, req.Voters)
	defer span.End()

	optionList := strings.Join(req.Options, ", ")
	reqs := make([]invoker.Request, req.Voters)
	for i := range reqs {
		reqs[i] = invoker.Request{
			Agent:   req.Agent,
			Prompt:  voterPrompt(req, i),
			Tier:    req.Tier,
			Schema:  invoker.SchemaVote,
			Context: req.Context,
			Metadata: map[string]string{
				"gate":        req.Name,
				"voter_index": strconv.Itoa(i + 1),
				"voters":      strconv.Itoa(req.Voters),
				"options":     optionList,
			},
		}
	}

	results := invoker.Batch(ctx, g.inv, reqs, g.cfg.Concurrency)

	votes := make([]VoteRecord, 0, len(results))
	discarded := 0
	for i, res := range results {
		voter := fmt.Sprintf("%s-%d", req.Agent, i+1)
		vote, ok := parseVote(res, req.Options)
		if !ok {
			discarded++
			g.logger.Debug("discarding invalid vote", "gate", req.Name, "voter", voter, "error", res.Error)
			continue
		}
		vote.Voter = voter
		votes = append(votes, vote)
	}

	tally := TallyWeighted(votes, req.Options, req.Threshold, g.cfg.DefaultConfidence)
	outcome := Outcome{
		Gate:              req.Name,
		Options:           append([]string(nil), req.Options...),
		Threshold:         req.Threshold,
		Consensus:         tally.Consensus,
		Winner:            tally.Winner,
		Scores:            tally.Scores,
		Method:            tally.Method,
		Votes:             votes,
		Discarded:         discarded,
		NeedsUserDecision: !tally.Consensus,
		Timestamp:         g.now(),
	}
	if !outcome.Consensus {
		outcome.DecisionPrompt = DecisionPrompt(outcome)
	}

	g.metrics.RecordVote(req.Name, outcome.Consensus, string(outcome.Method))
	g.logger.Info("vote tallied",
		"gate", req.Name,
		"consensus", outcome.Consensus,
		"winner", outcome.Winner,
		"valid_votes", len(votes),
		"discarded", discarded,
		"method", string(outcome.Method),
	)

	attrs := []attribute.KeyValue{
		attribute.Bool("consensus", outcome.Consensus),
		attribute.String("winner", outcome.Winner),
		attribute.Int("valid_votes", len(votes)),
	}
	if outcome.Consensus {
		telemetry.RecordSuccess(span, attrs...)
	} else {
		telemetry.RecordFailure(span, "no consensus", attrs...)
	}

	return outcome, nil
}

func (g *Gate) normalize(req *Request) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New(errors.ErrCodeUnknownGate, "voting gate name cannot be empty")
	}
	if len(req.Options) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("voting gate %s has no options", req.Name))
	}
	seen := make(map[string]bool, len(req.Options))
	for _, o := range req.Options {
		key := strings.ToUpper(strings.TrimSpace(o))
		if key == "" || seen[key] {
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("voting gate %s has an empty or duplicate option %q", req.Name, o))
		}
		seen[key] = true
	}
	if req.Voters < 0 {
		return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("voting gate %s: voters cannot be negative", req.Name))
	}
	if req.Voters == 0 {
		req.Voters = g.cfg.Voters
	}
	if !(req.Threshold >= 0 && req.Threshold <= 1) {
		return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("voting gate %s: threshold must be within (0, 1], got %v", req.Name, req.Threshold))
	}
	if req.Threshold == 0 {
		req.Threshold = g.cfg.Threshold
	}
	if req.Agent == "" {
		req.Agent = g.cfg.Agent
	}
	return nil
}

// parseVote maps a voter response onto one of the declared options,
// matching case-insensitively and returning the declared spelling.
func parseVote(res invoker.Result, options []string) (VoteRecord, bool) {
	var payload invoker.VotePayload
	if err := res.Decode(&payload); err != nil {
		return VoteRecord{}, false
	}
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), payload.Vote) {
			return VoteRecord{
				Option:     o,
				Confidence: payload.Confidence,
				Reasoning:  payload.Reasoning,
			}, true
		}
	}
	return VoteRecord{}, false
}

func voterPrompt(req Request, index int) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	fmt.Fprintf(&b, "\n\nYou are voter %d of %d for the %q decision; decide independently.", index+1, req.Voters, req.Name)
	fmt.Fprintf(&b, "\nValid options: %s.", strings.Join(req.Options, ", "))
	b.WriteString("\nRespond with JSON: {\"vote\": <option>, \"confidence\": <0..1>, \"reasoning\": <text>}.")
	return b.String()
}
