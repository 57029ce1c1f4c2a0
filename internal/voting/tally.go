package voting

import (
	"math"
	"sort"
)

// Defaults for gates that do not override them.
const (
	DefaultThreshold  = 2.0 / 3.0
	DefaultConfidence = 0.5
	DefaultVoters     = 3
)

// Method names the tally algorithm that produced an outcome.
type Method string

const (
	MethodWeighted Method = "weighted"
	MethodMajority Method = "majority"
)

// VoteRecord is one valid vote.
type VoteRecord struct {
	Voter  string `json:"voter"`
	Option string `json:"option"`
	// Confidence is nil when the voter did not state one.
	Confidence *float64 `json:"confidence,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// Tally is the result of counting a batch of votes.
type Tally struct {
	Consensus bool               `json:"consensus"`
	Winner    string             `json:"winner,omitempty"`
	Scores    map[string]float64 `json:"scores"`
	Method    Method             `json:"method"`
}

// HasConfidence reports whether any vote carries an explicit confidence.
func HasConfidence(votes []VoteRecord) bool {
	for _, v := range votes {
		if v.Confidence != nil {
			return true
		}
	}
	return false
}

// TallyWeighted sums clamped confidences per option; votes without one weigh
// defaultConfidence. The winner is the option, scanned by descending weight,
// whose share of the total weight reaches threshold. Without any confidence in
// the batch, or when every weight is zero, it delegates to TallyMajority.
func TallyWeighted(votes []VoteRecord, options []string, threshold, defaultConfidence float64) Tally {
	if !HasConfidence(votes) {
		return TallyMajority(votes, options, threshold)
	}

	scores := initScores(votes, options)
	total := 0.0
	for _, v := range votes {
		w := defaultConfidence
		if v.Confidence != nil {
			w = *v.Confidence
		}
		w = clamp(w)
		scores[v.Option] += w
		total += w
	}

	// every vote weighed zero: counting heads is the only signal left
	if total <= 0 {
		return TallyMajority(votes, options, threshold)
	}

	t := Tally{Scores: scores, Method: MethodWeighted}

	for _, option := range rank(scores, options) {
		if scores[option]/total >= threshold {
			t.Consensus = true
			t.Winner = option
			break
		}
	}
	return t
}

// TallyMajority counts raw votes. The winner is the option, scanned by
// descending count, whose count reaches int(total*threshold). An empty batch
// never reaches consensus.
func TallyMajority(votes []VoteRecord, options []string, threshold float64) Tally {
	scores := initScores(votes, options)
	for _, v := range votes {
		scores[v.Option]++
	}

	t := Tally{Scores: scores, Method: MethodMajority}
	if len(votes) == 0 {
		return t
	}

	required := float64(int(float64(len(votes)) * threshold))
	for _, option := range rank(scores, options) {
		if scores[option] > 0 && scores[option] >= required {
			t.Consensus = true
			t.Winner = option
			break
		}
	}
	return t
}

func initScores(votes []VoteRecord, options []string) map[string]float64 {
	scores := make(map[string]float64, len(options))
	for _, o := range options {
		scores[o] = 0
	}
	for _, v := range votes {
		if _, ok := scores[v.Option]; !ok {
			scores[v.Option] = 0
		}
	}
	return scores
}

// rank orders options by descending score; equal scores keep declared order,
// and options seen only in votes come after declared ones alphabetically.
func rank(scores map[string]float64, options []string) []string {
	order := make(map[string]int, len(scores))
	for i, o := range options {
		order[o] = i
	}
	ranked := make([]string, 0, len(scores))
	for o := range scores {
		ranked = append(ranked, o)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		ia, aDeclared := order[a]
		ib, bDeclared := order[b]
		switch {
		case aDeclared && bDeclared:
			return ia < ib
		case aDeclared != bDeclared:
			return aDeclared
		default:
			return a < b
		}
	})
	return ranked
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
