// Package matcher scores an inbound message against the topics and intents
// of a policy snapshot.
package matcher

import (
	"context"
	"errors"
	"sort"

	"github.com/suPer8Hu/support-pilot/internal/policy"
)

var (
	ErrUnavailable = errors.New("matcher unavailable")
	ErrTimeout     = errors.New("matcher timeout")
)

const (
	// ContextWeight discounts a match found in earlier user messages.
	ContextWeight = 0.8
	// ContextLift caps how much earlier messages add to a message's own score.
	ContextLift = 0.15
)

type Request struct {
	Client string
	Text   string
	// Context holds earlier user messages, oldest first.
	Context  []string
	Snapshot *policy.Snapshot
}

// Candidate is one (topic, intent) with a confidence in [0,1].
type Candidate struct {
	TopicID string  `json:"topic_id"`
	Intent  string  `json:"intent"`
	Score   float64 `json:"score"`
}

// Matcher returns candidates highest score first.
type Matcher interface {
	Match(ctx context.Context, req Request) ([]Candidate, error)
}

// Sort orders candidates by score desc, then topic id, then intent name.
func Sort(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		if cs[i].TopicID != cs[j].TopicID {
			return cs[i].TopicID < cs[j].TopicID
		}
		return cs[i].Intent < cs[j].Intent
	})
}

// Best returns the top candidate at or above threshold.
func Best(cs []Candidate, threshold float64) (Candidate, bool) {
	if len(cs) == 0 || cs[0].Score < threshold {
		return Candidate{}, false
	}
	return cs[0], true
}

func wrapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return errors.Join(ErrUnavailable, err)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// blend lets earlier messages raise the score of a message that already
// matches on its own, by at most ContextLift. Context alone never matches.
func blend(textScore, contextScore float64) float64 {
	if textScore <= 0 {
		return 0
	}
	c := ContextWeight * contextScore
	if c > textScore+ContextLift {
		c = textScore + ContextLift
	}
	if c > textScore {
		return clamp01(c)
	}
	return clamp01(textScore)
}
