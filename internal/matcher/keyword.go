package matcher

import (
	"context"
	"strings"
)

// KeywordMatcher scores intents by how many of their keywords appear in the
// message. It needs no network and is what local setups and tests run with.
type KeywordMatcher struct{}

func (KeywordMatcher) Match(ctx context.Context, req Request) ([]Candidate, error) {
	if req.Snapshot == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(ctx, err)
	}

	text := strings.ToLower(req.Text)
	prior := strings.ToLower(strings.Join(req.Context, "\n"))

	var out []Candidate
	for _, t := range req.Snapshot.TopicsFor(req.Client) {
		for i := range t.Intents {
			in := &t.Intents[i]
			s := blend(keywordScore(text, in.Keywords), keywordScore(prior, in.Keywords))
			if s <= 0 {
				continue
			}
			out = append(out, Candidate{TopicID: t.ID, Intent: in.Name, Score: s})
		}
	}
	Sort(out)
	return out, nil
}

func keywordScore(text string, keywords []string) float64 {
	if text == "" {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return clamp01(0.6 + 0.2*float64(hits-1))
}
