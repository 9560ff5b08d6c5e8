package matcher

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/suPer8Hu/support-pilot/internal/ai"
	"github.com/suPer8Hu/support-pilot/internal/policy"
)

type intentKey struct {
	topic  string
	intent string
}

// EmbeddingMatcher compares the message embedding with one embedding per
// intent. Intent vectors are computed once per snapshot version.
type EmbeddingMatcher struct {
	embedder ai.Embedder

	group   singleflight.Group
	mu      sync.Mutex
	version uint64
	vectors map[intentKey][]float32
}

func NewEmbeddingMatcher(e ai.Embedder) *EmbeddingMatcher {
	return &EmbeddingMatcher{embedder: e}
}

func (m *EmbeddingMatcher) Match(ctx context.Context, req Request) ([]Candidate, error) {
	if req.Snapshot == nil || strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}

	vectors, err := m.intentVectors(ctx, req.Snapshot)
	if err != nil {
		return nil, err
	}

	inputs := []string{req.Text}
	prior := strings.TrimSpace(strings.Join(req.Context, "\n"))
	if prior != "" {
		inputs = append(inputs, prior)
	}
	q, err := m.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	if len(q) != len(inputs) {
		return nil, ErrUnavailable
	}

	var out []Candidate
	for _, t := range req.Snapshot.TopicsFor(req.Client) {
		for _, in := range t.Intents {
			v, ok := vectors[intentKey{t.ID, in.Name}]
			if !ok {
				continue
			}
			textScore := clamp01(cosine(q[0], v))
			ctxScore := 0.0
			if len(q) > 1 {
				ctxScore = clamp01(cosine(q[1], v))
			}
			out = append(out, Candidate{TopicID: t.ID, Intent: in.Name, Score: blend(textScore, ctxScore)})
		}
	}
	Sort(out)
	return out, nil
}

func (m *EmbeddingMatcher) intentVectors(ctx context.Context, s *policy.Snapshot) (map[intentKey][]float32, error) {
	m.mu.Lock()
	if m.vectors != nil && m.version == s.Version {
		v := m.vectors
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	// one embedding call per version, however many turns are waiting
	ch := m.group.DoChan(strconv.FormatUint(s.Version, 10), func() (any, error) {
		return m.embedIntents(ctx, s)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(map[intentKey][]float32), nil
	case <-ctx.Done():
		return nil, wrapErr(ctx, ctx.Err())
	}
}

func (m *EmbeddingMatcher) embedIntents(ctx context.Context, s *policy.Snapshot) (map[intentKey][]float32, error) {
	var keys []intentKey
	var texts []string
	topics := s.Topics()
	for i := range topics {
		t := &topics[i]
		for j := range t.Intents {
			in := &t.Intents[j]
			keys = append(keys, intentKey{t.ID, in.Name})
			texts = append(texts, t.MatchText(in))
		}
	}

	vecs, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	if len(vecs) != len(keys) {
		return nil, ErrUnavailable
	}
	out := make(map[intentKey][]float32, len(keys))
	for i, k := range keys {
		out[k] = vecs[i]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vectors == nil || s.Version >= m.version {
		m.vectors = out
		m.version = s.Version
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
