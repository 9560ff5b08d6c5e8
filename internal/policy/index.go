package policy

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the loaded topics. Callers must not
// modify anything reachable from it.
type Snapshot struct {
	Version        uint64
	LoadedAt       time.Time
	FallbackPhrase string

	fallbacks map[string]string
	topics    []Topic
	byID      map[string]int
}

func newSnapshot(topics []Topic, fallback string, fallbacks map[string]string) *Snapshot {
	byID := make(map[string]int, len(topics))
	for i, t := range topics {
		byID[t.ID] = i
	}
	return &Snapshot{
		FallbackPhrase: fallback,
		fallbacks:      fallbacks,
		topics:         topics,
		byID:           byID,
	}
}

// FallbackFor is the out-of-scope phrase in lang, or the base phrase.
func (s *Snapshot) FallbackFor(lang string) string {
	if p := strings.TrimSpace(s.fallbacks[strings.ToLower(lang)]); p != "" {
		return s.fallbacks[strings.ToLower(lang)]
	}
	return s.FallbackPhrase
}

// Topics returns all topics in document order.
func (s *Snapshot) Topics() []Topic { return s.topics }

// Topic looks a topic up by id.
func (s *Snapshot) Topic(id string) (*Topic, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.topics[i], true
}

// TopicsFor returns the topics that apply to a client, in document order.
func (s *Snapshot) TopicsFor(client string) []*Topic {
	out := make([]*Topic, 0, len(s.topics))
	for i := range s.topics {
		if s.topics[i].AllowsClient(client) {
			out = append(out, &s.topics[i])
		}
	}
	return out
}

// Loader produces a fresh snapshot, e.g. LoadFile bound to a path.
type Loader func() (*Snapshot, error)

// Index serves the current snapshot and swaps it whole on reload, so a turn
// that already holds a snapshot never sees a half-updated one.
type Index struct {
	load    Loader
	current atomic.Pointer[Snapshot]

	reloadMu sync.Mutex
	version  uint64
}

// NewIndex performs the initial load.
func NewIndex(load Loader) (*Index, error) {
	idx := &Index{load: load}
	if _, err := idx.Reload(); err != nil {
		return nil, err
	}
	return idx, nil
}

// NewStaticIndex wraps an already loaded snapshot; Reload returns it again.
func NewStaticIndex(s *Snapshot) *Index {
	idx := &Index{load: func() (*Snapshot, error) {
		return newSnapshot(s.topics, s.FallbackPhrase, s.fallbacks), nil
	}}
	idx.version = 1
	s.Version = 1
	if s.LoadedAt.IsZero() {
		s.LoadedAt = time.Now().UTC()
	}
	idx.current.Store(s)
	return idx
}

// Current returns the snapshot in effect.
func (i *Index) Current() *Snapshot { return i.current.Load() }

// Reload loads a new snapshot and publishes it. On error the previous
// snapshot stays in effect.
func (i *Index) Reload() (*Snapshot, error) {
	i.reloadMu.Lock()
	defer i.reloadMu.Unlock()

	s, err := i.load()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("policy: loader returned no snapshot")
	}
	i.version++
	s.Version = i.version
	s.LoadedAt = time.Now().UTC()
	i.current.Store(s)
	return s, nil
}
