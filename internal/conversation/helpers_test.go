package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/suPer8Hu/support-pilot/internal/matcher"
	"github.com/suPer8Hu/support-pilot/internal/policy"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// stepClock advances one second per reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func loadPolicies(t *testing.T) *policy.Index {
	t.Helper()
	s, err := policy.LoadFile("../../policies")
	if err != nil {
		t.Fatalf("load policies: %v", err)
	}
	return policy.NewStaticIndex(s)
}

type fixture struct {
	db       *gorm.DB
	repo     *Repo
	svc      *Service
	policies *policy.Index
	notifier *recordingNotifier
}

func newFixture(t *testing.T, m matcher.Matcher, mutate func(*Options)) *fixture {
	t.Helper()
	db := openTestDB(t)
	clock := newStepClock()
	repo := NewRepo(db).WithClock(clock.Now)
	idx := loadPolicies(t)
	n := &recordingNotifier{}

	if m == nil {
		m = matcher.KeywordMatcher{}
	}
	opts := Options{
		Notifier:       n,
		Now:            clock.Now,
		Threshold:      0.45,
		MatcherTimeout: time.Second,
		ContextWindow:  6,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{
		db:       db,
		repo:     repo,
		svc:      NewService(repo, idx, m, opts),
		policies: idx,
		notifier: n,
	}
}

func (f *fixture) send(t *testing.T, userID, msgID, text string) *TurnResult {
	t.Helper()
	res, err := f.svc.HandleInbound(context.Background(), Inbound{
		Client:    "acme",
		Channel:   "whatsapp",
		UserID:    userID,
		MessageID: msgID,
		Text:      text,
	})
	if err != nil {
		t.Fatalf("handle inbound %q: %v", text, err)
	}
	return res
}

func (f *fixture) conversation(t *testing.T, userID string) *Conversation {
	t.Helper()
	var c Conversation
	if err := f.db.Where("client_name = ? AND channel = ? AND user_id = ?", "acme", "whatsapp", userID).
		First(&c).Error; err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	return &c
}

func (f *fixture) countMessages(t *testing.T, conversationID uint64) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&Message{}).Where("conversation_id = ?", conversationID).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}

type recordingNotifier struct {
	mu       sync.Mutex
	outbound []Outbound
	handoffs []Handoff
	err      error
}

func (n *recordingNotifier) PublishOutbound(ctx context.Context, m Outbound) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outbound = append(n.outbound, m)
	return n.err
}

func (n *recordingNotifier) PublishHandoff(ctx context.Context, h Handoff) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handoffs = append(n.handoffs, h)
	return n.err
}

// blockingMatcher never answers before its context ends.
type blockingMatcher struct{}

func (blockingMatcher) Match(ctx context.Context, req matcher.Request) ([]matcher.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingStore makes Update fail, also inside transactions.
type failingStore struct {
	SessionStore
}

func (s *failingStore) Update(ctx context.Context, c *Conversation) error {
	return fmt.Errorf("update conversation: %w: connection reset", ErrStoreUnavailable)
}

func (s *failingStore) Atomically(ctx context.Context, fn func(tx SessionStore) error) error {
	return s.SessionStore.Atomically(ctx, func(tx SessionStore) error {
		return fn(&failingStore{SessionStore: tx})
	})
}
