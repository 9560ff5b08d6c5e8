package conversation

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/support-pilot/internal/common"
	"github.com/suPer8Hu/support-pilot/internal/language"
)

// SessionStore persists conversations, their transcripts and inbound
// receipts. Every failure other than a missing row is ErrStoreUnavailable.
type SessionStore interface {
	GetOrCreate(ctx context.Context, client, channel, userID string) (*Conversation, bool, error)
	Append(ctx context.Context, conversationID uint64, role Role, text string, at time.Time) (*Message, error)
	Update(ctx context.Context, c *Conversation) error
	RecentMessages(ctx context.Context, conversationID uint64, limit int) ([]Message, error)

	GetConversation(ctx context.Context, id uint64) (*Conversation, error)
	ListMessages(ctx context.Context, conversationID uint64, limit int, beforeID uint64) ([]Message, error)
	CloseConversation(ctx context.Context, id uint64, at time.Time) error
	FindReceipt(ctx context.Context, client, channel, upstreamID string) (*InboundReceipt, error)
	SaveReceipt(ctx context.Context, r *InboundReceipt) error

	// Atomically runs fn against a store whose writes commit together.
	Atomically(ctx context.Context, fn func(tx SessionStore) error) error
}

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock used to stamp new conversations.
func (r *Repo) WithClock(now func() time.Time) *Repo {
	return &Repo{db: r.db, now: now}
}

func (r *Repo) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return storeErr("migrate", err)
	}
	return nil
}

func (r *Repo) findByIdentity(ctx context.Context, client, channel, userID string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("client_name = ? AND channel = ? AND user_id = ?", client, channel, userID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreate returns the conversation for the identity, creating it on
// first contact. A losing concurrent insert falls back to the winner's row.
func (r *Repo) GetOrCreate(ctx context.Context, client, channel, userID string) (*Conversation, bool, error) {
	c, err := r.findByIdentity(ctx, client, channel, userID)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, storeErr("get conversation", err)
	}

	now := r.now()
	c = &Conversation{
		ClientName:    client,
		Channel:       channel,
		UserID:        userID,
		Status:        StatusOpen,
		Automation:    AutomationActive,
		Language:      language.Default,
		MissingFields: datatypes.JSONMap{},
		Version:       1,
		CreatedUTC:    now,
		UpdatedUTC:    now,
	}
	createErr := r.db.WithContext(ctx).Create(c).Error
	if createErr == nil {
		return c, true, nil
	}

	existing, getErr := r.findByIdentity(ctx, client, channel, userID)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, storeErr("create conversation", createErr)
	}
	return nil, false, storeErr("get conversation", getErr)
}

func (r *Repo) Append(ctx context.Context, conversationID uint64, role Role, text string, at time.Time) (*Message, error) {
	m := &Message{
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		CreatedUTC:     at,
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, storeErr("append message", err)
	}
	return m, nil
}

// Update replaces the stored state of c. Last write wins.
func (r *Repo) Update(ctx context.Context, c *Conversation) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(c).Error; err != nil {
		return storeErr("update conversation", err)
	}
	return nil
}

// RecentMessages returns up to limit messages, oldest first.
func (r *Repo) RecentMessages(ctx context.Context, conversationID uint64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var desc []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_utc DESC").
		Order("id DESC").
		Limit(limit).
		Find(&desc).Error; err != nil {
		return nil, storeErr("recent messages", err)
	}

	out := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i])
	}
	return out, nil
}

func (r *Repo) GetConversation(ctx context.Context, id uint64) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, storeErr("get conversation", err)
	}
	return &c, nil
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, conversationID uint64, limit int, beforeID uint64) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, storeErr("list messages", err)
	}
	return msgs, nil
}

func (r *Repo) CloseConversation(ctx context.Context, id uint64, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      StatusClosed,
			"updated_utc": at,
		})
	if res.Error != nil {
		return storeErr("close conversation", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) FindReceipt(ctx context.Context, client, channel, upstreamID string) (*InboundReceipt, error) {
	var rec InboundReceipt
	if err := r.db.WithContext(ctx).
		Where("client_name = ? AND channel = ? AND upstream_message_id = ?", client, channel, upstreamID).
		First(&rec).Error; err != nil {
		return nil, storeErr("find receipt", err)
	}
	return &rec, nil
}

// SaveReceipt stores rec; if the upstream id was already recorded it returns
// ErrDuplicateTurn.
func (r *Repo) SaveReceipt(ctx context.Context, rec *InboundReceipt) error {
	if rec.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if rec.CreatedUTC.IsZero() {
		rec.CreatedUTC = r.now()
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return storeErr("save receipt", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateTurn
	}
	return nil
}

func (r *Repo) Atomically(ctx context.Context, fn func(tx SessionStore) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx, now: r.now})
	})
	return storeErr("transaction", err)
}
