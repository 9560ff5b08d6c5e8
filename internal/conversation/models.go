package conversation

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Automation marks whether the bot may still reply. A handed-off
// conversation stays open for the human agent.
type Automation string

const (
	AutomationActive    Automation = "active"
	AutomationHandedOff Automation = "handed_off"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleBot    Role = "bot"
	RoleSystem Role = "system"
)

type Conversation struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ClientName string `gorm:"type:varchar(64);not null;index:uniq_conv_identity,unique,priority:1" json:"client_name"`
	Channel    string `gorm:"type:varchar(32);not null;index:uniq_conv_identity,unique,priority:2" json:"channel"`
	UserID     string `gorm:"type:varchar(128);not null;index:uniq_conv_identity,unique,priority:3" json:"user_id"`

	Status     Status     `gorm:"type:varchar(16);not null;index" json:"status"`
	Automation Automation `gorm:"type:varchar(16);not null" json:"automation"`
	// Language is the reply language, updated whenever a message shows one.
	Language string `gorm:"type:varchar(8);not null;default:'en'" json:"language"`

	Topic      string `gorm:"type:varchar(64)" json:"topic"`
	LastIntent string `gorm:"type:varchar(64)" json:"last_intent"`
	// MissingFields maps field name -> collected value. A field is resolved
	// when its value is non-empty.
	MissingFields   datatypes.JSONMap `json:"missing_fields"`
	LastUserMessage string            `gorm:"type:text" json:"last_user_message"`
	LastBotMessage  string            `gorm:"type:text" json:"last_bot_message"`

	Turns         int `gorm:"not null;default:0" json:"turns"`
	FieldRequests int `gorm:"not null;default:0" json:"field_requests"`
	Version       int `gorm:"not null;default:1" json:"version"`
	RestartCount  int `gorm:"not null;default:0" json:"restart_count"`

	CreatedUTC time.Time `gorm:"column:created_utc;not null" json:"created_utc"`
	UpdatedUTC time.Time `gorm:"column:updated_utc;not null" json:"updated_utc"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Conversation) TableName() string { return "conversations" }

// Fields returns the resolved field values as strings.
func (c *Conversation) Fields() map[string]string {
	out := make(map[string]string, len(c.MissingFields))
	for k, v := range c.MissingFields {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		if s != "" {
			out[k] = s
		}
	}
	return out
}

func (c *Conversation) SetFields(fields map[string]string) {
	m := make(datatypes.JSONMap, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	c.MissingFields = m
}

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"not null;index:idx_conv_msg_created,priority:1" json:"conversation_id"`
	Role           Role      `gorm:"type:varchar(16);not null" json:"role"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	CreatedUTC     time.Time `gorm:"column:created_utc;not null;index:idx_conv_msg_created,priority:2" json:"created_utc"`
}

func (Message) TableName() string { return "conversation_messages" }

// InboundReceipt records a processed upstream message so a redelivery can
// be answered without running the turn again.
type InboundReceipt struct {
	ID                string    `gorm:"primaryKey;size:26" json:"id"`
	ClientName        string    `gorm:"type:varchar(64);not null;index:uniq_inbound_receipt,unique,priority:1" json:"client_name"`
	Channel           string    `gorm:"type:varchar(32);not null;index:uniq_inbound_receipt,unique,priority:2" json:"channel"`
	UpstreamMessageID string    `gorm:"type:varchar(128);not null;index:uniq_inbound_receipt,unique,priority:3" json:"upstream_message_id"`
	ConversationID    uint64    `gorm:"not null;index" json:"conversation_id"`
	ResponseClass     string    `gorm:"type:varchar(16);not null" json:"response_class"`
	Reply             string    `gorm:"type:text" json:"reply"`
	CreatedUTC        time.Time `gorm:"column:created_utc;not null" json:"created_utc"`
}

func (InboundReceipt) TableName() string { return "conversation_inbound_receipts" }

// Models lists every table of the package for AutoMigrate.
func Models() []any {
	return []any{&Conversation{}, &Message{}, &InboundReceipt{}}
}
