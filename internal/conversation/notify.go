package conversation

import (
	"context"
	"time"
)

// Outbound is a bot reply to be delivered on the user's channel.
type Outbound struct {
	ConversationID uint64    `json:"conversation_id"`
	Client         string    `json:"client"`
	Channel        string    `json:"channel"`
	UserID         string    `json:"user_id"`
	Text           string    `json:"text"`
	Class          string    `json:"class"`
	Language       string    `json:"language"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	At             time.Time `json:"at"`
}

// Handoff asks the human channel to take over a conversation.
type Handoff struct {
	ConversationID uint64            `json:"conversation_id"`
	Client         string            `json:"client"`
	Channel        string            `json:"channel"`
	UserID         string            `json:"user_id"`
	TopicID        string            `json:"topic_id,omitempty"`
	Intent         string            `json:"intent,omitempty"`
	Trigger        string            `json:"trigger"`
	Reason         string            `json:"reason"`
	Queue          string            `json:"queue,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
	LastMessage    string            `json:"last_message"`
	Language       string            `json:"language"`
	At             time.Time         `json:"at"`
}

type Notifier interface {
	PublishOutbound(ctx context.Context, m Outbound) error
	PublishHandoff(ctx context.Context, h Handoff) error
}

type nopNotifier struct{}

func (nopNotifier) PublishOutbound(context.Context, Outbound) error { return nil }
func (nopNotifier) PublishHandoff(context.Context, Handoff) error   { return nil }
