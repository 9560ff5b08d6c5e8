package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/support-pilot/internal/common"
	"github.com/suPer8Hu/support-pilot/internal/conversation"
)

// InboundEnvelope is the body of a message on the inbound queue.
type InboundEnvelope struct {
	ID         string               `json:"id"`
	Attempt    int                  `json:"attempt"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	Inbound    conversation.Inbound `json:"inbound"`
}

var ErrBadEnvelope = errors.New("rabbitmq: malformed inbound envelope")

func DecodeInbound(body []byte) (InboundEnvelope, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, errors.Join(ErrBadEnvelope, err)
	}
	in := env.Inbound
	if env.ID == "" || in.Client == "" || in.Channel == "" || in.UserID == "" {
		return env, ErrBadEnvelope
	}
	return env, nil
}

type Queues struct {
	Inbound  string
	Outbound string
	Handoff  string
}

type Publisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.Mutex
	queues Queues
}

func NewPublisher(url string, q Queues) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	for _, name := range []string{q.Inbound, q.Outbound, q.Handoff} {
		if name == "" {
			continue
		}
		if err := DeclareTopology(ch, name); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	return &Publisher{conn: conn, ch: ch, queues: q}, nil
}

// DeclareTopology declares queue with its retry and dead-letter queues.
// Workers and publishers must agree on these arguments.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := RetryQueue(queue)
	dlqQ := DeadLetterQueue(queue)

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

func RetryQueue(queue string) string      { return queue + ".retry" }
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishInbound enqueues a message for the worker and returns its id.
func (p *Publisher) PublishInbound(ctx context.Context, in conversation.Inbound) (string, error) {
	id, err := common.NewULID()
	if err != nil {
		return "", err
	}
	env := InboundEnvelope{ID: id, EnqueuedAt: time.Now().UTC(), Inbound: in}
	if err := p.publishJSON(ctx, p.queues.Inbound, env, ""); err != nil {
		return "", err
	}
	return id, nil
}

// PublishRetry parks env on the retry queue; it comes back to the inbound
// queue after delay.
func (p *Publisher) PublishRetry(ctx context.Context, env InboundEnvelope, delay time.Duration) error {
	env.Attempt++
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	return p.publishJSON(ctx, RetryQueue(p.queues.Inbound), env, expiration)
}

func (p *Publisher) PublishOutbound(ctx context.Context, m conversation.Outbound) error {
	if p.queues.Outbound == "" {
		return nil
	}
	return p.publishJSON(ctx, p.queues.Outbound, m, "")
}

func (p *Publisher) PublishHandoff(ctx context.Context, h conversation.Handoff) error {
	if p.queues.Handoff == "" {
		return nil
	}
	return p.publishJSON(ctx, p.queues.Handoff, h, "")
}

func (p *Publisher) publishJSON(ctx context.Context, queue string, v any, expiration string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			Expiration:   expiration,
		},
	)
}

var _ conversation.Notifier = (*Publisher)(nil)
