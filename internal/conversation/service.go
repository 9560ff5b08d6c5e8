package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/suPer8Hu/support-pilot/internal/language"
	"github.com/suPer8Hu/support-pilot/internal/logger"
	"github.com/suPer8Hu/support-pilot/internal/matcher"
	"github.com/suPer8Hu/support-pilot/internal/policy"
	"github.com/suPer8Hu/support-pilot/internal/rules"
	"github.com/suPer8Hu/support-pilot/internal/slots"
)

// TurnState is the step a turn is in; it is only reported, never stored.
type TurnState string

const (
	StateIdle                 TurnState = "idle"
	StateMatchingIntent       TurnState = "matching_intent"
	StateCheckingFields       TurnState = "checking_fields"
	StateEvaluatingEscalation TurnState = "evaluating_escalation"
	StateResponding           TurnState = "responding"
)

// Policies hands out the policy snapshot a turn runs against.
type Policies interface {
	Current() *policy.Snapshot
}

// Inbound is one user message as delivered by the transport.
type Inbound struct {
	Client  string `json:"client"`
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
	// MessageID is the upstream id; redeliveries carry the same one.
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
	// Fields are values already parsed upstream, e.g. from a form.
	Fields map[string]string `json:"fields,omitempty"`
}

type TurnResult struct {
	ConversationID uint64      `json:"conversation_id"`
	Class          rules.Class `json:"class"`
	Reply          string      `json:"reply"`
	TopicID        string      `json:"topic_id,omitempty"`
	Intent         string      `json:"intent,omitempty"`
	Trigger        string      `json:"trigger,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Field          string      `json:"field,omitempty"`
	Missing        []string    `json:"missing,omitempty"`
	Queue          string      `json:"queue,omitempty"`
	Priority       string      `json:"priority,omitempty"`
	Turns          int         `json:"turns"`
	Status         Status      `json:"status"`
	Automation     Automation  `json:"automation"`
	Language       string      `json:"language,omitempty"`
	PolicyVersion  uint64      `json:"policy_version,omitempty"`
	Created        bool        `json:"created"`
	Reopened       bool        `json:"reopened"`
	Duplicate      bool        `json:"duplicate"`
}

type Options struct {
	Extractor      slots.Extractor
	Locker         Locker
	Notifier       Notifier
	Logger         *logger.Logger
	Metrics        *Metrics
	Now            func() time.Time
	Threshold      float64
	MatcherTimeout time.Duration
	ContextWindow  int
}

type Service struct {
	store     SessionStore
	policies  Policies
	matcher   matcher.Matcher
	extractor slots.Extractor
	locker    Locker
	notifier  Notifier
	log       *logger.Logger
	metrics   *Metrics
	now       func() time.Time

	threshold      float64
	matcherTimeout time.Duration
	contextWindow  int
}

func NewService(store SessionStore, policies Policies, m matcher.Matcher, opts Options) *Service {
	s := &Service{
		store:          store,
		policies:       policies,
		matcher:        m,
		extractor:      opts.Extractor,
		locker:         opts.Locker,
		notifier:       opts.Notifier,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		now:            opts.Now,
		threshold:      opts.Threshold,
		matcherTimeout: opts.MatcherTimeout,
		contextWindow:  opts.ContextWindow,
	}
	if s.extractor == nil {
		s.extractor = slots.PatternExtractor{}
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.threshold <= 0 || s.threshold > 1 {
		s.threshold = 0.45
	}
	if s.matcherTimeout <= 0 {
		s.matcherTimeout = 3 * time.Second
	}
	if s.contextWindow <= 0 || s.contextWindow > 100 {
		s.contextWindow = 6
	}
	return s
}

// HandleInbound runs one turn. Turns of the same conversation never
// overlap. A message whose upstream id was already processed gets the
// stored reply back and changes nothing.
func (s *Service) HandleInbound(ctx context.Context, in Inbound) (*TurnResult, error) {
	in.Client = strings.TrimSpace(in.Client)
	in.Channel = strings.TrimSpace(in.Channel)
	in.UserID = strings.TrimSpace(in.UserID)
	in.MessageID = strings.TrimSpace(in.MessageID)
	in.Text = strings.TrimSpace(in.Text)
	if in.Client == "" || in.Channel == "" || in.UserID == "" {
		return nil, fmt.Errorf("%w: missing conversation identity", ErrInvalidInbound)
	}
	if in.Text == "" && len(in.Fields) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInbound)
	}

	start := time.Now()
	log := s.log.With("client", in.Client, "channel", in.Channel, "user_id", in.UserID, "message_id", in.MessageID)

	unlock, err := s.locker.Lock(ctx, LockKey(in.Client, in.Channel, in.UserID))
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	defer unlock()

	res, err := s.runTurn(ctx, log, in)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			s.metrics.storeFailure()
		}
		log.Error("turn failed", "err", err)
		return nil, err
	}

	if res.Duplicate {
		s.metrics.duplicate()
		log.Info("duplicate inbound replayed", "conversation_id", res.ConversationID)
		return res, nil
	}
	s.metrics.turn(string(res.Class), time.Since(start))
	log.Info("turn done",
		"conversation_id", res.ConversationID,
		"class", res.Class,
		"topic", res.TopicID,
		"intent", res.Intent,
		"trigger", res.Trigger,
		"turns", res.Turns,
		"cost", time.Since(start),
	)
	return res, nil
}

type turn struct {
	decision      rules.Decision
	fields        map[string]string
	missing       []string
	fieldRequests int
	reply         string
	policyVersion uint64
}

func (s *Service) runTurn(ctx context.Context, log *logger.Logger, in Inbound) (*TurnResult, error) {
	if in.MessageID != "" {
		res, err := s.replay(ctx, in)
		if err != nil || res != nil {
			return res, err
		}
	}

	conv, created, err := s.store.GetOrCreate(ctx, in.Client, in.Channel, in.UserID)
	if err != nil {
		return nil, err
	}
	log = log.With("conversation_id", conv.ID)

	now := s.now()
	if now.Before(conv.UpdatedUTC) {
		now = conv.UpdatedUTC
	}

	reopened := false
	if conv.Status == StatusClosed {
		reopen(conv)
		reopened = true
		log.Info("conversation reopened", "version", conv.Version)
	}

	conv.Language = language.Resolve(conv.Language, in.Text)

	var history []Message
	if !created && !reopened {
		history, err = s.store.RecentMessages(ctx, conv.ID, s.contextWindow)
		if err != nil {
			return nil, err
		}
	}

	var t turn
	if conv.Automation == AutomationHandedOff {
		fields, _ := slots.Merge(conv.Fields(), in.Fields)
		t = turn{
			decision: rules.Decision{Class: rules.ClassHumanPending, TopicID: conv.Topic, Intent: conv.LastIntent},
			fields:   fields,
		}
	} else {
		t = s.decide(ctx, log, conv, in, history)
	}
	d := t.decision

	s.step(log, StateResponding)
	conv.LastUserMessage = in.Text
	conv.Turns++
	conv.UpdatedUTC = now
	conv.SetFields(t.fields)
	if d.Class != rules.ClassHumanPending {
		if d.TopicID != "" {
			conv.Topic = d.TopicID
		}
		if d.Intent != "" {
			conv.LastIntent = d.Intent
		}
		conv.FieldRequests = t.fieldRequests
		conv.LastBotMessage = t.reply
	}
	if d.Class == rules.ClassEscalate {
		conv.Automation = AutomationHandedOff
	}

	err = s.store.Atomically(ctx, func(tx SessionStore) error {
		if _, err := tx.Append(ctx, conv.ID, RoleUser, in.Text, now); err != nil {
			return err
		}
		if t.reply != "" {
			if _, err := tx.Append(ctx, conv.ID, RoleBot, t.reply, now); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, conv); err != nil {
			return err
		}
		if in.MessageID == "" {
			return nil
		}
		return tx.SaveReceipt(ctx, &InboundReceipt{
			ClientName:        in.Client,
			Channel:           in.Channel,
			UpstreamMessageID: in.MessageID,
			ConversationID:    conv.ID,
			ResponseClass:     string(d.Class),
			Reply:             t.reply,
			CreatedUTC:        now,
		})
	})
	if errors.Is(err, ErrDuplicateTurn) {
		// another instance processed the same upstream id first
		if res, rerr := s.replay(ctx, in); rerr == nil && res != nil {
			return res, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.step(log, StateIdle)

	s.notify(ctx, log, conv, in, t, now)

	return &TurnResult{
		ConversationID: conv.ID,
		Class:          d.Class,
		Reply:          t.reply,
		TopicID:        d.TopicID,
		Intent:         d.Intent,
		Trigger:        d.Trigger,
		Reason:         d.Reason,
		Field:          d.Field,
		Missing:        t.missing,
		Queue:          d.Queue,
		Priority:       d.Priority,
		Turns:          conv.Turns,
		Status:         conv.Status,
		Automation:     conv.Automation,
		Language:       conv.Language,
		PolicyVersion:  t.policyVersion,
		Created:        created,
		Reopened:       reopened,
	}, nil
}

func (s *Service) decide(ctx context.Context, log *logger.Logger, conv *Conversation, in Inbound, history []Message) turn {
	snap := s.policies.Current()
	fields, changed := slots.Merge(conv.Fields(), in.Fields)
	t := turn{fields: fields}
	if snap != nil {
		t.policyVersion = snap.Version
	}

	s.step(log, StateMatchingIntent)
	topic, intent, matchErr := s.match(ctx, log, snap, in.Client, in.Text, history)
	if topic == nil && matchErr == nil {
		topic, intent = s.followUp(snap, conv, in, fields)
	}

	s.step(log, StateCheckingFields)
	if intent != nil {
		pending := rules.MissingFields(intent.FieldNames(), fields)
		if len(pending) > 0 {
			var extracted []string
			fields, extracted = slots.Merge(fields, s.extractor.Extract(intent, in.Text, pending))
			changed = append(changed, extracted...)
		}
		t.fields = fields
		t.missing = rules.MissingFields(intent.FieldNames(), fields)
	}

	requests := conv.FieldRequests
	if len(changed) > 0 || intent == nil || topic.ID != conv.Topic || intent.Name != conv.LastIntent {
		requests = 0
	}

	s.step(log, StateEvaluatingEscalation)
	fallback := policy.DefaultFallbackPhrase
	if snap != nil {
		if p := snap.FallbackFor(conv.Language); p != "" {
			fallback = p
		}
	}
	d := rules.Evaluate(rules.Input{
		Topic:  topic,
		Intent: intent,
		State: rules.State{
			Turns:         conv.Turns,
			FieldRequests: requests,
			Fields:        fields,
		},
		Text:            in.Text,
		Missing:         t.missing,
		AnswerAvailable: rules.AnswerContent(topic, intent) != "",
		FallbackPhrase:  fallback,
		Language:        conv.Language,
	})
	t.decision = d

	switch d.Class {
	case rules.ClassAskField:
		t.fieldRequests = requests + 1
		t.reply = render(d.Text, fields)
	case rules.ClassAutoAnswer:
		t.reply = render(d.Text, fields)
	default:
		t.reply = d.Text
	}
	return t
}

// match returns the top candidate above the threshold. A failed or slow
// matcher yields no topic and a non-nil error.
func (s *Service) match(ctx context.Context, log *logger.Logger, snap *policy.Snapshot, client, text string, history []Message) (*policy.Topic, *policy.Intent, error) {
	if snap == nil || text == "" {
		return nil, nil, nil
	}

	mctx, cancel := context.WithTimeout(ctx, s.matcherTimeout)
	defer cancel()

	type result struct {
		cands []matcher.Candidate
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		cands, err := s.matcher.Match(mctx, matcher.Request{
			Client:   client,
			Text:     text,
			Context:  userContext(history),
			Snapshot: snap,
		})
		ch <- result{cands, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-mctx.Done():
		r.err = matcher.ErrTimeout
		if ctx.Err() != nil {
			r.err = ctx.Err()
		}
	}
	if r.err != nil {
		reason := "unavailable"
		if errors.Is(r.err, matcher.ErrTimeout) || errors.Is(r.err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		s.metrics.matcherFailure(reason)
		log.Warn("matcher failed, treating message as unmatched", "reason", reason, "err", r.err)
		return nil, nil, r.err
	}

	best, ok := matcher.Best(r.cands, s.threshold)
	if !ok {
		return nil, nil, nil
	}
	topic, ok := snap.Topic(best.TopicID)
	if !ok || !topic.AllowsClient(client) {
		return nil, nil, nil
	}
	intent, ok := topic.Intent(best.Intent)
	if !ok {
		return nil, nil, nil
	}
	log.Debug("matched", "topic", topic.ID, "intent", intent.Name, "score", best.Score)
	return topic, intent, nil
}

// followUp keeps the previous intent when the message only supplies a field
// that intent is still waiting for, e.g. a bare order number.
func (s *Service) followUp(snap *policy.Snapshot, conv *Conversation, in Inbound, fields map[string]string) (*policy.Topic, *policy.Intent) {
	if snap == nil || conv.Topic == "" || conv.LastIntent == "" {
		return nil, nil
	}
	topic, ok := snap.Topic(conv.Topic)
	if !ok || !topic.AllowsClient(in.Client) {
		return nil, nil
	}
	intent, ok := topic.Intent(conv.LastIntent)
	if !ok {
		return nil, nil
	}

	before := rules.MissingFields(intent.FieldNames(), conv.Fields())
	if len(before) == 0 {
		return nil, nil
	}
	for _, name := range before {
		if rules.Resolved(fields, name) {
			return topic, intent
		}
	}
	if len(s.extractor.Extract(intent, in.Text, before)) > 0 {
		return topic, intent
	}
	return nil, nil
}

func (s *Service) replay(ctx context.Context, in Inbound) (*TurnResult, error) {
	rec, err := s.store.FindReceipt(ctx, in.Client, in.Channel, in.MessageID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := &TurnResult{
		ConversationID: rec.ConversationID,
		Class:          rules.Class(rec.ResponseClass),
		Reply:          rec.Reply,
		Duplicate:      true,
	}
	c, err := s.store.GetConversation(ctx, rec.ConversationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if c != nil {
		res.Turns = c.Turns
		res.Status = c.Status
		res.Automation = c.Automation
		res.TopicID = c.Topic
		res.Intent = c.LastIntent
		res.Language = c.Language
	}
	return res, nil
}

func (s *Service) notify(ctx context.Context, log *logger.Logger, conv *Conversation, in Inbound, t turn, at time.Time) {
	d := t.decision
	if t.reply != "" {
		err := s.notifier.PublishOutbound(ctx, Outbound{
			ConversationID: conv.ID,
			Client:         conv.ClientName,
			Channel:        conv.Channel,
			UserID:         conv.UserID,
			Text:           t.reply,
			Class:          string(d.Class),
			Language:       conv.Language,
			InReplyTo:      in.MessageID,
			At:             at,
		})
		if err != nil {
			log.Warn("publish outbound failed", "err", err)
		}
	}
	if d.Class != rules.ClassEscalate {
		return
	}
	err := s.notifier.PublishHandoff(ctx, Handoff{
		ConversationID: conv.ID,
		Client:         conv.ClientName,
		Channel:        conv.Channel,
		UserID:         conv.UserID,
		TopicID:        d.TopicID,
		Intent:         d.Intent,
		Trigger:        d.Trigger,
		Reason:         d.Reason,
		Queue:          d.Queue,
		Priority:       d.Priority,
		Fields:         t.fields,
		LastMessage:    in.Text,
		Language:       conv.Language,
		At:             at,
	})
	if err != nil {
		log.Warn("publish handoff failed", "err", err)
	}
}

func (s *Service) step(log *logger.Logger, st TurnState) {
	log.Debug("turn state", "state", st)
}

// Close marks the conversation closed on behalf of the human channel. The
// next inbound message reopens it.
func (s *Service) Close(ctx context.Context, id uint64) (*Conversation, error) {
	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, LockKey(c.ClientName, c.Channel, c.UserID))
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	defer unlock()

	now := s.now()
	if now.Before(c.UpdatedUTC) {
		now = c.UpdatedUTC
	}
	if err := s.store.CloseConversation(ctx, id, now); err != nil {
		return nil, err
	}
	c.Status = StatusClosed
	c.UpdatedUTC = now
	s.log.Info("conversation closed", "conversation_id", id)
	return c, nil
}

func (s *Service) Conversation(ctx context.Context, id uint64) (*Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// Transcript pages through a conversation's messages, newest first.
func (s *Service) Transcript(ctx context.Context, id uint64, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if _, err := s.store.GetConversation(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id, limit, beforeID)
}

func reopen(c *Conversation) {
	c.Status = StatusOpen
	c.Automation = AutomationActive
	c.Version++
	c.RestartCount++
	c.Topic = ""
	c.LastIntent = ""
	c.MissingFields = datatypes.JSONMap{}
	c.FieldRequests = 0
}

func userContext(history []Message) []string {
	var out []string
	for _, m := range history {
		if m.Role == RoleUser && strings.TrimSpace(m.Text) != "" {
			out = append(out, m.Text)
		}
	}
	return out
}

// render fills {field} placeholders with collected values.
func render(text string, fields map[string]string) string {
	if len(fields) == 0 || !strings.Contains(text, "{") {
		return text
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", fields[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
