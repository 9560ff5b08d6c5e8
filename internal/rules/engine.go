// Package rules decides, for one conversation turn, whether the bot answers,
// asks for a missing field or hands the conversation to a human.
package rules

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/support-pilot/internal/policy"
)

type Class string

const (
	ClassAutoAnswer   Class = "auto_answer"
	ClassAskField     Class = "ask_field"
	ClassEscalate     Class = "escalate"
	ClassHumanPending Class = "human_pending"
)

const (
	ReasonOutOfScope = "out_of_scope"
	ReasonTrigger    = "trigger"
	ReasonNoAnswer   = "no_answer"
)

// State is the part of a conversation the rules look at.
type State struct {
	Turns         int
	FieldRequests int
	Fields        map[string]string
}

type Input struct {
	// Topic is nil when nothing matched above the confidence threshold.
	Topic  *policy.Topic
	Intent *policy.Intent
	State  State
	Text   string
	// Missing is the tracker output for Intent, in schema order.
	Missing         []string
	AnswerAvailable bool
	// FallbackPhrase is already in Language.
	FallbackPhrase string
	// Language selects translated texts; empty means the base texts.
	Language string
}

type Decision struct {
	Class   Class
	TopicID string
	Intent  string
	Trigger string
	Reason  string
	// Text is the escalation phrase (verbatim), the field prompt, or the
	// unrendered answer content.
	Text     string
	Field    string
	Queue    string
	Priority string
}

// Evaluate is deterministic in its input: triggers are checked in declared
// order and the first one that holds wins.
func Evaluate(in Input) Decision {
	if in.Topic == nil {
		phrase := in.FallbackPhrase
		if phrase == "" {
			phrase = policy.DefaultFallbackPhrase
		}
		return Decision{
			Class:   ClassEscalate,
			Trigger: ReasonOutOfScope,
			Reason:  ReasonOutOfScope,
			Text:    phrase,
		}
	}

	d := Decision{TopicID: in.Topic.ID}
	if in.Intent != nil {
		d.Intent = in.Intent.Name
	}

	text := strings.ToLower(in.Text)
	for i := range in.Topic.Triggers {
		tr := &in.Topic.Triggers[i]
		if !holds(tr.When, in, text) {
			continue
		}
		d.Class = ClassEscalate
		d.Trigger = tr.Name
		d.Reason = ReasonTrigger
		d.Text = in.Topic.PhraseIn(tr, in.Language)
		d.Queue = tr.Queue
		d.Priority = tr.Priority
		return d
	}

	if len(in.Missing) > 0 {
		name := in.Missing[0]
		d.Class = ClassAskField
		d.Field = name
		d.Text = promptFor(in.Intent, name, in.Language)
		return d
	}

	answer := answerFor(in.Topic, in.Intent, in.Language)
	if !in.AnswerAvailable || answer == "" {
		d.Class = ClassEscalate
		d.Reason = ReasonNoAnswer
		d.Text = in.Topic.EscalationPhraseIn(in.Language)
		if d.Text == "" {
			d.Text = in.FallbackPhrase
		}
		return d
	}

	d.Class = ClassAutoAnswer
	d.Text = answer
	return d
}

// AnswerContent is what an auto-answer for the topic/intent would carry.
func AnswerContent(t *policy.Topic, in *policy.Intent) string {
	return answerFor(t, in, "")
}

func answerFor(t *policy.Topic, in *policy.Intent, lang string) string {
	if t == nil {
		return ""
	}
	if in != nil && strings.TrimSpace(in.Answer) != "" {
		return in.AnswerIn(lang)
	}
	if strings.TrimSpace(t.Answer) != "" {
		return t.AnswerIn(lang)
	}
	return strings.TrimSpace(t.Content)
}

func promptFor(in *policy.Intent, field, lang string) string {
	if in != nil {
		if f, ok := in.Field(field); ok && strings.TrimSpace(f.Prompt) != "" {
			return f.PromptIn(lang)
		}
	}
	return fmt.Sprintf("Could you please share your %s?", strings.ReplaceAll(field, "_", " "))
}

func holds(c policy.Condition, in Input, lowerText string) bool {
	if len(c.Intents) > 0 {
		if in.Intent == nil || !contains(c.Intents, in.Intent.Name) {
			return false
		}
	}
	if len(c.KeywordsAll) > 0 {
		for _, kw := range c.KeywordsAll {
			if !strings.Contains(lowerText, strings.ToLower(kw)) {
				return false
			}
		}
	}
	if len(c.KeywordsAny) > 0 {
		hit := false
		for _, kw := range c.KeywordsAny {
			if strings.Contains(lowerText, strings.ToLower(kw)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if c.Pattern != "" {
		re := c.Regexp()
		if re == nil || !re.MatchString(in.Text) {
			return false
		}
	}
	for _, name := range c.FieldsPresent {
		if !Resolved(in.State.Fields, name) {
			return false
		}
	}
	if c.MinTurns > 0 && in.State.Turns < c.MinTurns {
		return false
	}
	if c.MinFieldRequests > 0 && in.State.FieldRequests < c.MinFieldRequests {
		return false
	}
	if c.AnswerUnavailable && in.AnswerAvailable {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
