package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/support-pilot/internal/policy"
)

const doc = `
fallback_phrase: "Out of scope."
topics:
  - id: shipping
    content: Orders arrive in 2-4 days.
    escalation_phrase: "Passing you to the delivery team."
    translations:
      ar:
        escalation_phrase: "سيتم تحويلك إلى فريق التوصيل."
    intents:
      - name: track_order
        answer: "Order {order_id} arrives in 2-4 days."
        translations:
          ar:
            answer: "سيصل الطلب {order_id} خلال 2-4 أيام."
        required_fields:
          - name: order_id
            prompt: "Order number please?"
            translations:
              ar:
                prompt: "ما هو رقم الطلب؟"
          - name: postcode
      - name: delivery_issue
      - name: greeting
        answer: "Hello!"
    triggers:
      - name: non_delivery
        when:
          keywords_all: ["delivered"]
          keywords_any: ["never got", "not received"]
      - name: any_delivered
        phrase: "Second trigger phrase."
        translations:
          ar:
            phrase: "عبارة المشغل الثاني."
        when:
          keywords_any: ["delivered"]
      - name: delayed
        when:
          keywords_any: ["late"]
          fields_present: ["order_id"]
      - name: retries
        when:
          min_field_requests: 3
      - name: greeting_long_chat
        when:
          intents: ["greeting"]
          min_turns: 5
  - id: empty
    escalation_phrase: "Nothing to say."
    intents:
      - name: silent
`

func snapshot(t *testing.T) *policy.Snapshot {
	t.Helper()
	s, err := policy.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	return s
}

func input(t *testing.T, s *policy.Snapshot, topicID, intent, text string, fields map[string]string) Input {
	t.Helper()
	top, ok := s.Topic(topicID)
	require.True(t, ok)
	in, ok := top.Intent(intent)
	require.True(t, ok)
	missing := MissingFields(in.FieldNames(), fields)
	return Input{
		Topic:           top,
		Intent:          in,
		State:           State{Fields: fields},
		Text:            text,
		Missing:         missing,
		AnswerAvailable: len(missing) == 0 && AnswerContent(top, in) != "",
		FallbackPhrase:  s.FallbackPhrase,
	}
}

func TestMissingFields(t *testing.T) {
	schema := []string{"order_id", "postcode", "email"}

	assert.Equal(t, schema, MissingFields(schema, nil))
	assert.Equal(t, []string{"postcode"}, MissingFields(schema, map[string]string{
		"order_id": "A123", "email": "x@y", "other_intent_field": "kept",
	}))
	assert.Equal(t, []string{"order_id", "email"}, MissingFields(schema, map[string]string{
		"order_id": "   ", "postcode": "00000",
	}))
	assert.Empty(t, MissingFields(schema, map[string]string{
		"order_id": "1", "postcode": "2", "email": "3",
	}))
	assert.Empty(t, MissingFields(nil, map[string]string{"x": ""}))
}

func TestEvaluate_UnmatchedEscalatesWithFallback(t *testing.T) {
	d := Evaluate(Input{Text: "hello?", FallbackPhrase: "Out of scope."})
	assert.Equal(t, ClassEscalate, d.Class)
	assert.Equal(t, ReasonOutOfScope, d.Reason)
	assert.Equal(t, "Out of scope.", d.Text)

	d = Evaluate(Input{Text: "hello?"})
	assert.Equal(t, policy.DefaultFallbackPhrase, d.Text)
}

func TestEvaluate_FirstTriggerWins(t *testing.T) {
	s := snapshot(t)
	in := input(t, s, "shipping", "delivery_issue", "It says DELIVERED but I never got it", nil)

	d := Evaluate(in)
	assert.Equal(t, ClassEscalate, d.Class)
	assert.Equal(t, "non_delivery", d.Trigger)
	assert.Equal(t, "Passing you to the delivery team.", d.Text)

	in = input(t, s, "shipping", "delivery_issue", "it was delivered to my neighbour", nil)
	d = Evaluate(in)
	assert.Equal(t, "any_delivered", d.Trigger)
	assert.Equal(t, "Second trigger phrase.", d.Text)
}

func TestEvaluate_TriggerBeatsMissingFields(t *testing.T) {
	s := snapshot(t)
	in := input(t, s, "shipping", "track_order", "marked delivered, never got it", nil)
	require.NotEmpty(t, in.Missing)

	d := Evaluate(in)
	assert.Equal(t, ClassEscalate, d.Class)
}

func TestEvaluate_FieldConditions(t *testing.T) {
	s := snapshot(t)

	in := input(t, s, "shipping", "track_order", "it is late", nil)
	d := Evaluate(in)
	assert.Equal(t, ClassAskField, d.Class, "delayed requires order_id")

	in = input(t, s, "shipping", "track_order", "it is late", map[string]string{"order_id": "A12345"})
	d = Evaluate(in)
	assert.Equal(t, ClassEscalate, d.Class)
	assert.Equal(t, "delayed", d.Trigger)
}

func TestEvaluate_AskForFirstMissingInSchemaOrder(t *testing.T) {
	s := snapshot(t)

	d := Evaluate(input(t, s, "shipping", "track_order", "where is my order", nil))
	assert.Equal(t, ClassAskField, d.Class)
	assert.Equal(t, "order_id", d.Field)
	assert.Equal(t, "Order number please?", d.Text)

	d = Evaluate(input(t, s, "shipping", "track_order", "where is my order", map[string]string{"order_id": "A12345"}))
	assert.Equal(t, ClassAskField, d.Class)
	assert.Equal(t, "postcode", d.Field)
	assert.Equal(t, "Could you please share your postcode?", d.Text)
}

func TestEvaluate_AutoAnswer(t *testing.T) {
	s := snapshot(t)

	d := Evaluate(input(t, s, "shipping", "track_order", "where is my order",
		map[string]string{"order_id": "A12345", "postcode": "00000"}))
	assert.Equal(t, ClassAutoAnswer, d.Class)
	assert.Equal(t, "Order {order_id} arrives in 2-4 days.", d.Text)
	assert.Equal(t, "shipping", d.TopicID)
	assert.Equal(t, "track_order", d.Intent)

	d = Evaluate(input(t, s, "shipping", "greeting", "hi", nil))
	assert.Equal(t, ClassAutoAnswer, d.Class)
	assert.Equal(t, "Hello!", d.Text)
}

func TestEvaluate_CountersAndIntentConditions(t *testing.T) {
	s := snapshot(t)

	in := input(t, s, "shipping", "track_order", "no idea", nil)
	in.State.FieldRequests = 3
	d := Evaluate(in)
	assert.Equal(t, "retries", d.Trigger)

	in = input(t, s, "shipping", "greeting", "hi", nil)
	in.State.Turns = 4
	assert.Equal(t, ClassAutoAnswer, Evaluate(in).Class)
	in.State.Turns = 5
	assert.Equal(t, "greeting_long_chat", Evaluate(in).Trigger)
}

func TestEvaluate_NoAnswerContentEscalates(t *testing.T) {
	s := snapshot(t)
	d := Evaluate(input(t, s, "empty", "silent", "anything", nil))
	assert.Equal(t, ClassEscalate, d.Class)
	assert.Equal(t, ReasonNoAnswer, d.Reason)
	assert.Equal(t, "Nothing to say.", d.Text)
}

func TestEvaluate_Deterministic(t *testing.T) {
	s := snapshot(t)
	in := input(t, s, "shipping", "track_order", "delivered but not received", map[string]string{"order_id": "A1"})
	first := Evaluate(in)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Evaluate(in))
	}
}

func TestEvaluate_Language(t *testing.T) {
	s := snapshot(t)

	in := input(t, s, "shipping", "track_order", "وين طلبي", nil)
	in.Language = "ar"
	d := Evaluate(in)
	assert.Equal(t, ClassAskField, d.Class)
	assert.Equal(t, "ما هو رقم الطلب؟", d.Text)

	in = input(t, s, "shipping", "track_order", "وين طلبي", map[string]string{"order_id": "A1", "postcode": "2"})
	in.Language = "ar"
	assert.Equal(t, "سيصل الطلب {order_id} خلال 2-4 أيام.", Evaluate(in).Text)

	in = input(t, s, "shipping", "delivery_issue", "delivered to my neighbour", nil)
	in.Language = "ar"
	assert.Equal(t, "عبارة المشغل الثاني.", Evaluate(in).Text)

	in = input(t, s, "shipping", "delivery_issue", "delivered but never got it", nil)
	in.Language = "ar"
	assert.Equal(t, "سيتم تحويلك إلى فريق التوصيل.", Evaluate(in).Text)

	// no translation: base text
	in = input(t, s, "shipping", "track_order", "where", map[string]string{"order_id": "A1"})
	in.Language = "ar"
	assert.Equal(t, "Could you please share your postcode?", Evaluate(in).Text)
	in.Language = "fr"
	in.State.Fields["postcode"] = "2"
	in.Missing = nil
	in.AnswerAvailable = true
	assert.Equal(t, "Order {order_id} arrives in 2-4 days.", Evaluate(in).Text)
}
