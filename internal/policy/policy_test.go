package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shippingDoc = `
fallback_phrase: "Out of scope, a colleague will follow up."
topics:
  - id: shipping
    content: Orders arrive in 2-4 days.
    escalation_phrase: "Passing you to the delivery team."
    intents:
      - name: track_order
        keywords: ["order"]
        required_fields:
          - name: order_id
            pattern: '(?i)\b([A-Z]{0,4}\d{5,12})\b'
          - name: email
    triggers:
      - name: non_delivery
        when:
          keywords_all: ["delivered"]
      - name: angry
        phrase: "Custom phrase."
        when:
          pattern: '(?i)\bangry\b'
`

func TestParse_Valid(t *testing.T) {
	s, err := Parse(strings.NewReader(shippingDoc))
	require.NoError(t, err)

	assert.Equal(t, "Out of scope, a colleague will follow up.", s.FallbackPhrase)
	top, ok := s.Topic("shipping")
	require.True(t, ok)

	in, ok := top.Intent("track_order")
	require.True(t, ok)
	assert.Equal(t, []string{"order_id", "email"}, in.FieldNames())

	f, ok := in.Field("order_id")
	require.True(t, ok)
	require.NotNil(t, f.Regexp())
	assert.Nil(t, in.RequiredFields[1].Regexp())

	require.Len(t, top.Triggers, 2)
	assert.Equal(t, "Passing you to the delivery team.", top.PhraseFor(&top.Triggers[0]))
	assert.Equal(t, "Custom phrase.", top.PhraseFor(&top.Triggers[1]))
	assert.NotNil(t, top.Triggers[1].When.Regexp())
}

func TestParse_DefaultFallback(t *testing.T) {
	doc := `
topics:
  - id: faq
    intents:
      - name: hours
`
	s, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackPhrase, s.FallbackPhrase)
}

func TestParse_SchemaViolations(t *testing.T) {
	doc := `
topics:
  - id: shipping
    intents:
      - name: track_order
        required_fields:
          - name: order_id
          - name: order_id
      - name: track_order
    triggers:
      - name: empty
      - name: no_phrase
        when:
          min_turns: 2
      - name: unknown_intent
        phrase: x
        when:
          intents: ["nope"]
      - name: bad_re
        phrase: x
        when:
          pattern: "("
  - id: shipping
    intents:
      - name: a
`
	_, err := Parse(strings.NewReader(doc))
	require.Error(t, err)

	var sv *SchemaViolation
	require.True(t, errors.As(err, &sv))
	joined := strings.Join(sv.Problems, "\n")
	assert.Contains(t, joined, `duplicate field "order_id"`)
	assert.Contains(t, joined, `duplicate intent "track_order"`)
	assert.Contains(t, joined, `trigger "empty": no conditions`)
	assert.Contains(t, joined, `trigger "no_phrase": no escalation phrase`)
	assert.Contains(t, joined, `unknown intent "nope"`)
	assert.Contains(t, joined, `trigger "bad_re": bad pattern`)
	assert.Contains(t, joined, `topic "shipping": duplicate id`)
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	doc := `
topics:
  - id: faq
    intnets: []
`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestSnapshot_TopicsForClient(t *testing.T) {
	doc := `
topics:
  - id: shared
    intents: [{name: a}]
  - id: acme_only
    clients: ["Acme"]
    intents: [{name: b}]
`
	s, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	ids := func(ts []*Topic) []string {
		out := []string{}
		for _, t := range ts {
			out = append(out, t.ID)
		}
		return out
	}
	assert.Equal(t, []string{"shared", "acme_only"}, ids(s.TopicsFor("acme")))
	assert.Equal(t, []string{"shared"}, ids(s.TopicsFor("globex")))
}

func TestLoadFile_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_shipping.yaml"), []byte(shippingDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_faq.yml"), []byte("topics:\n  - id: faq\n    intents: [{name: hours}]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	s, err := LoadFile(dir)
	require.NoError(t, err)
	require.Len(t, s.Topics(), 2)
	assert.Equal(t, "shipping", s.Topics()[0].ID)
	assert.Equal(t, "faq", s.Topics()[1].ID)
}

func TestLoadFile_RepoPolicies(t *testing.T) {
	s, err := LoadFile(filepath.Join("..", "..", "policies"))
	require.NoError(t, err)
	_, ok := s.Topic("shipping")
	assert.True(t, ok)
}

func TestIndex_ReloadSwapsWholeSnapshot(t *testing.T) {
	var (
		mu   sync.Mutex
		docs = []string{shippingDoc}
	)
	load := func() (*Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		return Parse(strings.NewReader(docs[len(docs)-1]))
	}

	idx, err := NewIndex(load)
	require.NoError(t, err)
	first := idx.Current()
	assert.Equal(t, uint64(1), first.Version)

	mu.Lock()
	docs = append(docs, "topics:\n  - id: faq\n    intents: [{name: hours}]\n")
	mu.Unlock()

	second, err := idx.Reload()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Version)
	assert.Same(t, second, idx.Current())

	// the old snapshot is still intact for in-flight readers
	_, ok := first.Topic("shipping")
	assert.True(t, ok)
	_, ok = second.Topic("shipping")
	assert.False(t, ok)
}

func TestIndex_FailedReloadKeepsCurrent(t *testing.T) {
	calls := 0
	load := func() (*Snapshot, error) {
		calls++
		if calls > 1 {
			return nil, &SchemaViolation{Problems: []string{"broken"}}
		}
		return Parse(strings.NewReader(shippingDoc))
	}
	idx, err := NewIndex(load)
	require.NoError(t, err)
	before := idx.Current()

	_, err = idx.Reload()
	require.Error(t, err)
	assert.Same(t, before, idx.Current())
}

func TestParse_AnswerPlaceholderMustBeRequiredField(t *testing.T) {
	doc := `
topics:
  - id: shipping
    answer: "Order {order_id} is on its way."
    escalation_phrase: "Passing you on."
    intents:
      - name: track_order
        required_fields:
          - name: order_id
      - name: delivery_issue
      - name: refund
        answer: "Refund for {order_id} to {iban}."
        translations:
          ar:
            answer: "استرداد {order_id} إلى {card}."
        required_fields:
          - name: order_id
            prompt: "Which order?"
          - name: iban
            prompt: "IBAN for order {order_id}? Reference {ticket}."
`
	_, err := Parse(strings.NewReader(doc))
	require.Error(t, err)

	var sv *SchemaViolation
	require.True(t, errors.As(err, &sv))
	joined := strings.Join(sv.Problems, "\n")
	assert.Contains(t, joined, `intent "delivery_issue" answer: placeholder {order_id} is not a required field`)
	assert.Contains(t, joined, `intent "refund" answer: placeholder {card} is not a required field`)
	assert.Contains(t, joined, `field "iban" prompt: placeholder {ticket} is not a required field`)
	assert.NotContains(t, joined, `intent "track_order"`)
	assert.NotContains(t, joined, `{iban} is not`)
}

func TestParse_Translations(t *testing.T) {
	doc := `
fallback_phrase: "Out of scope."
translations:
  AR:
    fallback_phrase: "خارج النطاق."
topics:
  - id: shipping
    escalation_phrase: "Passing you on."
    translations:
      ar:
        escalation_phrase: "سيتم تحويلك."
    intents:
      - name: track_order
        answer: "Order {order_id} is on its way."
        translations:
          ar:
            answer: "الطلب {order_id} في الطريق."
        required_fields:
          - name: order_id
            prompt: "Which order?"
            translations:
              ar:
                prompt: "ما رقم الطلب؟"
    triggers:
      - name: angry
        phrase: "Custom phrase."
        translations:
          ar:
            phrase: "عبارة خاصة."
        when:
          keywords_any: ["angry"]
`
	s, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "خارج النطاق.", s.FallbackFor("ar"))
	assert.Equal(t, "Out of scope.", s.FallbackFor("en"))

	top, _ := s.Topic("shipping")
	in, _ := top.Intent("track_order")
	f, _ := in.Field("order_id")
	assert.Equal(t, "سيتم تحويلك.", top.EscalationPhraseIn("ar"))
	assert.Equal(t, "Passing you on.", top.EscalationPhraseIn("en"))
	assert.Equal(t, "الطلب {order_id} في الطريق.", in.AnswerIn("ar"))
	assert.Equal(t, "ما رقم الطلب؟", f.PromptIn("AR"))
	assert.Equal(t, "Which order?", f.PromptIn(""))
	assert.Equal(t, "عبارة خاصة.", top.PhraseIn(&top.Triggers[0], "ar"))
	assert.Equal(t, "Custom phrase.", top.PhraseFor(&top.Triggers[0]))
}

func TestParse_TranslationViolations(t *testing.T) {
	doc := `
topics:
  - id: faq
    translations:
      ar:
        prompt: "x"
        escalation_phrase: "y"
    intents:
      - name: hours
        translations:
          ar:
            answer: "z"
`
	_, err := Parse(strings.NewReader(doc))
	var sv *SchemaViolation
	require.True(t, errors.As(err, &sv))
	joined := strings.Join(sv.Problems, "\n")
	assert.Contains(t, joined, `topic "faq": translation "ar" sets unsupported key prompt`)
	assert.Contains(t, joined, `topic "faq": translation "ar" has no base escalation_phrase`)
	assert.Contains(t, joined, `intent "hours": translation "ar" has no base answer`)
}
