// Package policy holds the read-only, versioned collection of support topics
// (shipping, returns, ...) that the conversation engine answers from.
package policy

import (
	"regexp"
	"strings"
)

// Topic is one policy document's matchable unit.
type Topic struct {
	ID               string    `yaml:"id"`
	Title            string    `yaml:"title"`
	Content          string    `yaml:"content"`
	Answer           string    `yaml:"answer"`
	EscalationPhrase string    `yaml:"escalation_phrase"`
	Clients          []string  `yaml:"clients"`
	Intents          []Intent  `yaml:"intents"`
	Triggers         []Trigger `yaml:"triggers"`
	// Translations may set answer and escalation_phrase.
	Translations Translations `yaml:"translations"`
}

type Intent struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Examples       []string `yaml:"examples"`
	Keywords       []string `yaml:"keywords"`
	RequiredFields []Field  `yaml:"required_fields"`
	Answer         string   `yaml:"answer"`
	// Translations may set answer.
	Translations Translations `yaml:"translations"`
}

type Field struct {
	Name    string `yaml:"name"`
	Prompt  string `yaml:"prompt"`
	Pattern string `yaml:"pattern"`
	// Translations may set prompt.
	Translations Translations `yaml:"translations"`

	re *regexp.Regexp
}

// Regexp is the compiled Pattern, nil when the field has none.
func (f Field) Regexp() *regexp.Regexp { return f.re }

// Trigger is one entry of a topic's prioritized escalation checklist.
type Trigger struct {
	Name     string    `yaml:"name"`
	Phrase   string    `yaml:"phrase"`
	Queue    string    `yaml:"queue"`
	Priority string    `yaml:"priority"`
	When     Condition `yaml:"when"`
	// Translations may set phrase.
	Translations Translations `yaml:"translations"`
}

// Condition fields are ANDed; unset fields do not constrain.
type Condition struct {
	Intents           []string `yaml:"intents"`
	KeywordsAny       []string `yaml:"keywords_any"`
	KeywordsAll       []string `yaml:"keywords_all"`
	Pattern           string   `yaml:"pattern"`
	FieldsPresent     []string `yaml:"fields_present"`
	MinTurns          int      `yaml:"min_turns"`
	MinFieldRequests  int      `yaml:"min_field_requests"`
	AnswerUnavailable bool     `yaml:"answer_unavailable"`

	re *regexp.Regexp
}

// Regexp is the compiled Pattern, nil when the condition has none.
func (c Condition) Regexp() *regexp.Regexp { return c.re }

func (c Condition) empty() bool {
	return len(c.Intents) == 0 &&
		len(c.KeywordsAny) == 0 &&
		len(c.KeywordsAll) == 0 &&
		c.Pattern == "" &&
		len(c.FieldsPresent) == 0 &&
		c.MinTurns <= 0 &&
		c.MinFieldRequests <= 0 &&
		!c.AnswerUnavailable
}

// Intent returns the named intent of the topic.
func (t *Topic) Intent(name string) (*Intent, bool) {
	for i := range t.Intents {
		if t.Intents[i].Name == name {
			return &t.Intents[i], true
		}
	}
	return nil, false
}

// AllowsClient reports whether the topic applies to the given client.
func (t *Topic) AllowsClient(client string) bool {
	if len(t.Clients) == 0 {
		return true
	}
	client = strings.ToLower(strings.TrimSpace(client))
	for _, c := range t.Clients {
		if strings.ToLower(strings.TrimSpace(c)) == client {
			return true
		}
	}
	return false
}

// PhraseFor is the verbatim escalation text a fired trigger produces.
func (t *Topic) PhraseFor(tr *Trigger) string {
	return t.PhraseIn(tr, "")
}

// PhraseIn is PhraseFor in the given language. A trigger phrase wins over
// the topic phrase; within each, a translation wins over the base text.
func (t *Topic) PhraseIn(tr *Trigger, lang string) string {
	if tr != nil && tr.Phrase != "" {
		return tr.Translations.pick(lang, tr.Phrase, func(x Translation) string { return x.Phrase })
	}
	return t.EscalationPhraseIn(lang)
}

func (t *Topic) EscalationPhraseIn(lang string) string {
	return t.Translations.pick(lang, t.EscalationPhrase, func(x Translation) string { return x.EscalationPhrase })
}

func (t *Topic) AnswerIn(lang string) string {
	return t.Translations.pick(lang, t.Answer, func(x Translation) string { return x.Answer })
}

func (in *Intent) AnswerIn(lang string) string {
	return in.Translations.pick(lang, in.Answer, func(x Translation) string { return x.Answer })
}

func (f *Field) PromptIn(lang string) string {
	return f.Translations.pick(lang, f.Prompt, func(x Translation) string { return x.Prompt })
}

// FieldNames lists required field names in schema order.
func (in *Intent) FieldNames() []string {
	out := make([]string, 0, len(in.RequiredFields))
	for _, f := range in.RequiredFields {
		out = append(out, f.Name)
	}
	return out
}

// Field returns the named required field.
func (in *Intent) Field(name string) (*Field, bool) {
	for i := range in.RequiredFields {
		if in.RequiredFields[i].Name == name {
			return &in.RequiredFields[i], true
		}
	}
	return nil, false
}

// MatchText is the text a semantic matcher scores messages against.
func (t *Topic) MatchText(in *Intent) string {
	parts := []string{t.Title, t.Content}
	if in != nil {
		parts = append(parts, in.Description)
		parts = append(parts, in.Examples...)
	}
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p)
	}
	return b.String()
}
