package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFallbackPhrase is used for out-of-scope messages when no document sets one.
const DefaultFallbackPhrase = "Thanks for reaching out. I'm passing your message to a member of our support team, who will get back to you shortly."

// document is the on-disk shape of one policy file.
type document struct {
	FallbackPhrase string  `yaml:"fallback_phrase"`
	Topics         []Topic `yaml:"topics"`
	// Translations may set fallback_phrase.
	Translations Translations `yaml:"translations"`
}

// SchemaViolation lists every problem found while loading topic documents.
type SchemaViolation struct {
	Problems []string
}

func (e *SchemaViolation) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "policy: schema violation"
	}
	return "policy: schema violation: " + strings.Join(e.Problems, "; ")
}

func (e *SchemaViolation) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// LoadFile parses topic documents from path, which is either a single YAML
// file or a directory of *.yaml / *.yml files read in name order.
func LoadFile(path string) (*Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("policy: stat %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("policy: read dir %s: %w", path, err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("policy: no topic documents under %s", path)
	}

	readers := make([]io.Reader, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("policy: read %s: %w", f, err)
		}
		readers = append(readers, bytes.NewReader(b))
	}
	return Parse(readers...)
}

// Parse decodes and validates topic documents. Topics keep document order.
func Parse(sources ...io.Reader) (*Snapshot, error) {
	var (
		topics    []Topic
		fallback  string
		fallbacks = map[string]string{}
		v         = &SchemaViolation{}
	)
	for i, src := range sources {
		var doc document
		dec := yaml.NewDecoder(src)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			return nil, fmt.Errorf("policy: decode document %d: %w", i, err)
		}
		if strings.TrimSpace(doc.FallbackPhrase) != "" {
			fallback = doc.FallbackPhrase
		}
		doc.Translations = checkTranslations(v, fmt.Sprintf("document %d", i), doc.Translations, doc.FallbackPhrase, "fallback_phrase")
		for lang, tr := range doc.Translations {
			fallbacks[lang] = tr.FallbackPhrase
		}
		topics = append(topics, doc.Topics...)
	}

	validate(v, topics)
	if len(v.Problems) > 0 {
		return nil, v
	}
	if fallback == "" {
		fallback = DefaultFallbackPhrase
	}
	return newSnapshot(topics, fallback, fallbacks), nil
}

// checkTranslations normalizes language codes and reports keys the block
// does not support, or a translation of a text the block does not have.
func checkTranslations(v *SchemaViolation, where string, ts Translations, base string, allowed ...string) Translations {
	if len(ts) == 0 {
		return nil
	}
	out := make(Translations, len(ts))
	for _, lang := range ts.codes() {
		tr := ts[lang]
		code := strings.ToLower(strings.TrimSpace(lang))
		if code == "" {
			v.add("%s: translation with empty language code", where)
			continue
		}
		set := map[string]string{
			"answer":            tr.Answer,
			"escalation_phrase": tr.EscalationPhrase,
			"phrase":            tr.Phrase,
			"prompt":            tr.Prompt,
			"fallback_phrase":   tr.FallbackPhrase,
		}
		for _, key := range []string{"answer", "escalation_phrase", "phrase", "prompt", "fallback_phrase"} {
			if strings.TrimSpace(set[key]) == "" {
				continue
			}
			ok := false
			for _, a := range allowed {
				ok = ok || a == key
			}
			if !ok {
				v.add("%s: translation %q sets unsupported key %s", where, code, key)
			}
		}
		out[code] = tr
	}
	if strings.TrimSpace(base) == "" && len(allowed) == 1 {
		for _, code := range out.codes() {
			v.add("%s: translation %q has no base %s", where, code, allowed[0])
		}
	}
	return out
}

// checkPlaceholders reports {name} references in texts that are not in known.
func checkPlaceholders(v *SchemaViolation, where string, known map[string]bool, texts ...string) {
	reported := map[string]bool{}
	for _, text := range texts {
		for _, name := range Placeholders(text) {
			if known[name] || reported[name] {
				continue
			}
			reported[name] = true
			v.add("%s: placeholder {%s} is not a required field", where, name)
		}
	}
}

// answerTexts lists every variant of the answer an intent of t replies with.
func answerTexts(t *Topic, in *Intent) []string {
	var base string
	var ts Translations
	switch {
	case strings.TrimSpace(in.Answer) != "":
		base, ts = in.Answer, in.Translations
	case strings.TrimSpace(t.Answer) != "":
		base, ts = t.Answer, t.Translations
	default:
		return []string{t.Content}
	}
	out := []string{base}
	for _, tr := range ts {
		if tr.Answer != "" {
			out = append(out, tr.Answer)
		}
	}
	return out
}

func validate(v *SchemaViolation, topics []Topic) {
	seenTopics := map[string]bool{}

	for ti := range topics {
		t := &topics[ti]
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			v.add("topic #%d: empty id", ti)
			continue
		}
		if seenTopics[t.ID] {
			v.add("topic %q: duplicate id", t.ID)
		}
		seenTopics[t.ID] = true
		t.Translations = checkTranslations(v, fmt.Sprintf("topic %q", t.ID), t.Translations, "", "answer", "escalation_phrase")
		for _, code := range t.Translations.codes() {
			tr := t.Translations[code]
			if tr.Answer != "" && strings.TrimSpace(t.Answer) == "" {
				v.add("topic %q: translation %q has no base answer", t.ID, code)
			}
			if tr.EscalationPhrase != "" && strings.TrimSpace(t.EscalationPhrase) == "" {
				v.add("topic %q: translation %q has no base escalation_phrase", t.ID, code)
			}
		}

		seenIntents := map[string]bool{}
		for ii := range t.Intents {
			in := &t.Intents[ii]
			in.Name = strings.TrimSpace(in.Name)
			if in.Name == "" {
				v.add("topic %q: intent #%d has empty name", t.ID, ii)
				continue
			}
			if seenIntents[in.Name] {
				v.add("topic %q: duplicate intent %q", t.ID, in.Name)
			}
			seenIntents[in.Name] = true
			where := fmt.Sprintf("topic %q intent %q", t.ID, in.Name)
			in.Translations = checkTranslations(v, where, in.Translations, in.Answer, "answer")

			seenFields := map[string]bool{}
			for fi := range in.RequiredFields {
				f := &in.RequiredFields[fi]
				f.Name = strings.TrimSpace(f.Name)
				if f.Name == "" {
					v.add("topic %q intent %q: field #%d has empty name", t.ID, in.Name, fi)
					continue
				}
				if seenFields[f.Name] {
					v.add("topic %q intent %q: duplicate field %q", t.ID, in.Name, f.Name)
				}
				fieldWhere := fmt.Sprintf("%s field %q", where, f.Name)
				f.Translations = checkTranslations(v, fieldWhere, f.Translations, f.Prompt, "prompt")
				// earlier fields are resolved by the time this one is asked for
				prompts := []string{f.Prompt}
				for _, tr := range f.Translations {
					prompts = append(prompts, tr.Prompt)
				}
				checkPlaceholders(v, fieldWhere+" prompt", seenFields, prompts...)
				seenFields[f.Name] = true
				if f.Pattern != "" {
					re, err := regexp.Compile(f.Pattern)
					if err != nil {
						v.add("topic %q intent %q field %q: bad pattern: %v", t.ID, in.Name, f.Name, err)
						continue
					}
					f.re = re
				}
			}
			checkPlaceholders(v, where+" answer", seenFields, answerTexts(t, in)...)
		}
		if len(t.Intents) == 0 {
			v.add("topic %q: no intents", t.ID)
		}

		seenTriggers := map[string]bool{}
		for gi := range t.Triggers {
			tr := &t.Triggers[gi]
			tr.Name = strings.TrimSpace(tr.Name)
			if tr.Name == "" {
				v.add("topic %q: trigger #%d has empty name", t.ID, gi)
				continue
			}
			if seenTriggers[tr.Name] {
				v.add("topic %q: duplicate trigger %q", t.ID, tr.Name)
			}
			seenTriggers[tr.Name] = true
			tr.Translations = checkTranslations(v, fmt.Sprintf("topic %q trigger %q", t.ID, tr.Name), tr.Translations, tr.Phrase, "phrase")
			if tr.When.empty() {
				v.add("topic %q trigger %q: no conditions", t.ID, tr.Name)
			}
			if t.PhraseFor(tr) == "" {
				v.add("topic %q trigger %q: no escalation phrase", t.ID, tr.Name)
			}
			for _, name := range tr.When.Intents {
				if !seenIntents[name] {
					v.add("topic %q trigger %q: unknown intent %q", t.ID, tr.Name, name)
				}
			}
			if tr.When.Pattern != "" {
				re, err := regexp.Compile(tr.When.Pattern)
				if err != nil {
					v.add("topic %q trigger %q: bad pattern: %v", t.ID, tr.Name, err)
					continue
				}
				tr.When.re = re
			}
		}
	}
}
