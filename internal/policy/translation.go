package policy

import (
	"regexp"
	"sort"
	"strings"
)

// Translation carries language variants of the customer-facing texts of the
// block it is attached to. Which keys apply depends on the block.
type Translation struct {
	Answer           string `yaml:"answer"`
	EscalationPhrase string `yaml:"escalation_phrase"`
	Phrase           string `yaml:"phrase"`
	Prompt           string `yaml:"prompt"`
	FallbackPhrase   string `yaml:"fallback_phrase"`
}

// Translations is keyed by language code ("ar").
type Translations map[string]Translation

// pick returns the lang variant chosen by get, or base when there is none.
func (ts Translations) pick(lang, base string, get func(Translation) string) string {
	if lang == "" || len(ts) == 0 {
		return base
	}
	if tr, ok := ts[strings.ToLower(lang)]; ok {
		if s := get(tr); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return base
}

func (ts Translations) codes() []string {
	out := make([]string, 0, len(ts))
	for code := range ts {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Placeholders lists the {name} references in text, in order of appearance.
func Placeholders(text string) []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
