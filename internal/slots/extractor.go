// Package slots pulls field values out of free text. The rules tracker only
// ever sees the parsed values.
package slots

import (
	"strings"

	"github.com/suPer8Hu/support-pilot/internal/policy"
)

// Extractor fills fields of an intent from a message.
type Extractor interface {
	Extract(in *policy.Intent, text string, pending []string) map[string]string
}

// PatternExtractor applies each pending field's policy pattern to the text.
// The first capture group is the value when the pattern has one.
type PatternExtractor struct{}

func (PatternExtractor) Extract(in *policy.Intent, text string, pending []string) map[string]string {
	if in == nil || len(pending) == 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	out := map[string]string{}
	for _, name := range pending {
		f, ok := in.Field(name)
		if !ok || f.Regexp() == nil {
			continue
		}
		m := f.Regexp().FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := m[0]
		if len(m) > 1 && m[1] != "" {
			v = m[1]
		}
		v = strings.TrimSpace(v)
		if v != "" {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Merge copies non-empty values of src into dst (allocating it if needed)
// and returns the names that changed.
func Merge(dst map[string]string, src map[string]string) (map[string]string, []string) {
	if dst == nil {
		dst = map[string]string{}
	}
	var changed []string
	for k, v := range src {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if dst[k] != v {
			dst[k] = v
			changed = append(changed, k)
		}
	}
	return dst, changed
}
