package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		text string
		lang string
		ok   bool
	}{
		{"where is my order", English, true},
		{"وين طلبي", Arabic, true},
		{"order AB123456 مرحبا", Arabic, true},
		{"AB123456", "", false},
		{"123-456", "", false},
		{"👍", "", false},
		{"It's AB123456", English, true},
	}
	for _, tc := range cases {
		lang, ok := Detect(tc.text)
		assert.Equal(t, tc.lang, lang, tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, Arabic, Resolve(English, "أين طلبي"))
	assert.Equal(t, Arabic, Resolve(Arabic, "AB123456"))
	assert.Equal(t, English, Resolve(Arabic, "thanks"))
	assert.Equal(t, Default, Resolve("", "123456"))
}
