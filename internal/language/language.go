// Package language tells which language a customer writes in. Only English
// and Arabic are told apart; everything else is treated as English.
package language

import (
	"strings"
	"unicode"
)

const (
	English = "en"
	Arabic  = "ar"

	Default = English
)

// Detect reports the language of text. ok is false when the text carries no
// signal, e.g. a bare order number or an emoji.
func Detect(text string) (lang string, ok bool) {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return Arabic, true
		}
	}
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if isWord(word) {
			return English, true
		}
	}
	return "", false
}

// isWord is true for runs of two or more letters without digits, so "AB123456"
// does not count as English.
func isWord(s string) bool {
	n := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
		n++
	}
	return n >= 2
}

// Resolve picks the reply language for a turn: the detected language of the
// message, else the conversation's current one, else Default.
func Resolve(current, text string) string {
	if lang, ok := Detect(text); ok {
		return lang
	}
	if current != "" {
		return current
	}
	return Default
}
