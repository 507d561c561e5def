// Package langdetect classifies short chat messages by script so replies can
// match the sender's language.
package langdetect

import "unicode"

type Language string

const (
	Hebrew    Language = "hebrew"
	English   Language = "english"
	Arabic    Language = "arabic"
	Other     Language = "other"
	Gibberish Language = "gibberish"
)

// Detect classifies text by its dominant script. Digits, punctuation and
// emoji are neutral. Text with no letters at all is gibberish.
func Detect(text string) Language {
	var hebrew, arabic, latin, other int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			latin++
		case unicode.IsLetter(r):
			other++
		}
	}

	total := hebrew + arabic + latin + other
	if total == 0 {
		return Gibberish
	}

	// Any Hebrew presence wins: users freely mix Hebrew with English words
	// and product names.
	if hebrew > 0 && hebrew*3 >= total {
		return Hebrew
	}
	switch {
	case arabic > latin && arabic > other && arabic >= hebrew:
		return Arabic
	case latin >= arabic && latin >= other:
		return English
	default:
		return Other
	}
}

// Supported reports whether the assistant can converse in the language.
func Supported(l Language) bool {
	return l == Hebrew || l == English
}
