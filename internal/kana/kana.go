// Package kana converts between the two Japanese phonetic scripts and
// normalizes readings before they are stored or looked up.
package kana

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Hiragana and katakana blocks are laid out in parallel, 0x60 apart.
const (
	hiraganaFirst = 'ぁ' // ぁ
	hiraganaLast  = 'ゖ' // ゖ
	katakanaFirst = 'ァ' // ァ
	katakanaLast  = 'ヶ' // ヶ
	scriptOffset  = katakanaFirst - hiraganaFirst
)

// ToKatakana maps every hiragana rune in s to its katakana counterpart.
// Other runes pass through unchanged.
func ToKatakana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= hiraganaFirst && r <= hiraganaLast {
			return r + scriptOffset
		}
		return r
	}, s)
}

// ToHiragana maps every katakana rune in s to its hiragana counterpart.
// Other runes, including the prolonged sound mark, pass through unchanged.
func ToHiragana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= katakanaFirst && r <= katakanaLast {
			return r - scriptOffset
		}
		return r
	}, s)
}

// NormalizeReading folds a reading to the canonical stored form: NFC,
// half-width katakana widened, katakana folded to hiragana, surrounding
// whitespace removed.
func NormalizeReading(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	s = width.Fold.String(norm.NFC.String(s))
	// Widened katakana may carry a separate voicing mark; recompose.
	s = norm.NFC.String(s)
	return ToHiragana(s)
}

// IsKanaOnly reports whether s is non-empty and consists solely of kana and
// the marks that appear inside readings.
func IsKanaOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'ぁ' && r <= 'ゟ':
		case r >= 'ァ' && r <= 'ヿ':
		default:
			return false
		}
	}
	return true
}
