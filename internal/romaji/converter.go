// Package romaji turns a live stream of latin keystrokes into hiragana.
//
// A Converter keeps two buffers: the kana already produced and the tail of
// letters that cannot be resolved yet. Every keystroke appends to the tail and
// then runs the resolution rules until none of them fires:
//
//  1. a doubled consonant other than 'n' emits a small っ and drops one letter
//  2. "nn" emits ん and drops both letters
//  3. 'n' before a letter that is neither a vowel nor 'y' emits ん
//  4. the longest table spelling (3, 2, then 1 letters) emits its kana
//
// Only the produced kana is displayed, except that a lone trailing 'n' is shown
// tentatively as ん.
package romaji

import (
	"strings"
	"unicode/utf8"
)

// Converter is a streaming romaji to hiragana converter. It is not safe for
// concurrent use; one Converter belongs to one composition.
type Converter struct {
	produced strings.Builder
	pending  []byte
}

// New returns an empty Converter.
func New() *Converter {
	return &Converter{}
}

// PushChar appends one letter and resolves as much of the pending tail as
// possible. Upper-case letters are folded; anything else is ignored.
func (c *Converter) PushChar(r rune) {
	if r >= 'A' && r <= 'Z' {
		r += 'a' - 'A'
	}
	if r < 'a' || r > 'z' {
		return
	}
	c.pending = append(c.pending, byte(r))
	c.resolve()
}

// Backspace removes the last pending letter, or the last produced kana when
// nothing is pending.
func (c *Converter) Backspace() {
	if len(c.pending) > 0 {
		c.pending = c.pending[:len(c.pending)-1]
		return
	}
	s := c.produced.String()
	if s == "" {
		return
	}
	_, size := utf8.DecodeLastRuneInString(s)
	c.produced.Reset()
	c.produced.WriteString(s[:len(s)-size])
}

// Composing returns the text to display while typing.
func (c *Converter) Composing() string {
	if len(c.pending) == 1 && c.pending[0] == nasalLetter {
		return c.produced.String() + nasalMora
	}
	return c.produced.String()
}

// Flush resolves a trailing lone 'n', appends any other unresolved letters
// literally, returns the result and resets the converter.
func (c *Converter) Flush() string {
	if len(c.pending) == 1 && c.pending[0] == nasalLetter {
		c.produced.WriteString(nasalMora)
		c.pending = c.pending[:0]
	}
	out := c.produced.String() + string(c.pending)
	c.Clear()
	return out
}

// Clear drops all state without producing output.
func (c *Converter) Clear() {
	c.produced.Reset()
	c.pending = c.pending[:0]
}

// RestoreFromFinal replaces the produced text with kana and drops any pending
// letters. It is used to reopen a reading for editing.
func (c *Converter) RestoreFromFinal(kana string) {
	c.produced.Reset()
	c.produced.WriteString(kana)
	c.pending = c.pending[:0]
}

// HasComposing reports whether there is anything produced or pending.
func (c *Converter) HasComposing() bool {
	return c.produced.Len() > 0 || len(c.pending) > 0
}

// Pending returns the unresolved letters.
func (c *Converter) Pending() string {
	return string(c.pending)
}

func (c *Converter) resolve() {
	for c.step() {
	}
}

// step applies the first rule that matches the head of the pending tail.
func (c *Converter) step() bool {
	p := c.pending
	if len(p) >= 2 {
		first, second := p[0], p[1]
		switch {
		case first == second && !isVowel(first) && first != nasalLetter:
			c.emit(geminateMark, 1)
			return true
		case first == nasalLetter && second == nasalLetter:
			c.emit(nasalMora, 2)
			return true
		case first == nasalLetter && !isVowel(second) && second != glideLetter:
			c.emit(nasalMora, 1)
			return true
		}
	}
	for n := min(maxKeyLength, len(p)); n > 0; n-- {
		if kana, ok := table[string(p[:n])]; ok {
			c.emit(kana, n)
			return true
		}
	}
	return false
}

func (c *Converter) emit(kana string, consumed int) {
	c.produced.WriteString(kana)
	c.pending = append(c.pending[:0], c.pending[consumed:]...)
}
