package romaji

import "testing"

func push(c *Converter, s string) {
	for _, r := range s {
		c.PushChar(r)
	}
}

func TestConverterFlush(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"kyou", "きょう"},
		{"tta", "った"},
		{"tasa", "たさ"},
		{"kitte", "きって"},
		{"konnnichiha", "こんにちは"},
		{"konnna", "こんな"},
		{"shinbun", "しんぶん"},
		{"kon", "こん"},
		{"nyan", "にゃん"},
		{"gakkou", "がっこう"},
		{"zasshi", "ざっし"},
		{"tsukue", "つくえ"},
		{"fairu", "ふぁいる"},
		{"xtu", "っ"},
		{"kyox", "きょx"},
		{"KA", "か"},
		{"k-a", "か"},
		{"", ""},
	}

	for _, tc := range tests {
		c := New()
		push(c, tc.input)
		if got := c.Flush(); got != tc.want {
			t.Errorf("Flush(%q) = %q, want %q", tc.input, got, tc.want)
		}
		if c.HasComposing() {
			t.Errorf("after Flush(%q) converter still has composing text", tc.input)
		}
	}
}

func TestConverterDoubleNasalConsumesBothLetters(t *testing.T) {
	// "nn" resolves before the following letter arrives, so the trailing 'a'
	// stands alone.
	c := New()
	push(c, "konna")
	if got := c.Composing(); got != "こんあ" {
		t.Errorf("Composing() = %q, want %q", got, "こんあ")
	}
}

func TestConverterComposing(t *testing.T) {
	c := New()
	push(c, "ky")
	if got := c.Composing(); got != "" {
		t.Errorf("Composing() with pending ky = %q, want empty", got)
	}
	if got := c.Pending(); got != "ky" {
		t.Errorf("Pending() = %q, want ky", got)
	}

	push(c, "ou")
	if got := c.Composing(); got != "きょう" {
		t.Errorf("Composing() = %q, want きょう", got)
	}
	if got := c.Flush(); got != "きょう" {
		t.Errorf("Flush() = %q, want きょう", got)
	}
	if got := c.Composing(); got != "" {
		t.Errorf("Composing() after Flush = %q, want empty", got)
	}
}

func TestConverterLoneNasal(t *testing.T) {
	c := New()
	push(c, "kon")

	// Shown tentatively, still pending.
	if got := c.Composing(); got != "こん" {
		t.Errorf("Composing() = %q, want こん", got)
	}
	if got := c.Pending(); got != "n" {
		t.Errorf("Pending() = %q, want n", got)
	}

	// A vowel turns the pending n into な instead.
	push(c, "a")
	if got := c.Flush(); got != "こな" {
		t.Errorf("Flush() = %q, want こな", got)
	}

	c = New()
	push(c, "kon")
	if got := c.Flush(); got != "こん" {
		t.Errorf("Flush() = %q, want こん", got)
	}
}

func TestConverterNasalBeforeGlide(t *testing.T) {
	c := New()
	push(c, "kony")
	if got := c.Composing(); got != "こ" {
		t.Errorf("Composing() = %q, want こ", got)
	}
	push(c, "a")
	if got := c.Flush(); got != "こにゃ" {
		t.Errorf("Flush() = %q, want こにゃ", got)
	}
}

func TestConverterBackspace(t *testing.T) {
	c := New()
	push(c, "kak")
	c.Backspace()
	if got := c.Pending(); got != "" {
		t.Errorf("Pending() = %q, want empty", got)
	}
	if got := c.Composing(); got != "か" {
		t.Errorf("Composing() = %q, want か", got)
	}

	c.Backspace()
	if got := c.Composing(); got != "" {
		t.Errorf("Composing() = %q, want empty", got)
	}
	if c.HasComposing() {
		t.Error("HasComposing() = true, want false")
	}

	// No-op on empty state.
	c.Backspace()
	if c.HasComposing() {
		t.Error("HasComposing() = true after backspace on empty converter")
	}

	// Removes one kana rune at a time from produced text.
	push(c, "kyou")
	c.Backspace()
	if got := c.Composing(); got != "きょ" {
		t.Errorf("Composing() = %q, want きょ", got)
	}
}

func TestConverterClear(t *testing.T) {
	c := New()
	push(c, "kyouk")
	c.Clear()
	if c.HasComposing() {
		t.Error("HasComposing() = true after Clear")
	}
	if got := c.Flush(); got != "" {
		t.Errorf("Flush() after Clear = %q, want empty", got)
	}
}

func TestConverterRestoreFromFinal(t *testing.T) {
	c := New()
	push(c, "ab")
	c.RestoreFromFinal("きょうは")
	if got := c.Pending(); got != "" {
		t.Errorf("Pending() = %q, want empty", got)
	}
	if got := c.Composing(); got != "きょうは" {
		t.Errorf("Composing() = %q, want きょうは", got)
	}

	push(c, "ne")
	if got := c.Flush(); got != "きょうはね" {
		t.Errorf("Flush() = %q, want きょうはね", got)
	}
}

func TestConverterDeterministic(t *testing.T) {
	inputs := []string{"watashihagakkouniikimasu", "toukyouttokkyokyokakyoku", "nnnnn", "qxz"}
	for _, in := range inputs {
		a, b := New(), New()
		push(a, in)
		push(b, in)
		if x, y := a.Flush(), b.Flush(); x != y {
			t.Errorf("Flush(%q) not deterministic: %q vs %q", in, x, y)
		}
	}
}
