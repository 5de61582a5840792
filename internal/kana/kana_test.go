package kana

import "testing"

func TestToKatakana(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"きょう":       "キョウ",
		"がっこう":      "ガッコウ",
		"ゔ":         "ヴ",
		"abc":       "abc",
		"にほんご123":   "ニホンゴ123",
		"カタカナ":      "カタカナ",
		"わたしはー":     "ワタシハー",
	}
	for in, want := range cases {
		if got := ToKatakana(in); got != want {
			t.Errorf("ToKatakana(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToHiragana(t *testing.T) {
	cases := map[string]string{
		"キョウ":   "きょう",
		"ガッコウ":  "がっこう",
		"ラーメン":  "らーめん",
		"mixedカ": "mixedか",
	}
	for in, want := range cases {
		if got := ToHiragana(in); got != want {
			t.Errorf("ToHiragana(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"とうきょう", "ありがとうございます", "ぁぃぅぇぉっゃゅょゎ"} {
		if got := ToHiragana(ToKatakana(s)); got != s {
			t.Errorf("round trip of %q gave %q", s, got)
		}
	}
}

func TestNormalizeReading(t *testing.T) {
	cases := map[string]string{
		"  トウキョウ  ": "とうきょう",
		"ｶﾀｶﾅ":      "かたかな",
		"にほん":       "にほん",
		"":          "",
		"   ":       "",
	}
	for in, want := range cases {
		if got := NormalizeReading(in); got != want {
			t.Errorf("NormalizeReading(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsKanaOnly(t *testing.T) {
	if !IsKanaOnly("らーめん") {
		t.Error("expected らーめん to be kana only")
	}
	if !IsKanaOnly("ラーメン") {
		t.Error("expected ラーメン to be kana only")
	}
	if IsKanaOnly("東京") {
		t.Error("kanji should not be kana only")
	}
	if IsKanaOnly("") {
		t.Error("empty string should not be kana only")
	}
}
