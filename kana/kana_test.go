package kana

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsKanji(t *testing.T) {
	tests := []struct {
		r    rune
		want bool
	}{
		{'学', true},
		{'々', true},
		{'〆', true},
		{'㐂', true},
		{'あ', false},
		{'ア', false},
		{'a', false},
		{'。', false},
		{'ー', false},
	}
	for _, tt := range tests {
		if got := IsKanji(tt.r); got != tt.want {
			t.Errorf("IsKanji(%q) = %v, want %v", tt.r, got, tt.want)
		}
	}
}

func TestHasKanji(t *testing.T) {
	if !HasKanji("今日は") {
		t.Error("expected kanji in 今日は")
	}
	if HasKanji("ひらがなとカタカナ") {
		t.Error("expected no kanji in kana-only text")
	}
	if HasKanji("") {
		t.Error("expected no kanji in empty string")
	}
}

func TestToHiraganaAndKatakana(t *testing.T) {
	if got := ToHiragana("ガッコウ"); got != "がっこう" {
		t.Errorf("expected がっこう, got %q", got)
	}
	if got := ToHiragana("ｶﾀｶﾅ"); got != "かたかな" {
		t.Errorf("expected half-width katakana to convert, got %q", got)
	}
	if got := ToKatakana("きょう"); got != "キョウ" {
		t.Errorf("expected キョウ, got %q", got)
	}
	if got := ToHiragana("abc"); got != "abc" {
		t.Errorf("expected ascii untouched, got %q", got)
	}
}

func TestToRomaji(t *testing.T) {
	tests := map[string]string{
		"きょう":   "kyou",
		"がっこう":  "gakkou",
		"いく":    "iku",
		"まっちゃ":  "matcha",
		"しんよう":  "shin'you",
		"コーヒー":  "koohii",
		"ちゅうごく": "chuugoku",
		"にほんご":  "nihongo",
		"ふじさん":  "fujisan",
		"つづく":   "tsuzuku",
	}
	for in, want := range tests {
		if got := ToRomaji(in); got != want {
			t.Errorf("ToRomaji(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		name    string
		surface string
		reading string
		want    []Part
	}{
		{
			name:    "single kanji group",
			surface: "学校",
			reading: "ガッコウ",
			want:    []Part{{Text: "学校", Reading: "がっこう"}},
		},
		{
			name:    "okurigana",
			surface: "行く",
			reading: "いく",
			want:    []Part{{Text: "行", Reading: "い"}, {Text: "く"}},
		},
		{
			name:    "interleaved kana",
			surface: "取り扱い",
			reading: "とりあつかい",
			want: []Part{
				{Text: "取", Reading: "と"},
				{Text: "り"},
				{Text: "扱", Reading: "あつか"},
				{Text: "い"},
			},
		},
		{
			name:    "kana prefix",
			surface: "お茶",
			reading: "おちゃ",
			want:    []Part{{Text: "お"}, {Text: "茶", Reading: "ちゃ"}},
		},
		{
			name:    "no kanji",
			surface: "は",
			reading: "ハ",
			want:    []Part{{Text: "は"}},
		},
		{
			name:    "empty reading",
			surface: "猫",
			reading: "",
			want:    []Part{{Text: "猫"}},
		},
		{
			name:    "unalignable falls back to whole token",
			surface: "3月",
			reading: "さんがつ",
			want:    []Part{{Text: "3月", Reading: "さんがつ"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Align(tt.surface, tt.reading)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Align(%q, %q) mismatch (-want +got):\n%s", tt.surface, tt.reading, diff)
			}
		})
	}
}
