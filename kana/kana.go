// Package kana provides the character classification and reading conversion
// used when placing furigana: kanji detection, kana transliteration and
// alignment of a token's reading against its surface form.
package kana

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// IsKanji reports whether r falls in one of the CJK ideograph blocks, or is
// one of the iteration/closing marks that take a reading in running text.
func IsKanji(r rune) bool {
	switch {
	case r < 0x3005:
		return false
	case r == 0x3005, r == 0x3006, r == 0x3007, r == 0x303B: // 々 〆 〇 〻
		return true
	case r >= 0x3400 && r <= 0x4DBF: // extension A
		return true
	case r >= 0x4E00 && r <= 0x9FFF:
		return true
	case r >= 0xF900 && r <= 0xFAFF: // compatibility ideographs
		return true
	case r >= 0x20000 && r <= 0x2FA1F: // extensions B onwards
		return true
	}
	return false
}

// HasKanji reports whether s contains at least one kanji.
func HasKanji(s string) bool {
	for _, r := range s {
		if IsKanji(r) {
			return true
		}
	}
	return false
}

// IsHiragana reports whether r is in the hiragana block.
func IsHiragana(r rune) bool {
	return r >= 0x3041 && r <= 0x309F
}

// IsKatakana reports whether r is in the katakana block.
func IsKatakana(r rune) bool {
	return r >= 0x30A1 && r <= 0x30FF
}

// ToHiragana converts katakana in s to hiragana. Widths are folded first, so
// half-width katakana converts too.
func ToHiragana(s string) string {
	s = width.Fold.String(s)
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r >= 0x30A1 && r <= 0x30F6 {
			r -= 0x60
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ToKatakana converts hiragana in s to katakana.
func ToKatakana(s string) string {
	s = width.Fold.String(s)
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r >= 0x3041 && r <= 0x3096 {
			r += 0x60
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Part is one piece of an aligned token. Reading is empty for pieces that
// are shown as-is (okurigana, punctuation).
type Part struct {
	Text    string
	Reading string
}

// Align splits surface into kanji groups carrying their share of reading and
// kana groups carrying none. When the kana in surface cannot be found in the
// reading, the whole surface gets the whole reading.
func Align(surface, reading string) []Part {
	reading = ToHiragana(reading)
	if reading == "" || !HasKanji(surface) || reading == ToHiragana(surface) {
		return []Part{{Text: surface}}
	}

	groups := groupRuns(surface)
	if len(groups) == 1 {
		return []Part{{Text: surface, Reading: reading}}
	}

	var pattern strings.Builder
	pattern.WriteString("^")
	for _, g := range groups {
		if g.kanji {
			pattern.WriteString("(.+?)")
		} else {
			pattern.WriteString(regexp.QuoteMeta(ToHiragana(g.text)))
		}
	}
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return []Part{{Text: surface, Reading: reading}}
	}
	m := re.FindStringSubmatch(reading)
	if m == nil {
		return []Part{{Text: surface, Reading: reading}}
	}

	parts := make([]Part, 0, len(groups))
	idx := 1
	for _, g := range groups {
		if g.kanji {
			parts = append(parts, Part{Text: g.text, Reading: m[idx]})
			idx++
			continue
		}
		parts = append(parts, Part{Text: g.text})
	}
	return parts
}

type run struct {
	text  string
	kanji bool
}

// groupRuns splits s into maximal runs of kanji and non-kanji characters.
func groupRuns(s string) []run {
	var runs []run
	start := 0
	for i, r := range s {
		k := IsKanji(r)
		if i == 0 {
			runs = append(runs, run{kanji: k})
			continue
		}
		if k != runs[len(runs)-1].kanji {
			runs[len(runs)-1].text = s[start:i]
			start = i
			runs = append(runs, run{kanji: k})
		}
	}
	if len(runs) > 0 {
		runs[len(runs)-1].text = s[start:]
	}
	return runs
}
