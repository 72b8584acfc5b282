package kana

import "strings"

// Modified Hepburn, which is what learners expect to see above text.
var romajiDigraphs = map[string]string{
	"きゃ": "kya", "きゅ": "kyu", "きょ": "kyo",
	"ぎゃ": "gya", "ぎゅ": "gyu", "ぎょ": "gyo",
	"しゃ": "sha", "しゅ": "shu", "しょ": "sho", "しぇ": "she",
	"じゃ": "ja", "じゅ": "ju", "じょ": "jo", "じぇ": "je",
	"ちゃ": "cha", "ちゅ": "chu", "ちょ": "cho", "ちぇ": "che",
	"ぢゃ": "ja", "ぢゅ": "ju", "ぢょ": "jo",
	"にゃ": "nya", "にゅ": "nyu", "にょ": "nyo",
	"ひゃ": "hya", "ひゅ": "hyu", "ひょ": "hyo",
	"びゃ": "bya", "びゅ": "byu", "びょ": "byo",
	"ぴゃ": "pya", "ぴゅ": "pyu", "ぴょ": "pyo",
	"みゃ": "mya", "みゅ": "myu", "みょ": "myo",
	"りゃ": "rya", "りゅ": "ryu", "りょ": "ryo",
	"ふぁ": "fa", "ふぃ": "fi", "ふぇ": "fe", "ふぉ": "fo",
	"てぃ": "ti", "でぃ": "di", "とぅ": "tu", "どぅ": "du",
	"うぃ": "wi", "うぇ": "we", "うぉ": "wo",
	"ゔぁ": "va", "ゔぃ": "vi", "ゔぇ": "ve", "ゔぉ": "vo",
}

var romajiMonographs = map[rune]string{
	'あ': "a", 'い': "i", 'う': "u", 'え': "e", 'お': "o",
	'か': "ka", 'き': "ki", 'く': "ku", 'け': "ke", 'こ': "ko",
	'が': "ga", 'ぎ': "gi", 'ぐ': "gu", 'げ': "ge", 'ご': "go",
	'さ': "sa", 'し': "shi", 'す': "su", 'せ': "se", 'そ': "so",
	'ざ': "za", 'じ': "ji", 'ず': "zu", 'ぜ': "ze", 'ぞ': "zo",
	'た': "ta", 'ち': "chi", 'つ': "tsu", 'て': "te", 'と': "to",
	'だ': "da", 'ぢ': "ji", 'づ': "zu", 'で': "de", 'ど': "do",
	'な': "na", 'に': "ni", 'ぬ': "nu", 'ね': "ne", 'の': "no",
	'は': "ha", 'ひ': "hi", 'ふ': "fu", 'へ': "he", 'ほ': "ho",
	'ば': "ba", 'び': "bi", 'ぶ': "bu", 'べ': "be", 'ぼ': "bo",
	'ぱ': "pa", 'ぴ': "pi", 'ぷ': "pu", 'ぺ': "pe", 'ぽ': "po",
	'ま': "ma", 'み': "mi", 'む': "mu", 'め': "me", 'も': "mo",
	'や': "ya", 'ゆ': "yu", 'よ': "yo",
	'ら': "ra", 'り': "ri", 'る': "ru", 'れ': "re", 'ろ': "ro",
	'わ': "wa", 'ゐ': "i", 'ゑ': "e", 'を': "o",
	'ゔ': "vu",
	'ぁ': "a", 'ぃ': "i", 'ぅ': "u", 'ぇ': "e", 'ぉ': "o",
	'ゃ': "ya", 'ゅ': "yu", 'ょ': "yo", 'ゎ': "wa",
}

// ToRomaji transliterates kana in s to Hepburn romaji. Characters that are
// not kana are copied through.
func ToRomaji(s string) string {
	rs := []rune(ToHiragana(s))
	var sb strings.Builder
	sokuon := false
	for i := 0; i < len(rs); i++ {
		r := rs[i]

		var syl string
		if i+1 < len(rs) {
			if d, ok := romajiDigraphs[string(rs[i:i+2])]; ok {
				syl = d
				i++
			}
		}
		if syl == "" {
			switch r {
			case 'っ':
				sokuon = true
				continue
			case 'ん':
				syl = "n"
				if i+1 < len(rs) && startsWithVowelOrY(rs[i+1]) {
					syl = "n'"
				}
			case 'ー':
				syl = lastVowel(sb.String())
			default:
				if m, ok := romajiMonographs[r]; ok {
					syl = m
				} else {
					syl = string(r)
				}
			}
		}

		if sokuon {
			sokuon = false
			switch {
			case strings.HasPrefix(syl, "ch"):
				sb.WriteByte('t')
			case syl != "" && isConsonant(syl[0]):
				sb.WriteByte(syl[0])
			}
		}
		sb.WriteString(syl)
	}
	return sb.String()
}

func startsWithVowelOrY(r rune) bool {
	m, ok := romajiMonographs[r]
	if !ok || m == "" {
		return false
	}
	switch m[0] {
	case 'a', 'i', 'u', 'e', 'o', 'y':
		return true
	}
	return false
}

func lastVowel(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case 'a', 'i', 'u', 'e', 'o':
			return string(s[i])
		}
	}
	return "-"
}

func isConsonant(b byte) bool {
	if b < 'a' || b > 'z' {
		return false
	}
	switch b {
	case 'a', 'i', 'u', 'e', 'o', 'n':
		return false
	}
	return true
}
