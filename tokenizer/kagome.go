package tokenizer

import (
	"fmt"

	"github.com/ikawaha/kagome-dict/ipa"
	kagome "github.com/ikawaha/kagome/v2/tokenizer"

	"furigana/kana"
)

// IPA feature positions.
const (
	featurePOS     = 0
	featureReading = 7
)

// KagomeAnalyzer runs the kagome morphological analyser in process with the
// IPA dictionary.
type KagomeAnalyzer struct {
	t *kagome.Tokenizer
}

// NewKagomeAnalyzer loads the dictionary and builds the analyser.
func NewKagomeAnalyzer() (*KagomeAnalyzer, error) {
	t, err := kagome.New(ipa.Dict(), kagome.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("creating kagome tokenizer: %w", err)
	}
	return &KagomeAnalyzer{t: t}, nil
}

// Analyze tokenizes text. Readings are returned in katakana as the
// dictionary stores them, and only for surfaces that contain kanji.
func (a *KagomeAnalyzer) Analyze(text string) ([]Token, error) {
	var tokens []Token
	for _, tok := range a.t.Tokenize(text) {
		if tok.Class == kagome.DUMMY {
			continue
		}
		features := tok.Features()

		t := Token{Surface: tok.Surface}
		if len(features) > featurePOS {
			t.PartOfSpeech = features[featurePOS]
		}
		if len(features) > featureReading && features[featureReading] != "*" && kana.HasKanji(tok.Surface) {
			t.Reading = features[featureReading]
		}
		tokens = append(tokens, t)
	}
	return fillGaps(text, tokens), nil
}
