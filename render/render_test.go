package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"

	"furigana/dom"
	"furigana/extract"
	"furigana/rules"
	"furigana/tokenizer"
)

var sentence = []tokenizer.Token{
	{Surface: "今日", Reading: "キョウ", PartOfSpeech: "名詞"},
	{Surface: "は", PartOfSpeech: "助詞"},
	{Surface: "学校", Reading: "ガッコウ", PartOfSpeech: "名詞"},
	{Surface: "に", PartOfSpeech: "助詞"},
	{Surface: "行く", Reading: "イク", PartOfSpeech: "動詞"},
}

type fixture struct {
	doc   *dom.Document
	reg   *dom.Registry
	spans []*extract.Span
	r     *Renderer
}

func setup(t *testing.T, src string, opts Options) *fixture {
	t.Helper()
	doc, err := dom.ParseString(src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	reg := dom.NewRegistry()
	spans := extract.New(rules.Default(), reg).Extract(doc.Root())
	return &fixture{doc: doc, reg: reg, spans: spans, r: New(doc, reg, opts)}
}

func rtTexts(t *testing.T, doc *dom.Document) []string {
	t.Helper()
	q := goquery.NewDocumentFromNode(doc.Root())
	var out []string
	q.Find("ruby.furigana rt").Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return out
}

func TestApplySentence(t *testing.T) {
	f := setup(t, `<p>今日は学校に行く</p>`, DefaultOptions())
	if len(f.spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(f.spans))
	}

	rec, err := f.r.Apply(f.spans[0], sentence)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(rec.Entries) != 1 {
		t.Fatalf("expected 1 replaced text node, got %d", len(rec.Entries))
	}

	if diff := cmp.Diff([]string{"きょう", "がっこう", "い"}, rtTexts(t, f.doc)); diff != "" {
		t.Errorf("readings mismatch (-want +got):\n%s", diff)
	}

	q := goquery.NewDocumentFromNode(f.doc.Root())
	var bases []string
	q.Find("ruby.furigana").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr(MarkerAttr); !ok {
			t.Error("ruby is missing the marker attribute")
		}
		bases = append(bases, strings.TrimSpace(s.Contents().First().Text()))
		if s.Find("rp").Length() != 2 {
			t.Error("expected two rp fallbacks per ruby")
		}
	})
	if diff := cmp.Diff([]string{"今日", "学校", "行"}, bases); diff != "" {
		t.Errorf("bases mismatch (-want +got):\n%s", diff)
	}

	p := dom.FindElement(f.doc.Root(), "p")
	if got := CopyText(p, SelectOriginal); got != "今日は学校に行く" {
		t.Errorf("original copy text = %q", got)
	}
	if got := CopyText(p, SelectFurigana); got != "今日(きょう)は学校(がっこう)に行(い)く" {
		t.Errorf("furigana copy text = %q", got)
	}

	for _, n := range rec.Entries[0].Inserted {
		if !f.reg.Inserted(n) {
			t.Error("inserted node is not registered")
		}
	}
}

func TestApplyUndoRoundTrip(t *testing.T) {
	src := `<html><head></head><body><div><p>今日は<b>学校</b>に行く。</p><p>東京<br>大阪</p></div></body></html>`
	f := setup(t, src, DefaultOptions())
	before := f.doc.String()

	tokens := map[string][]tokenizer.Token{
		"今日は学校に行く。": append(append([]tokenizer.Token{}, sentence...), tokenizer.Token{Surface: "。"}),
		"東京":        {{Surface: "東京", Reading: "トウキョウ"}},
		"大阪":        {{Surface: "大阪", Reading: "オオサカ"}},
	}
	var recs []*Record
	for _, s := range f.spans {
		rec, err := f.r.Apply(s, tokens[s.Text])
		if err != nil {
			t.Fatalf("Apply(%q) failed: %v", s.Text, err)
		}
		recs = append(recs, rec)
	}
	f.r.InstallStyle()

	if f.doc.String() == before {
		t.Fatal("expected the page to change")
	}
	if got := len(rtTexts(t, f.doc)); got != 5 {
		t.Errorf("expected 5 annotations, got %d", got)
	}

	f.r.RemoveStyle()
	for i := len(recs) - 1; i >= 0; i-- {
		if err := f.r.Undo(recs[i]); err != nil {
			t.Fatalf("Undo failed: %v", err)
		}
	}
	if got := f.doc.String(); got != before {
		t.Errorf("round trip mismatch:\nbefore: %s\nafter:  %s", before, got)
	}
	if f.reg.Len() != 0 {
		t.Errorf("expected an empty registry after undo, got %d entries", f.reg.Len())
	}
}

func TestApplyKeepsUnannotatedNodes(t *testing.T) {
	f := setup(t, `<p>今<b>日</b>は</p>`, DefaultOptions())
	before := f.doc.String()

	rec, err := f.r.Apply(f.spans[0], []tokenizer.Token{{Surface: "今日", Reading: "キョウ"}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(rec.Entries) != 0 || len(rec.Kept) != 2 {
		t.Errorf("expected no replacements and 2 kept nodes, got %d and %d", len(rec.Entries), len(rec.Kept))
	}
	if f.doc.String() != before {
		t.Error("a token across text nodes must leave the page unchanged")
	}
	for _, n := range rec.Kept {
		if st, _ := f.reg.Status(n); st != dom.Settled {
			t.Errorf("expected kept node %q to be settled, got %v", n.Data, st)
		}
	}
}

func TestApplyRejectsStaleTargets(t *testing.T) {
	f := setup(t, `<p>今日は学校に行く</p>`, DefaultOptions())
	node := f.spans[0].Segments[0].Node
	f.doc.Mutate(dom.OriginPage, func(m *dom.Mutator) {
		m.SetText(node, "明日は学校に行く")
	})

	if _, err := f.r.Apply(f.spans[0], sentence); !errors.Is(err, ErrStaleTarget) {
		t.Errorf("expected ErrStaleTarget, got %v", err)
	}
	if len(rtTexts(t, f.doc)) != 0 {
		t.Error("stale apply must not touch the page")
	}

	f = setup(t, `<p>今日は学校に行く</p>`, DefaultOptions())
	node = f.spans[0].Segments[0].Node
	f.doc.Mutate(dom.OriginPage, func(m *dom.Mutator) {
		m.RemoveChild(node)
	})
	if _, err := f.r.Apply(f.spans[0], sentence); !errors.Is(err, ErrStaleTarget) {
		t.Errorf("expected ErrStaleTarget for a removed node, got %v", err)
	}
}

func TestApplyRejectsMismatchedTokens(t *testing.T) {
	f := setup(t, `<p>今日は学校に行く</p>`, DefaultOptions())
	_, err := f.r.Apply(f.spans[0], sentence[:3])
	var te *tokenizer.TokenCountMismatchError
	if !errors.As(err, &te) {
		t.Errorf("expected TokenCountMismatchError, got %v", err)
	}
}

func TestUndoConflict(t *testing.T) {
	f := setup(t, `<p>今日は学校に行く</p>`, DefaultOptions())
	rec, err := f.r.Apply(f.spans[0], sentence)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// The page wipes the paragraph's children.
	p := dom.FindElement(f.doc.Root(), "p")
	f.doc.Mutate(dom.OriginPage, func(m *dom.Mutator) {
		for c := p.FirstChild; c != nil; c = p.FirstChild {
			m.RemoveChild(c)
		}
	})

	err = f.r.Undo(rec)
	var ce *UndoConflictError
	if !errors.As(err, &ce) || ce.Skipped != 1 {
		t.Fatalf("expected UndoConflictError for 1 entry, got %v", err)
	}
	if p.FirstChild != nil {
		t.Error("undo must not reinsert without an anchor")
	}
	if f.reg.Len() != 0 {
		t.Errorf("expected registry entries to be dropped, got %d", f.reg.Len())
	}
}

func TestFuriganaTypes(t *testing.T) {
	tests := []struct {
		kind FuriganaType
		want []string
	}{
		{Hiragana, []string{"きょう", "がっこう", "い"}},
		{Katakana, []string{"キョウ", "ガッコウ", "イ"}},
		{Romaji, []string{"kyou", "gakkou", "i"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Furigana = tt.kind
			f := setup(t, `<p>今日は学校に行く</p>`, opts)
			if _, err := f.r.Apply(f.spans[0], sentence); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, rtTexts(t, f.doc)); diff != "" {
				t.Errorf("readings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStyle(t *testing.T) {
	opts := DefaultOptions()
	opts.Display = DisplayHover
	f := setup(t, `<html><head><title>t</title></head><body><p>今日</p></body></html>`, opts)
	if _, err := f.r.Apply(f.spans[0], []tokenizer.Token{{Surface: "今日", Reading: "キョウ"}}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	f.r.InstallStyle()
	f.r.InstallStyle()

	q := goquery.NewDocumentFromNode(f.doc.Root())
	styles := q.Find("head style[data-furigana]")
	if styles.Length() != 1 {
		t.Fatalf("expected one engine style, got %d", styles.Length())
	}
	css := styles.Text()
	for _, want := range []string{"font-size:50%", ":hover", "user-select:none"} {
		if !strings.Contains(css, want) {
			t.Errorf("stylesheet missing %q: %s", want, css)
		}
	}
	if q.Find("ruby.furigana.furigana-hover").Length() != 1 {
		t.Error("expected the hover class on ruby in hover mode")
	}

	f.r.RemoveStyle()
	if goquery.NewDocumentFromNode(f.doc.Root()).Find("style").Length() != 0 {
		t.Error("expected the style to be removed")
	}
}

func TestStylesheetRejectsUnsafeColour(t *testing.T) {
	tests := []struct {
		color string
		want  string
	}{
		{"crimson", "color:crimson;"},
		{"rgb(200, 0, 0)", "color:rgb(200, 0, 0);"},
		{"red}</style><script>alert(1)</script>", "color:inherit;"},
		{"red;position:fixed", "color:inherit;"},
		{"", "color:inherit;"},
	}
	for _, tt := range tests {
		opts := DefaultOptions()
		opts.FontColor = tt.color
		f := setup(t, `<p>今日</p>`, opts)
		css := f.r.Stylesheet()
		if !strings.Contains(css, tt.want) {
			t.Errorf("FontColor %q: expected %q in %s", tt.color, tt.want, css)
		}
		if strings.Contains(css, "</style") {
			t.Errorf("FontColor %q escaped the stylesheet: %s", tt.color, css)
		}
	}
}
