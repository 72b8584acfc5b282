package extract

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"furigana/dom"
	"furigana/rules"
)

func setup(t *testing.T, src string) (*dom.Document, *Extractor, *dom.Registry) {
	t.Helper()
	doc, err := dom.ParseString(src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	reg := dom.NewRegistry()
	return doc, New(rules.Default(), reg), reg
}

func texts(spans []*Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

func TestExtractSingleParagraph(t *testing.T) {
	doc, x, reg := setup(t, `<p>今日は学校に行く</p>`)
	spans := x.Extract(doc.Root())
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Text != "今日は学校に行く" {
		t.Errorf("unexpected text %q", s.Text)
	}
	if s.Block.Data != "p" {
		t.Errorf("expected block p, got %s", s.Block.Data)
	}
	if len(s.Segments) != 1 || s.Segments[0].Start != 0 || s.Segments[0].End != len(s.Text) {
		t.Errorf("unexpected segments: %+v", s.Segments)
	}
	if st, ok := reg.Status(s.Segments[0].Node); !ok || st != dom.Pending {
		t.Error("expected source node to be marked pending")
	}
}

func TestExtractMergesInlineText(t *testing.T) {
	doc, x, _ := setup(t, `<p>今日は<b>学校</b>に<a href="#">行く</a>。</p>`)
	spans := x.Extract(doc.Root())
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d: %v", len(spans), texts(spans))
	}
	s := spans[0]
	// The trailing "。" node has no kanji and is trimmed from the edge.
	if s.Text != "今日は学校に行く" {
		t.Errorf("unexpected text %q", s.Text)
	}
	if len(s.Segments) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(s.Segments))
	}

	// Segments tile the text and point back at the source nodes.
	end := 0
	for _, seg := range s.Segments {
		if seg.Start != end {
			t.Errorf("gap before segment %q: start %d, expected %d", seg.Data, seg.Start, end)
		}
		if s.Text[seg.Start:seg.End] != seg.Node.Data {
			t.Errorf("segment text %q does not match node %q", s.Text[seg.Start:seg.End], seg.Node.Data)
		}
		end = seg.End
	}
	if end != len(s.Text) {
		t.Errorf("segments cover %d bytes, text has %d", end, len(s.Text))
	}

	i, local, ok := s.Locate(strings.Index(s.Text, "校"))
	if !ok || s.Segments[i].Node.Data != "学校" || local != len("学") {
		t.Errorf("Locate returned %d %d %v", i, local, ok)
	}
}

func TestExtractKeepsInteriorKanaNodes(t *testing.T) {
	doc, x, _ := setup(t, `<p>東京<i>から</i>大阪</p>`)
	spans := x.Extract(doc.Root())
	if len(spans) != 1 || spans[0].Text != "東京から大阪" {
		t.Fatalf("expected one span 東京から大阪, got %v", texts(spans))
	}
}

func TestExtractBreaksAtBlocks(t *testing.T) {
	doc, x, _ := setup(t, `<div>日本<p>学校</p>東京<br>大阪<ul><li>一つ</li><li>ひとつ</li></ul></div>`)
	spans := x.Extract(doc.Root())
	want := []string{"日本", "学校", "東京", "大阪", "一つ"}
	got := texts(spans)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
	if spans[0].Block.Data != "div" || spans[1].Block.Data != "p" || spans[2].Block.Data != "div" {
		t.Errorf("unexpected blocks: %s %s %s", spans[0].Block.Data, spans[1].Block.Data, spans[2].Block.Data)
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].ID <= spans[i-1].ID {
			t.Errorf("span IDs must increase in document order: %d after %d", spans[i].ID, spans[i-1].ID)
		}
	}
}

func TestExtractSkipsExcludedSubtrees(t *testing.T) {
	doc, x, _ := setup(t, `<body>
<p>前の文<textarea>入力の漢字</textarea>後の文</p>
<script>var 漢字 = 1;</script>
<div contenteditable="true"><p>編集中</p></div>
<ruby>漢字<rt>かんじ</rt></ruby>
</body>`)
	spans := x.Extract(doc.Root())
	for _, s := range spans {
		for _, bad := range []string{"入力", "var", "編集", "かんじ"} {
			if strings.Contains(s.Text, bad) {
				t.Errorf("span %q contains excluded text %q", s.Text, bad)
			}
		}
	}
	got := texts(spans)
	if len(got) != 2 || got[0] != "前の文" || got[1] != "後の文" {
		t.Errorf("expected [前の文 後の文], got %v", got)
	}
}

func TestExtractSkipsFormValuesWhateverTheRules(t *testing.T) {
	doc, x, _ := setup(t, `<p>東京</p><textarea>学校</textarea><select><option>大阪</option></select>`)
	x.SetRules(mustCompile(t, []rules.Rule{{Selector: "p", Type: rules.Include}}))

	got := texts(x.Extract(doc.Root()))
	if len(got) != 1 || got[0] != "東京" {
		t.Errorf("expected only the paragraph, got %q", got)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	doc, x, _ := setup(t, `<p>今日は学校に行く</p><p>ひらがなだけ</p>`)
	first := x.Extract(doc.Root())
	if len(first) != 1 {
		t.Fatalf("expected 1 span, got %d", len(first))
	}
	if again := x.Extract(doc.Root()); len(again) != 0 {
		t.Errorf("expected no spans on re-extraction, got %v", texts(again))
	}
}

func TestExtractSkipsInsertedMarkup(t *testing.T) {
	doc, x, reg := setup(t, `<p><ruby class="furigana">今日<rt>きょう</rt></ruby>は晴れ</p>`)
	ruby := dom.FindElement(doc.Root(), "ruby")
	reg.MarkTree(ruby, dom.Inserted)
	// Even with rules that allow ruby, inserted nodes are never re-entered.
	x.SetRules(mustCompile(t, nil))

	spans := x.Extract(doc.Root())
	if len(spans) != 1 || spans[0].Text != "は晴れ" {
		t.Errorf("expected only は晴れ, got %v", texts(spans))
	}
	if got := x.Extract(ruby); got != nil {
		t.Errorf("expected nil for inserted root, got %v", texts(got))
	}
}

func TestExtractSubtreeRoot(t *testing.T) {
	doc, x, _ := setup(t, `<div class="skip"><p id="a">漢字</p></div><p id="b">学校<span>です</span></p>`)
	x.SetRules(mustCompile(t, []rules.Rule{{Selector: ".skip", Type: rules.Exclude}}))

	var a, b *html.Node
	dom.Walk(doc.Root(), func(n *html.Node) bool {
		if v, ok := dom.Attr(n, "id"); ok {
			switch v {
			case "a":
				a = n
			case "b":
				b = n
			}
		}
		return true
	})

	if got := x.Extract(a); len(got) != 0 {
		t.Errorf("root under an excluded ancestor must yield nothing, got %v", texts(got))
	}
	span := b.LastChild
	got := x.Extract(span)
	if len(got) != 0 {
		t.Errorf("kana-only inline root should yield nothing, got %v", texts(got))
	}
	got = x.Extract(b.FirstChild)
	if len(got) != 1 || got[0].Block != b {
		t.Errorf("text root should extract within its block, got %v", texts(got))
	}
}

func mustCompile(t *testing.T, rs []rules.Rule) *rules.Set {
	t.Helper()
	s, err := rules.Compile(rs)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return s
}
