// Package extract finds the kanji-bearing text of a page and groups it into
// spans, one run of inline text per block, so the tokenizer sees whole
// sentences rather than isolated text nodes.
package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"furigana/dom"
	"furigana/kana"
	"furigana/rules"
)

// Segment maps one slice of a span's text back to the text node it came from.
type Segment struct {
	Node   *html.Node
	Parent *html.Node // parent at extraction time
	Start  int        // byte offsets into Span.Text
	End    int
	Data   string // node data at extraction time
}

// Span is a run of text taken from consecutive text nodes inside one block.
type Span struct {
	ID       uint64
	Block    *html.Node
	Text     string
	Segments []Segment
}

// Nodes returns the span's source text nodes in document order.
func (s *Span) Nodes() []*html.Node {
	nodes := make([]*html.Node, len(s.Segments))
	for i, seg := range s.Segments {
		nodes[i] = seg.Node
	}
	return nodes
}

// Locate maps a byte offset in Text to the segment holding it and the offset
// within that segment's node. ok is false when off is out of range.
func (s *Span) Locate(off int) (seg, local int, ok bool) {
	for i, sg := range s.Segments {
		if off >= sg.Start && off < sg.End {
			return i, off - sg.Start, true
		}
	}
	return 0, 0, false
}

// Extractor walks eligible parts of a page and produces spans.
type Extractor struct {
	rules    *rules.Set
	registry *dom.Registry
	nextID   uint64
}

// New returns an extractor using set for eligibility and reg to skip nodes
// that were already scanned or inserted.
func New(set *rules.Set, reg *dom.Registry) *Extractor {
	return &Extractor{rules: set, registry: reg}
}

// SetRules swaps the rule set used for later extractions.
func (x *Extractor) SetRules(set *rules.Set) {
	x.rules = set
}

// Extract returns the spans under root in document order. Every text node
// taken into a span is marked Pending, so extracting the same subtree again
// yields nothing new.
func (x *Extractor) Extract(root *html.Node) []*Span {
	if root == nil {
		return nil
	}
	if x.registry.Has(root) || x.registry.Inserted(root) {
		return nil
	}
	start := root
	if root.Type == html.TextNode {
		start = root.Parent
	}
	for a := start; a != nil; a = a.Parent {
		if dom.IsRawText(a) {
			return nil
		}
	}
	if start != nil && start.Type == html.ElementNode && !x.rules.IsEligible(start) {
		return nil
	}

	w := &walker{x: x}
	w.walk(root, dom.BlockOf(root))
	w.flush()
	return w.spans
}

type walker struct {
	x     *Extractor
	spans []*Span
	run   []*html.Node
	block *html.Node
}

func (w *walker) walk(n *html.Node, block *html.Node) {
	switch n.Type {
	case html.TextNode:
		if w.x.registry.Has(n) {
			w.flush()
			return
		}
		if block != w.block {
			w.flush()
			w.block = block
		}
		w.run = append(w.run, n)
		return

	case html.ElementNode:
		if w.x.registry.Has(n) || dom.IsRawText(n) || dom.HasAttr(n, "data-furigana") {
			w.flush()
			return
		}
		if w.x.rules.Classify(n) == rules.ClassExclude {
			w.flush()
			return
		}
		if n.DataAtom == atom.Br {
			w.flush()
			return
		}

	case html.DocumentNode:
	default:
		return
	}

	isBlock := dom.IsBlock(n) || n.Type == html.DocumentNode
	if isBlock {
		w.flush()
		block = n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, block)
	}
	if isBlock {
		w.flush()
	}
}

// flush turns the current run into a span. Kanji-free nodes at either edge
// are dropped; a run without kanji produces nothing.
func (w *walker) flush() {
	run := w.run
	w.run = nil
	for len(run) > 0 && !kana.HasKanji(run[0].Data) {
		run = run[1:]
	}
	for len(run) > 0 && !kana.HasKanji(run[len(run)-1].Data) {
		run = run[:len(run)-1]
	}
	if len(run) == 0 {
		return
	}

	w.x.nextID++
	span := &Span{
		ID:       w.x.nextID,
		Block:    w.block,
		Segments: make([]Segment, 0, len(run)),
	}
	var sb strings.Builder
	for _, n := range run {
		start := sb.Len()
		sb.WriteString(n.Data)
		span.Segments = append(span.Segments, Segment{
			Node:   n,
			Parent: n.Parent,
			Start:  start,
			End:    sb.Len(),
			Data:   n.Data,
		})
		w.x.registry.Mark(n, dom.Pending)
	}
	span.Text = sb.String()
	w.spans = append(w.spans, span)
}
