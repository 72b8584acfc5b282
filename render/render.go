// Package render turns tokenized spans into ruby annotations on the page and
// takes them off again.
package render

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"furigana/dom"
	"furigana/extract"
	"furigana/kana"
	"furigana/tokenizer"
)

// DisplayMode controls when readings are visible.
type DisplayMode string

const (
	DisplayAlways DisplayMode = "always"
	DisplayHover  DisplayMode = "hover"
)

// FuriganaType is the script readings are written in.
type FuriganaType string

const (
	Hiragana FuriganaType = "hiragana"
	Katakana FuriganaType = "katakana"
	Romaji   FuriganaType = "romaji"
)

// SelectMode controls what a text selection over annotated text copies.
type SelectMode string

const (
	SelectOriginal SelectMode = "original"
	SelectFurigana SelectMode = "furigana"
)

// Class names carried by engine-authored ruby elements.
const (
	ClassRuby  = "furigana"
	ClassHover = "furigana-hover"
	// MarkerAttr tags every element the engine inserts.
	MarkerAttr = "data-furigana"
)

// Options are the display preferences applied to new annotations.
type Options struct {
	Display   DisplayMode
	Furigana  FuriganaType
	Select    SelectMode
	FontSize  int // percent of the base text
	FontColor string
}

// DefaultOptions returns the built-in display preferences.
func DefaultOptions() Options {
	return Options{
		Display:   DisplayAlways,
		Furigana:  Hiragana,
		Select:    SelectOriginal,
		FontSize:  50,
		FontColor: "inherit",
	}
}

// ErrStaleTarget means a span's source nodes changed between extraction and
// apply.
var ErrStaleTarget = errors.New("annotation target changed since extraction")

// UndoConflictError reports entries that could not be reverted because the
// page removed every node the engine had put in their place.
type UndoConflictError struct {
	SpanID  uint64
	Skipped int
}

func (e *UndoConflictError) Error() string {
	return fmt.Sprintf("span %d: %d annotation(s) no longer in the page", e.SpanID, e.Skipped)
}

// Entry is one replaced text node: Original was detached from Parent and
// Inserted took its place.
type Entry struct {
	Parent   *html.Node
	Original *html.Node
	Inserted []*html.Node
}

// Record is everything needed to revert one applied span.
type Record struct {
	SpanID  uint64
	Entries []Entry
	// Kept are source nodes left in place because nothing in them was
	// annotated. They stay registered as Settled so they are not scanned
	// again.
	Kept []*html.Node
}

// Renderer writes annotations into one document.
type Renderer struct {
	doc   *dom.Document
	reg   *dom.Registry
	opts  Options
	style *html.Node
}

// New returns a renderer for doc. Inserted nodes are registered in reg.
func New(doc *dom.Document, reg *dom.Registry, opts Options) *Renderer {
	return &Renderer{doc: doc, reg: reg, opts: opts}
}

// Options returns the display preferences in use.
func (r *Renderer) Options() Options {
	return r.opts
}

// piece is an annotated token inside one segment, in node-local offsets.
type piece struct {
	start, end int
	reading    string
}

// Apply annotates span with tokens. Tokens must tile the span text. Every
// text node that receives at least one ruby is replaced in a single
// mutation; the others are left alone.
func (r *Renderer) Apply(span *extract.Span, tokens []tokenizer.Token) (*Record, error) {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(t.Surface)
	}
	if sb.String() != span.Text {
		return nil, &tokenizer.TokenCountMismatchError{
			Reason: fmt.Sprintf("span %d: tokens do not cover the span text", span.ID),
		}
	}
	for _, seg := range span.Segments {
		if seg.Node.Parent == nil || seg.Node.Parent != seg.Parent || seg.Node.Data != seg.Data || !r.doc.Contains(seg.Node) {
			return nil, ErrStaleTarget
		}
	}

	pieces := make([][]piece, len(span.Segments))
	off := 0
	for _, t := range tokens {
		start, end := off, off+len(t.Surface)
		off = end
		if t.Reading == "" || !kana.HasKanji(t.Surface) {
			continue
		}
		i, local, ok := span.Locate(start)
		if !ok || end > span.Segments[i].End {
			// Crosses into the next text node; left unannotated.
			continue
		}
		pieces[i] = append(pieces[i], piece{start: local, end: local + len(t.Surface), reading: t.Reading})
	}

	rec := &Record{SpanID: span.ID}
	type replacement struct {
		seg   extract.Segment
		nodes []*html.Node
	}
	var repl []replacement
	for i, seg := range span.Segments {
		nodes, annotated := r.build(seg.Data, pieces[i])
		if !annotated {
			rec.Kept = append(rec.Kept, seg.Node)
			r.reg.Mark(seg.Node, dom.Settled)
			continue
		}
		repl = append(repl, replacement{seg: seg, nodes: nodes})
	}
	if len(repl) == 0 {
		return rec, nil
	}

	r.doc.Mutate(dom.OriginEngine, func(m *dom.Mutator) {
		for _, rp := range repl {
			m.ReplaceChild(rp.seg.Node, rp.nodes...)
		}
	})
	for _, rp := range repl {
		for _, n := range rp.nodes {
			r.reg.MarkTree(n, dom.Inserted)
		}
		rec.Entries = append(rec.Entries, Entry{
			Parent:   rp.seg.Parent,
			Original: rp.seg.Node,
			Inserted: rp.nodes,
		})
	}
	return rec, nil
}

// build produces the replacement nodes for one text node. annotated is
// false when no ruby came out of it.
func (r *Renderer) build(data string, pieces []piece) (nodes []*html.Node, annotated bool) {
	var plain strings.Builder
	flush := func() {
		if plain.Len() > 0 {
			nodes = append(nodes, dom.Text(plain.String()))
			plain.Reset()
		}
	}

	pos := 0
	for _, p := range pieces {
		plain.WriteString(data[pos:p.start])
		pos = p.end
		for _, part := range kana.Align(data[p.start:p.end], p.reading) {
			if part.Reading == "" {
				plain.WriteString(part.Text)
				continue
			}
			flush()
			nodes = append(nodes, r.ruby(part.Text, r.reading(part.Reading)))
			annotated = true
		}
	}
	plain.WriteString(data[pos:])
	flush()
	return nodes, annotated
}

func (r *Renderer) reading(s string) string {
	switch r.opts.Furigana {
	case Katakana:
		return kana.ToKatakana(s)
	case Romaji:
		return kana.ToRomaji(s)
	}
	return kana.ToHiragana(s)
}

// ruby builds <ruby class="furigana" data-furigana>base<rp>(</rp><rt>reading</rt><rp>)</rp></ruby>.
func (r *Renderer) ruby(base, reading string) *html.Node {
	class := ClassRuby
	if r.opts.Display == DisplayHover {
		class += " " + ClassHover
	}
	ruby := dom.Element("ruby", "class", class, MarkerAttr, "")
	ruby.AppendChild(dom.Text(base))

	open := dom.Element("rp")
	open.AppendChild(dom.Text("("))
	rt := dom.Element("rt")
	rt.AppendChild(dom.Text(reading))
	closing := dom.Element("rp")
	closing.AppendChild(dom.Text(")"))

	ruby.AppendChild(open)
	ruby.AppendChild(rt)
	ruby.AppendChild(closing)
	return ruby
}

// Undo reverts rec. Entries are processed in reverse. Each original node goes
// back in front of the first of its replacements still under the recorded
// parent, and the remaining replacements are removed. Registry entries for
// the record are dropped in every case.
func (r *Renderer) Undo(rec *Record) error {
	skipped := 0
	r.doc.Mutate(dom.OriginEngine, func(m *dom.Mutator) {
		for i := len(rec.Entries) - 1; i >= 0; i-- {
			e := rec.Entries[i]
			var anchor *html.Node
			for _, n := range e.Inserted {
				if n.Parent == e.Parent {
					anchor = n
					break
				}
			}
			if anchor == nil {
				skipped++
				continue
			}
			m.InsertBefore(e.Parent, e.Original, anchor)
			for _, n := range e.Inserted {
				if n.Parent == e.Parent {
					m.RemoveChild(n)
				}
			}
		}
	})
	r.Forget(rec)
	if skipped > 0 {
		return &UndoConflictError{SpanID: rec.SpanID, Skipped: skipped}
	}
	return nil
}

// Forget drops the registry entries held for rec without touching the page.
func (r *Renderer) Forget(rec *Record) {
	for _, e := range rec.Entries {
		r.reg.Forget(e.Original)
		for _, n := range e.Inserted {
			r.reg.ForgetTree(n)
		}
	}
	for _, n := range rec.Kept {
		r.reg.Forget(n)
	}
}
