// Package dom wraps an x/net/html tree as a live page: every change to the
// tree goes through Mutate, which tags it with its origin and reports it to
// observers as mutation records.
package dom

import (
	"bytes"
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Origin says who made a change.
type Origin int

const (
	// OriginPage marks changes made by the page itself (scripts, user edits).
	OriginPage Origin = iota
	// OriginEngine marks changes made by the annotation engine.
	OriginEngine
)

func (o Origin) String() string {
	if o == OriginEngine {
		return "engine"
	}
	return "page"
}

// RecordKind identifies the kind of change a Record describes.
type RecordKind int

const (
	// ChildList records nodes added to or removed from Target.
	ChildList RecordKind = iota
	// CharacterData records a change to the text of Target.
	CharacterData
)

// Record describes a single change to the tree.
type Record struct {
	Kind     RecordKind
	Origin   Origin
	Target   *html.Node // parent for ChildList, the text node for CharacterData
	Added    []*html.Node
	Removed  []*html.Node
	OldValue string
}

// Observer receives the records produced by one Mutate call.
type Observer func(records []Record)

// Document is a parsed page plus the observers watching it.
type Document struct {
	root      *html.Node
	observers []observer // in registration order
	nextID    int
}

type observer struct {
	id int
	fn Observer
}

// New wraps an existing tree. root is normally an html.DocumentNode.
func New(root *html.Node) *Document {
	return &Document{root: root}
}

// Parse reads and parses an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return New(root), nil
}

// ParseString parses HTML from a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.root
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node {
	return FindElement(d.root, "head")
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node {
	return FindElement(d.root, "body")
}

// Contains reports whether n is attached to this document.
func (d *Document) Contains(n *html.Node) bool {
	for n != nil {
		if n == d.root {
			return true
		}
		n = n.Parent
	}
	return false
}

// Observe registers fn for every future batch of records. Observers are
// called in registration order. The returned function removes fn again.
func (d *Document) Observe(fn Observer) (disconnect func()) {
	id := d.nextID
	d.nextID++
	d.observers = append(d.observers, observer{id: id, fn: fn})
	return func() {
		d.observers = slices.DeleteFunc(d.observers, func(o observer) bool { return o.id == id })
	}
}

// Mutate runs fn with a Mutator tagged with origin. The records gathered
// while fn runs are delivered to observers together once fn returns.
func (d *Document) Mutate(origin Origin, fn func(m *Mutator)) {
	m := &Mutator{origin: origin}
	fn(m)
	if len(m.records) == 0 {
		return
	}
	// Observers may disconnect while being notified.
	for _, obs := range slices.Clone(d.observers) {
		obs.fn(m.records)
	}
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document to a string.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return ""
	}
	return buf.String()
}

// Mutator performs changes on behalf of one origin. Use it only inside the
// Mutate callback that produced it.
type Mutator struct {
	origin  Origin
	records []Record
}

// InsertBefore inserts n as a child of parent before ref (append when ref is
// nil). A node that already has a parent is moved.
func (m *Mutator) InsertBefore(parent, n, ref *html.Node) {
	if n.Parent != nil {
		m.RemoveChild(n)
	}
	parent.InsertBefore(n, ref)
	m.records = append(m.records, Record{
		Kind:   ChildList,
		Origin: m.origin,
		Target: parent,
		Added:  []*html.Node{n},
	})
}

// AppendChild appends n to parent.
func (m *Mutator) AppendChild(parent, n *html.Node) {
	m.InsertBefore(parent, n, nil)
}

// RemoveChild detaches n from its parent. Detached nodes are ignored.
func (m *Mutator) RemoveChild(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	parent.RemoveChild(n)
	m.records = append(m.records, Record{
		Kind:    ChildList,
		Origin:  m.origin,
		Target:  parent,
		Removed: []*html.Node{n},
	})
}

// ReplaceChild puts nodes where old was and detaches old.
func (m *Mutator) ReplaceChild(old *html.Node, nodes ...*html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	for _, n := range nodes {
		m.InsertBefore(parent, n, old)
	}
	m.RemoveChild(old)
}

// SetText replaces the character data of a text node.
func (m *Mutator) SetText(n *html.Node, data string) {
	if n.Data == data {
		return
	}
	old := n.Data
	n.Data = data
	m.records = append(m.records, Record{
		Kind:     CharacterData,
		Origin:   m.origin,
		Target:   n,
		OldValue: old,
	})
}
