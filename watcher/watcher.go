// Package watcher notices content the page adds or changes after the first
// scan and hands it back to the engine in debounced batches.
package watcher

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"furigana/dom"
)

// DefaultDebounce is roughly one animation frame.
const DefaultDebounce = 16 * time.Millisecond

// Scheduler runs fn once after delay on the goroutine that owns the page.
// The returned function cancels it if it has not run yet.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (cancel func())
}

// Batch is what accumulated during one debounce cycle.
type Batch struct {
	// Roots are attached subtrees to scan, with nested roots removed.
	Roots []*html.Node
	// Removed are nodes taken out of the page and still detached.
	Removed []*html.Node
	// Changed are text nodes whose data the page rewrote.
	Changed []*html.Node
}

func (b Batch) empty() bool {
	return len(b.Roots) == 0 && len(b.Removed) == 0 && len(b.Changed) == 0
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher observes one document on behalf of the engine.
type Watcher struct {
	doc     *dom.Document
	reg     *dom.Registry
	sched   Scheduler
	onFlush func(Batch)
	opts    Options
	log     *zap.Logger

	disconnect func()
	cancel     func()
	armed      bool

	roots   []*html.Node
	removed []*html.Node
	changed []*html.Node
}

// New returns a watcher for doc. onFlush runs on the scheduler's goroutine
// once per debounce cycle with a non-empty batch.
func New(doc *dom.Document, reg *dom.Registry, sched Scheduler, opts Options, onFlush func(Batch)) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		doc:     doc,
		reg:     reg,
		sched:   sched,
		onFlush: onFlush,
		opts:    opts,
		log:     log,
	}
}

// Connect starts observing. Calling it twice has no effect.
func (w *Watcher) Connect() {
	if w.disconnect != nil {
		return
	}
	w.disconnect = w.doc.Observe(w.observe)
}

// Disconnect stops observing and drops anything not yet flushed.
func (w *Watcher) Disconnect() {
	if w.disconnect != nil {
		w.disconnect()
		w.disconnect = nil
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.armed = false
	w.roots, w.removed, w.changed = nil, nil, nil
}

// Connected reports whether the watcher is observing.
func (w *Watcher) Connected() bool {
	return w.disconnect != nil
}

func (w *Watcher) observe(records []dom.Record) {
	queued := false
	for _, rec := range records {
		if rec.Origin == dom.OriginEngine {
			continue
		}
		if w.reg.Inserted(rec.Target) {
			continue
		}
		switch rec.Kind {
		case dom.ChildList:
			for _, n := range rec.Added {
				w.roots = append(w.roots, scanRoot(n))
			}
			w.removed = append(w.removed, rec.Removed...)
			queued = queued || len(rec.Added) > 0 || len(rec.Removed) > 0
		case dom.CharacterData:
			w.changed = append(w.changed, rec.Target)
			w.roots = append(w.roots, scanRoot(rec.Target))
			queued = true
		}
	}
	if queued {
		w.arm()
	}
}

// Enqueue adds root to the next flush as if the page had changed it.
func (w *Watcher) Enqueue(root *html.Node) {
	if w.disconnect == nil {
		return
	}
	w.roots = append(w.roots, root)
	w.arm()
}

// arm starts a debounce cycle unless one is running. Later records join the
// running cycle without pushing it back.
func (w *Watcher) arm() {
	if w.armed {
		return
	}
	w.armed = true
	w.cancel = w.sched.Schedule(w.opts.Debounce, w.flush)
}

// scanRoot widens a text node to its block so it is scanned together with
// the text around it.
func scanRoot(n *html.Node) *html.Node {
	if n.Type == html.TextNode {
		if b := dom.BlockOf(n); b != nil {
			return b
		}
	}
	return n
}

func (w *Watcher) flush() {
	w.armed = false
	w.cancel = nil
	roots, removed, changed := w.roots, w.removed, w.changed
	w.roots, w.removed, w.changed = nil, nil, nil

	batch := Batch{
		Roots:   w.coalesce(roots),
		Removed: w.detached(removed),
		Changed: w.attached(changed),
	}
	if batch.empty() {
		return
	}
	w.log.Debug("page mutations",
		zap.Int("roots", len(batch.Roots)),
		zap.Int("removed", len(batch.Removed)),
		zap.Int("changed", len(batch.Changed)))
	w.onFlush(batch)
}

// coalesce drops roots that are detached, inside engine markup, repeated,
// or below another root.
func (w *Watcher) coalesce(roots []*html.Node) []*html.Node {
	set := make(map[*html.Node]bool, len(roots))
	var uniq []*html.Node
	for _, n := range roots {
		if set[n] || !w.doc.Contains(n) || w.reg.Inserted(n) {
			continue
		}
		set[n] = true
		uniq = append(uniq, n)
	}
	out := uniq[:0]
	for _, n := range uniq {
		nested := false
		for a := n.Parent; a != nil; a = a.Parent {
			if set[a] {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, n)
		}
	}
	return out
}

func (w *Watcher) detached(nodes []*html.Node) []*html.Node {
	seen := make(map[*html.Node]bool, len(nodes))
	var out []*html.Node
	for _, n := range nodes {
		if seen[n] || w.doc.Contains(n) {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func (w *Watcher) attached(nodes []*html.Node) []*html.Node {
	seen := make(map[*html.Node]bool, len(nodes))
	var out []*html.Node
	for _, n := range nodes {
		if seen[n] || !w.doc.Contains(n) {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
