// Package engine drives furigana annotation of one page: it scans the page,
// sends text to the tokenizer, applies results in order, follows later page
// changes and reverts everything on deactivation.
//
// All page access happens on the engine's loop goroutine. Tokenizer calls run
// elsewhere and post their results back to the loop.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"furigana/dom"
	"furigana/extract"
	"furigana/render"
	"furigana/rules"
	"furigana/tokenizer"
	"furigana/watcher"
)

// State is where the engine is in its lifecycle.
type State int32

const (
	Inactive State = iota
	Scanning
	Annotated
	Rescanning
	Unwinding
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Annotated:
		return "annotated"
	case Rescanning:
		return "rescanning"
	case Unwinding:
		return "unwinding"
	}
	return "inactive"
}

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("engine closed")

// Tokenizer is the part of tokenizer.Client the engine uses.
type Tokenizer interface {
	Tokenize(ctx context.Context, spans []tokenizer.Input) <-chan tokenizer.Result
}

// Options configures an Engine.
type Options struct {
	Rules    *rules.Set
	Render   render.Options
	Debounce time.Duration
	// NewTokenizer returns the tokenizer for one activation. contextID is
	// the activation's id.
	NewTokenizer func(contextID string) Tokenizer
	Logger       *zap.Logger
}

// EventKind names a control event.
type EventKind int

const (
	EventActivate EventKind = iota
	EventDeactivate
	EventRulesUpdated
)

// Event is a control message from the host.
type Event struct {
	Kind  EventKind
	Rules *rules.Set // for EventRulesUpdated
}

// Engine annotates one document.
type Engine struct {
	doc   *dom.Document
	opts  Options
	log   *zap.Logger
	state atomic.Int32
	busy  *tracker

	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}

	// Owned by the loop.
	rules *rules.Set
	sess  *session
}

// session is everything that belongs to one activation. Dropping it drops
// all engine state about the page.
type session struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	rules     *rules.Set
	reg       *dom.Registry
	extractor *extract.Extractor
	renderer  *render.Renderer
	watcher   *watcher.Watcher
	tok       Tokenizer
	queue     *queue
	records   []*render.Record
	log       *zap.Logger
}

// New starts an engine for doc. The engine is inactive until Activate.
func New(doc *dom.Document, opts Options) *Engine {
	if opts.Rules == nil {
		opts.Rules = rules.Default()
	}
	if opts.Render == (render.Options{}) {
		opts.Render = render.DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewTokenizer == nil {
		opts.NewTokenizer = func(id string) Tokenizer {
			return tokenizer.NewClient(tokenizer.Options{ContextID: id, Logger: opts.Logger})
		}
	}
	e := &Engine{
		doc:    doc,
		opts:   opts,
		log:    opts.Logger,
		busy:   newTracker(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		rules:  opts.Rules,
	}
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.exited)
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}
		for {
			fn := e.next()
			if fn == nil {
				break
			}
			fn()
			e.busy.done()
		}
	}
}

func (e *Engine) next() func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tasks) == 0 || e.closed {
		return nil
	}
	fn := e.tasks[0]
	e.tasks[0] = nil
	e.tasks = e.tasks[1:]
	return fn
}

// post queues fn to run on the loop. It never blocks.
func (e *Engine) post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.busy.add()
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the loop and waits for it.
func (e *Engine) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !e.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.exited:
		return ErrClosed
	}
}

// Schedule implements watcher.Scheduler: fn runs on the loop after delay.
func (e *Engine) Schedule(delay time.Duration, fn func()) (cancel func()) {
	e.busy.add()
	var once sync.Once
	release := func() { once.Do(e.busy.done) }
	t := time.AfterFunc(delay, func() {
		e.post(fn)
		release()
	})
	return func() {
		if t.Stop() {
			release()
		}
	}
}

// Activate scans the page and starts annotating it. Activating an active
// engine does nothing.
func (e *Engine) Activate(ctx context.Context) error {
	return e.call(ctx, e.activate)
}

// Deactivate cancels outstanding work and restores the page.
func (e *Engine) Deactivate(ctx context.Context) error {
	return e.call(ctx, e.deactivate)
}

// RulesUpdated swaps the rule set. An active engine reverts its annotations
// and scans again from scratch under the new rules.
func (e *Engine) RulesUpdated(ctx context.Context, set *rules.Set) error {
	return e.call(ctx, func() { e.rulesUpdated(set) })
}

// Handle dispatches a control event.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventActivate:
		return e.Activate(ctx)
	case EventDeactivate:
		return e.Deactivate(ctx)
	case EventRulesUpdated:
		if ev.Rules == nil {
			return errors.New("rules-updated event without rules")
		}
		return e.RulesUpdated(ctx, ev.Rules)
	}
	return errors.New("unknown event")
}

// Do runs fn on the loop with the document, the way page scripts run on the
// page's thread. Changes fn makes must go through doc.Mutate, and fn must
// not call back into the engine.
func (e *Engine) Do(ctx context.Context, fn func(doc *dom.Document)) error {
	return e.call(ctx, func() { fn(e.doc) })
}

// Idle waits until no tokenizer calls, debounce timers or loop tasks are
// outstanding.
func (e *Engine) Idle(ctx context.Context) error {
	select {
	case <-e.busy.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Records returns the annotation records currently applied, in application
// order.
func (e *Engine) Records(ctx context.Context) ([]*render.Record, error) {
	var out []*render.Record
	err := e.call(ctx, func() {
		if e.sess != nil {
			out = append(out, e.sess.records...)
		}
	})
	return out, err
}

// Close deactivates the engine and stops its loop.
func (e *Engine) Close() error {
	err := e.call(context.Background(), e.deactivate)

	e.mu.Lock()
	if !e.closed {
		e.closed = true
		for range e.tasks {
			e.busy.done()
		}
		e.tasks = nil
		close(e.done)
	}
	e.mu.Unlock()
	<-e.exited
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		e.log.Debug("engine state", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

func (e *Engine) activate() {
	if e.sess != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	reg := dom.NewRegistry()
	s := &session{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		rules:     e.rules,
		reg:       reg,
		extractor: extract.New(e.rules, reg),
		renderer:  render.New(e.doc, reg, e.opts.Render),
		tok:       e.opts.NewTokenizer(id),
		queue:     newQueue(),
		log:       e.log.With(zap.String("context", id)),
	}
	s.watcher = watcher.New(e.doc, reg, e, watcher.Options{
		Debounce: e.opts.Debounce,
		Logger:   s.log,
	}, func(b watcher.Batch) { e.onMutations(s, b) })
	e.sess = s

	e.setState(Scanning)
	s.log.Debug("activating", zap.String("rules", s.rules.Source()))
	s.renderer.InstallStyle()
	s.watcher.Connect()
	e.scan(s, e.doc.Root())
	e.settle(s)
}

func (e *Engine) deactivate() {
	s := e.sess
	if s == nil {
		return
	}
	e.setState(Unwinding)
	s.cancel()
	s.watcher.Disconnect()
	for i := len(s.records) - 1; i >= 0; i-- {
		if err := s.renderer.Undo(s.records[i]); err != nil {
			s.log.Warn("undo incomplete", zap.Error(err))
		}
	}
	s.records = nil
	s.renderer.RemoveStyle()
	e.sess = nil
	s.log.Debug("deactivated")
	e.setState(Inactive)
}

func (e *Engine) rulesUpdated(set *rules.Set) {
	e.rules = set
	if e.sess == nil {
		return
	}
	e.log.Info("rules updated, rescanning", zap.String("rules", set.Source()))
	e.deactivate()
	e.activate()
}

// scan extracts spans under root and sends them to the tokenizer.
func (e *Engine) scan(s *session, root *html.Node) {
	spans := s.extractor.Extract(root)
	if len(spans) == 0 {
		return
	}
	inputs := make([]tokenizer.Input, len(spans))
	for i, span := range spans {
		s.queue.push(span)
		inputs[i] = tokenizer.Input{ID: span.ID, Text: span.Text}
	}
	s.log.Debug("scanned", zap.Int("spans", len(spans)))

	e.busy.add()
	results := s.tok.Tokenize(s.ctx, inputs)
	go func() {
		defer e.busy.done()
		for r := range results {
			r := r
			e.post(func() { e.resolve(s, r) })
		}
	}()
}

// resolve handles one tokenizer result on the loop.
func (e *Engine) resolve(s *session, r tokenizer.Result) {
	if e.sess != s || s.ctx.Err() != nil {
		return
	}
	for _, p := range s.queue.resolve(r.SpanID, r.Tokens, r.Err) {
		e.apply(s, p)
	}
	e.settle(s)
}

func (e *Engine) apply(s *session, p *pending) {
	span := p.span
	if p.err != nil {
		s.log.Warn("tokenize failed, span skipped", zap.Uint64("span", span.ID), zap.Error(p.err))
		e.unmark(s, span)
		return
	}
	rec, err := s.renderer.Apply(span, p.tokens)
	switch {
	case errors.Is(err, render.ErrStaleTarget):
		s.log.Warn("span changed before apply, rescanning", zap.Uint64("span", span.ID))
		e.unmark(s, span)
		s.watcher.Enqueue(span.Block)
	case err != nil:
		s.log.Warn("apply failed, span skipped", zap.Uint64("span", span.ID), zap.Error(err))
		e.unmark(s, span)
	default:
		s.records = append(s.records, rec)
	}
}

// unmark releases a span's nodes so a later scan can pick them up again.
func (e *Engine) unmark(s *session, span *extract.Span) {
	for _, n := range span.Nodes() {
		if st, ok := s.reg.Status(n); ok && st == dom.Pending && !s.queue.owns(n) {
			s.reg.Forget(n)
		}
	}
}

// onMutations handles one debounced batch of page changes.
func (e *Engine) onMutations(s *session, b watcher.Batch) {
	if e.sess != s || s.ctx.Err() != nil {
		return
	}
	// Records outlive removal: the page may attach the subtree again, and
	// Undo reverts detached subtrees as well.
	for _, n := range b.Removed {
		s.reg.ForgetPending(n)
	}
	for _, n := range b.Changed {
		// Nodes of queued spans are caught as stale when their result lands.
		if !s.queue.owns(n) {
			s.reg.Forget(n)
		}
	}
	if len(b.Roots) == 0 {
		return
	}
	if e.State() == Annotated {
		e.setState(Rescanning)
	}
	for _, root := range b.Roots {
		e.scan(s, root)
	}
	e.settle(s)
}

// settle moves to Annotated once nothing is waiting for the tokenizer.
func (e *Engine) settle(s *session) {
	if s.queue.len() > 0 {
		return
	}
	if st := e.State(); st == Scanning || st == Rescanning {
		e.setState(Annotated)
	}
}

// tracker counts outstanding work and signals when the count drops to zero.
type tracker struct {
	mu sync.Mutex
	n  int
	ch chan struct{} // closed while n == 0
}

func newTracker() *tracker {
	ch := make(chan struct{})
	close(ch)
	return &tracker{ch: ch}
}

func (t *tracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.ch = make(chan struct{})
	}
	t.n++
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.ch)
	}
}

func (t *tracker) idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}
