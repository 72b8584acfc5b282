package engine

import (
	"golang.org/x/net/html"

	"furigana/extract"
	"furigana/tokenizer"
)

// pending is a span waiting for, or holding, its tokenizer result.
type pending struct {
	span     *extract.Span
	resolved bool
	tokens   []tokenizer.Token
	err      error
}

// queue orders results per block. Spans of one block are applied in
// extraction order however their results arrive; blocks do not wait for
// each other.
type queue struct {
	lanes map[*html.Node][]*pending
	byID  map[uint64]*pending
	owner map[*html.Node]uint64
}

func newQueue() *queue {
	return &queue{
		lanes: make(map[*html.Node][]*pending),
		byID:  make(map[uint64]*pending),
		owner: make(map[*html.Node]uint64),
	}
}

// push appends span to its block's lane. Spans must be pushed in ID order.
func (q *queue) push(span *extract.Span) {
	p := &pending{span: span}
	q.lanes[span.Block] = append(q.lanes[span.Block], p)
	q.byID[span.ID] = p
	for _, seg := range span.Segments {
		q.owner[seg.Node] = span.ID
	}
}

// resolve stores the result for id and returns the entries at the head of
// its lane that are now ready, removing them from the queue.
func (q *queue) resolve(id uint64, tokens []tokenizer.Token, err error) []*pending {
	p, ok := q.byID[id]
	if !ok || p.resolved {
		return nil
	}
	p.resolved, p.tokens, p.err = true, tokens, err

	block := p.span.Block
	lane := q.lanes[block]
	n := 0
	for n < len(lane) && lane[n].resolved {
		n++
	}
	ready := lane[:n:n]
	if n == len(lane) {
		delete(q.lanes, block)
	} else {
		q.lanes[block] = lane[n:]
	}
	for _, r := range ready {
		delete(q.byID, r.span.ID)
		for _, seg := range r.span.Segments {
			if q.owner[seg.Node] == r.span.ID {
				delete(q.owner, seg.Node)
			}
		}
	}
	return ready
}

// owns reports whether n belongs to a span still in the queue.
func (q *queue) owns(n *html.Node) bool {
	_, ok := q.owner[n]
	return ok
}

func (q *queue) len() int {
	return len(q.byID)
}
