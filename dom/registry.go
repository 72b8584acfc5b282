package dom

import "golang.org/x/net/html"

// Status is what the engine knows about a node.
type Status uint8

const (
	// Pending marks a text node taken into a span that has not been applied yet.
	Pending Status = iota + 1
	// Inserted marks a node the engine created and attached.
	Inserted
	// Settled marks a text node from an applied span that was left as is.
	Settled
)

// Registry is the identity-keyed set of nodes the engine has scanned or
// inserted. Entries are removed explicitly; holding an entry says nothing
// about whether the node is still attached.
type Registry struct {
	nodes map[*html.Node]Status
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[*html.Node]Status)}
}

// Mark records status s for n.
func (r *Registry) Mark(n *html.Node, s Status) {
	r.nodes[n] = s
}

// MarkTree records status s for n and everything below it.
func (r *Registry) MarkTree(n *html.Node, s Status) {
	Walk(n, func(c *html.Node) bool {
		r.nodes[c] = s
		return true
	})
}

// Status returns the recorded status of n.
func (r *Registry) Status(n *html.Node) (Status, bool) {
	s, ok := r.nodes[n]
	return s, ok
}

// Has reports whether n has any entry.
func (r *Registry) Has(n *html.Node) bool {
	_, ok := r.nodes[n]
	return ok
}

// Inserted reports whether n, or one of its ancestors, was inserted by the
// engine.
func (r *Registry) Inserted(n *html.Node) bool {
	for a := n; a != nil; a = a.Parent {
		if r.nodes[a] == Inserted {
			return true
		}
	}
	return false
}

// Forget drops the entry for n.
func (r *Registry) Forget(n *html.Node) {
	delete(r.nodes, n)
}

// ForgetTree drops the entries for n and everything below it.
func (r *Registry) ForgetTree(n *html.Node) {
	Walk(n, func(c *html.Node) bool {
		delete(r.nodes, c)
		return true
	})
}

// ForgetPending drops the Pending entries for n and everything below it.
// Inserted and Settled entries stay so the subtree is recognised if the page
// attaches it again.
func (r *Registry) ForgetPending(n *html.Node) {
	Walk(n, func(c *html.Node) bool {
		if r.nodes[c] == Pending {
			delete(r.nodes, c)
		}
		return true
	})
}

// Len returns the number of tracked nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}
