// Package dom keeps a live mirror of the host chat page.
//
// The page bridge applies the page's own insertions, removals and replacements to a
// Document; the chat observer watches it the way a MutationObserver watches the real
// page, and the action executor dispatches events on it that are forwarded back to the
// page. Nodes are golang.org/x/net/html nodes; selectors are resolved with cascadia.
package dom

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// IDAttr is the attribute the page shim stamps on every element so both sides can
// address the same node.
const IDAttr = "data-kcm-id"

// ErrNodeNotFound is returned when a frame addresses a node id that is not in the document.
var ErrNodeNotFound = errors.New("node not found")

// Document is a mutable HTML tree with mutation observers and event listeners.
// All methods are safe for concurrent use.
type Document struct {
	mu        sync.RWMutex
	root      *html.Node
	body      *html.Node
	index     map[string]*html.Node
	observers []*Observer
	active    *html.Node

	lmu         sync.Mutex
	listeners   map[*html.Node]map[string][]func(Event)
	dispatchers []Dispatcher
}

// NewDocument returns an empty document with html, head and body elements.
func NewDocument() *Document {
	d := &Document{
		index:     make(map[string]*html.Node),
		listeners: make(map[*html.Node]map[string][]func(Event)),
	}
	d.root, _ = html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
	d.body = findBody(d.root)
	return d
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// Body returns the body element. Its identity never changes.
func (d *Document) Body() *html.Node { return d.body }

// Read runs fn with the tree locked against mutation. fn must not call mutating methods.
func (d *Document) Read(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn()
}

// QuerySelector returns the first element in the document matching sel.
func (d *Document) QuerySelector(sel string) *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return QueryFirst(d.root, sel)
}

// NodeByID returns the element carrying IDAttr=id.
func (d *Document) NodeByID(id string) (*html.Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.index[id]
	return n, ok
}

// Load replaces the body contents with the body of markup without producing mutation
// records; it represents the page as it already was when the bridge connected.
func (d *Document) Load(markup string) error {
	parsed, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	src := findBody(parsed)
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := d.body.FirstChild; c != nil; {
		next := c.NextSibling
		d.body.RemoveChild(c)
		d.unindex(c)
		c = next
	}
	d.active = nil
	if src == nil {
		return nil
	}
	d.body.Attr = src.Attr
	for c := src.FirstChild; c != nil; {
		next := c.NextSibling
		src.RemoveChild(c)
		d.body.AppendChild(c)
		d.reindex(c)
		c = next
	}
	return nil
}

// Parse builds detached nodes from an HTML fragment in a body context.
func Parse(markup string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

// MustParse is Parse for fixed markup; it panics on error.
func MustParse(markup string) []*html.Node {
	nodes, err := Parse(markup)
	if err != nil {
		panic(err)
	}
	return nodes
}

// AppendChild appends the nodes to parent and records one mutation.
func (d *Document) AppendChild(parent *html.Node, nodes ...*html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range nodes {
		if n.Parent != nil {
			d.detach(n)
		}
		parent.AppendChild(n)
		d.reindex(n)
	}
	d.record(MutationRecord{Target: parent, Added: nodes})
}

// InsertBefore inserts the nodes before ref, a child of parent. A nil ref appends.
func (d *Document) InsertBefore(parent, ref *html.Node, nodes ...*html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range nodes {
		if n.Parent != nil {
			d.detach(n)
		}
		if ref != nil && ref.Parent == parent {
			parent.InsertBefore(n, ref)
		} else {
			parent.AppendChild(n)
		}
		d.reindex(n)
	}
	d.record(MutationRecord{Target: parent, Added: nodes})
}

// RemoveChild detaches n from its parent. Removing a detached node is a no-op.
func (d *Document) RemoveChild(n *html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent := n.Parent
	if parent == nil {
		return
	}
	d.detach(n)
	d.record(MutationRecord{Target: parent, Removed: []*html.Node{n}})
}

// Replace swaps old for the given nodes in one mutation.
func (d *Document) Replace(old *html.Node, nodes ...*html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent := old.Parent
	if parent == nil {
		return
	}
	for _, n := range nodes {
		if n.Parent != nil {
			d.detach(n)
		}
		parent.InsertBefore(n, old)
		d.reindex(n)
	}
	d.detach(old)
	d.record(MutationRecord{Target: parent, Added: nodes, Removed: []*html.Node{old}})
}

// AppendHTML parses markup and appends it to the element with the given id. An empty
// id addresses the body.
func (d *Document) AppendHTML(parentID, markup string) ([]*html.Node, error) {
	parent, err := d.resolve(parentID)
	if err != nil {
		return nil, err
	}
	nodes, err := Parse(markup)
	if err != nil {
		return nil, err
	}
	d.AppendChild(parent, nodes...)
	return nodes, nil
}

// InsertHTML parses markup and inserts it before the element beforeID inside parentID.
func (d *Document) InsertHTML(parentID, beforeID, markup string) ([]*html.Node, error) {
	parent, err := d.resolve(parentID)
	if err != nil {
		return nil, err
	}
	var ref *html.Node
	if beforeID != "" {
		if ref, err = d.resolve(beforeID); err != nil {
			return nil, err
		}
	}
	nodes, err := Parse(markup)
	if err != nil {
		return nil, err
	}
	d.InsertBefore(parent, ref, nodes...)
	return nodes, nil
}

// ReplaceHTML replaces the element id with the parsed markup.
func (d *Document) ReplaceHTML(id, markup string) ([]*html.Node, error) {
	old, err := d.resolve(id)
	if err != nil {
		return nil, err
	}
	nodes, err := Parse(markup)
	if err != nil {
		return nil, err
	}
	d.Replace(old, nodes...)
	return nodes, nil
}

// RemoveID removes the element id.
func (d *Document) RemoveID(id string) error {
	n, err := d.resolve(id)
	if err != nil {
		return err
	}
	d.RemoveChild(n)
	return nil
}

func (d *Document) resolve(id string) (*html.Node, error) {
	if id == "" {
		return d.body, nil
	}
	n, ok := d.NodeByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// detach removes n from the tree and the id index. Caller holds mu.
func (d *Document) detach(n *html.Node) {
	n.Parent.RemoveChild(n)
	d.unindex(n)
	if d.active != nil && Contains(n, d.active) {
		d.active = nil
	}
}

func (d *Document) reindex(n *html.Node) {
	walkElements(n, func(e *html.Node) {
		if id := Attr(e, IDAttr); id != "" {
			d.index[id] = e
		}
	})
}

func (d *Document) unindex(n *html.Node) {
	walkElements(n, func(e *html.Node) {
		if id := Attr(e, IDAttr); id != "" && d.index[id] == e {
			delete(d.index, id)
		}
	})
}

func walkElements(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkElements(c, fn)
	}
}
