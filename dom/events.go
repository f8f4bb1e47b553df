package dom

import "golang.org/x/net/html"

// Event is a synthetic DOM event. Field names follow the browser's event init dictionaries.
type Event struct {
	Type       string `json:"type"`
	Key        string `json:"key,omitempty"`
	Code       string `json:"code,omitempty"`
	KeyCode    int    `json:"keyCode,omitempty"`
	Data       string `json:"data,omitempty"`
	Bubbles    bool   `json:"bubbles,omitempty"`
	Cancelable bool   `json:"cancelable,omitempty"`
}

// Dispatcher forwards events dispatched on the mirror to the real page.
type Dispatcher interface {
	DispatchEvent(targetID string, ev Event)
}

// AddDispatcher registers a forwarder for every subsequently dispatched event.
func (d *Document) AddDispatcher(x Dispatcher) {
	d.lmu.Lock()
	d.dispatchers = append(d.dispatchers, x)
	d.lmu.Unlock()
}

// AddEventListener registers fn for events of type typ reaching n.
func (d *Document) AddEventListener(n *html.Node, typ string, fn func(Event)) {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	m := d.listeners[n]
	if m == nil {
		m = make(map[string][]func(Event))
		d.listeners[n] = m
	}
	m[typ] = append(m[typ], fn)
}

// Dispatch delivers ev to listeners on target (and its ancestors when ev.Bubbles),
// then forwards it to every Dispatcher.
func (d *Document) Dispatch(target *html.Node, ev Event) {
	var path []*html.Node
	d.mu.RLock()
	id := Attr(target, IDAttr)
	for n := target; n != nil; n = n.Parent {
		path = append(path, n)
		if !ev.Bubbles {
			break
		}
	}
	d.mu.RUnlock()

	d.lmu.Lock()
	var fns []func(Event)
	for _, n := range path {
		fns = append(fns, d.listeners[n][ev.Type]...)
	}
	out := make([]Dispatcher, len(d.dispatchers))
	copy(out, d.dispatchers)
	d.lmu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	for _, x := range out {
		x.DispatchEvent(id, ev)
	}
}

// Focus makes n the active element and dispatches a focus event on it.
func (d *Document) Focus(n *html.Node) {
	d.mu.Lock()
	d.active = n
	d.mu.Unlock()
	d.Dispatch(n, Event{Type: "focus"})
}

// ActiveElement returns the focused node, or nil.
func (d *Document) ActiveElement() *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}

// InsertText inserts text into the focused element, mirroring the page's insertText
// editing command. It reports false when nothing has focus.
func (d *Document) InsertText(text string) bool {
	n := d.ActiveElement()
	if n == nil {
		return false
	}
	d.AppendChild(n, &html.Node{Type: html.TextNode, Data: text})
	d.Dispatch(n, Event{Type: "insertText", Data: text, Bubbles: true})
	return true
}

// Click dispatches a bubbling click on n.
func (d *Document) Click(n *html.Node) {
	d.Dispatch(n, Event{Type: "click", Bubbles: true, Cancelable: true})
}
