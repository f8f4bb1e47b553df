package dom

import "golang.org/x/net/html"

// MutationRecord describes one child-list change under Target.
type MutationRecord struct {
	Target  *html.Node
	Added   []*html.Node
	Removed []*html.Node
}

// Scheduler runs delivery callbacks later, never inline. The monitoring loop implements it.
type Scheduler interface {
	Post(fn func()) bool
}

// Observer receives batched child-list records for a subtree.
type Observer struct {
	doc       *Document
	target    *html.Node
	sched     Scheduler
	fn        func([]MutationRecord)
	pending   []MutationRecord
	scheduled bool
	connected bool
}

// Observe watches target and its whole subtree for child insertions and removals.
// Records are queued and delivered in batches through sched, in the order the
// mutations were applied.
func (d *Document) Observe(target *html.Node, sched Scheduler, fn func([]MutationRecord)) *Observer {
	o := &Observer{doc: d, target: target, sched: sched, fn: fn, connected: true}
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
	return o
}

// Target returns the observed node.
func (o *Observer) Target() *html.Node { return o.target }

// Disconnect stops delivery and discards queued records. Safe to call twice.
func (o *Observer) Disconnect() {
	d := o.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if !o.connected {
		return
	}
	o.connected = false
	o.pending = nil
	for i, x := range d.observers {
		if x == o {
			d.observers = append(d.observers[:i], d.observers[i+1:]...)
			break
		}
	}
}

// record queues rec for every observer whose target contains rec.Target. Caller holds mu.
func (d *Document) record(rec MutationRecord) {
	for _, o := range d.observers {
		if !Contains(o.target, rec.Target) {
			continue
		}
		o.pending = append(o.pending, rec)
		if !o.scheduled {
			o.scheduled = true
			if !o.sched.Post(o.flush) {
				o.scheduled = false
				o.pending = nil
			}
		}
	}
}

func (o *Observer) flush() {
	d := o.doc
	d.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.scheduled = false
	connected := o.connected
	d.mu.Unlock()
	if connected && len(batch) > 0 {
		o.fn(batch)
	}
}
