package chat

import (
	"log/slog"
	"time"

	"golang.org/x/net/html"

	"github.com/onnwee/kick-chat-monitor/dom"
	"github.com/onnwee/kick-chat-monitor/loop"
	"github.com/onnwee/kick-chat-monitor/telemetry"
	"github.com/onnwee/kick-chat-monitor/triggers"
)

// DefaultHealthInterval is how often the container is re-resolved.
const DefaultHealthInterval = 5 * time.Second

// Selectors locate the parts of the host page the observer and normalizer rely on.
type Selectors struct {
	// Container is tried in order; the document body is the last resort.
	Container []string
	Entry     string
	// Author is tried in order inside an entry.
	Author    []string
	EmoteAttr string
}

// DefaultSelectors match the Kick chat renderer.
func DefaultSelectors() Selectors {
	return Selectors{
		Container: []string{"#chat-chatroom .flex.flex-col.overflow-y-auto", ".chat-container"},
		Entry:     ".break-words",
		Author:    []string{"button.font-bold", ".chat-entry-username"},
		EmoteAttr: "data-emote-name",
	}
}

// Sink receives normalized messages. The matching engine implements it.
type Sink interface {
	Process(author, text string)
}

// Observer watches the chat container for new entries and survives container swaps.
// All methods must run on the loop.
type Observer struct {
	doc   *dom.Document
	loop  *loop.Loop
	state *triggers.State
	sink  Sink
	sel   Selectors

	interval  time.Duration
	watcher   *dom.Observer
	container *html.Node
	level     string
}

// Options tune an Observer. Zero values take defaults.
type Options struct {
	Selectors      Selectors
	HealthInterval time.Duration
}

// NewObserver builds an observer and subscribes it to global enable/disable transitions.
func NewObserver(doc *dom.Document, l *loop.Loop, state *triggers.State, sink Sink, opts Options) *Observer {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.Selectors.Entry == "" {
		opts.Selectors = DefaultSelectors()
	}
	o := &Observer{doc: doc, loop: l, state: state, sink: sink, sel: opts.Selectors, interval: opts.HealthInterval}
	state.OnEnabledChange(func(enabled bool) {
		l.Post(func() {
			if enabled {
				o.Start()
			} else {
				o.Stop()
			}
		})
	})
	return o
}

// Run starts the periodic reconciliation task. It is independent of the watcher and
// runs for the life of the loop; the returned function stops it.
func (o *Observer) Run() (stop func()) {
	return o.loop.Every(o.interval, o.CheckHealth)
}

// Start attaches to the current chat container, replacing any previous watcher.
func (o *Observer) Start() {
	if !o.state.Enabled() {
		return
	}
	if o.watcher != nil {
		o.watcher.Disconnect()
	}
	container, level := o.resolve()
	o.container = container
	o.level = level
	o.watcher = o.doc.Observe(container, o.loop, o.handle)
	telemetry.ObserverAttaches.WithLabelValues(level).Inc()
	telemetry.ObserverRunning.Set(1)
	slog.Info("chat observer attached", slog.String("root", level), slog.String("component", "chat_observer"))
}

// Stop detaches the watcher. Safe when not running.
func (o *Observer) Stop() {
	if o.watcher == nil {
		return
	}
	o.watcher.Disconnect()
	o.watcher = nil
	o.container = nil
	o.level = ""
	telemetry.ObserverRunning.Set(0)
	slog.Info("chat observer stopped", slog.String("component", "chat_observer"))
}

// Running reports whether a watcher is attached.
func (o *Observer) Running() bool { return o.watcher != nil }

// Level reports which fallback level the watcher is attached at: primary, secondary or body.
func (o *Observer) Level() string { return o.level }

// CheckHealth re-resolves the primary container and re-attaches when the page has
// swapped it out from under the watcher.
func (o *Observer) CheckHealth() {
	if !o.state.Enabled() || len(o.sel.Container) == 0 {
		return
	}
	current := o.doc.QuerySelector(o.sel.Container[0])
	if current != nil && (o.watcher == nil || current != o.container) {
		telemetry.ObserverReattaches.Inc()
		slog.Debug("chat container changed; re-attaching", slog.String("component", "chat_observer"))
		o.Start()
	}
}

func (o *Observer) resolve() (*html.Node, string) {
	levels := []string{"primary", "secondary"}
	for i, s := range o.sel.Container {
		if n := o.doc.QuerySelector(s); n != nil {
			level := "fallback"
			if i < len(levels) {
				level = levels[i]
			}
			return n, level
		}
	}
	return o.doc.Body(), "body"
}

func (o *Observer) handle(records []dom.MutationRecord) {
	if !o.state.Enabled() {
		return
	}
	var msgs []Message
	o.doc.Read(func() {
		for _, rec := range records {
			for _, n := range rec.Added {
				if n.Type != html.ElementNode {
					continue
				}
				entry := FindEntry(n, o.sel)
				if entry == nil {
					continue
				}
				if m := Normalize(entry, o.sel); m.Text != "" {
					msgs = append(msgs, m)
				}
			}
		}
	})
	for _, m := range msgs {
		telemetry.MessagesObserved.Inc()
		o.sink.Process(m.Author, m.Text)
	}
}
