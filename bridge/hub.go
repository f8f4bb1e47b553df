// Package bridge is the WebSocket link between the monitored chat page and the service.
//
// The page shim streams its DOM as frames (a snapshot, then every child-list change) which
// the Hub applies to the mirrored document. In the other direction the Hub forwards events
// dispatched on the mirror, tones to play and notifications to show.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/kick-chat-monitor/dom"
	"github.com/onnwee/kick-chat-monitor/relay"
	"github.com/onnwee/kick-chat-monitor/telemetry"
)

const (
	defaultPingInterval = 30 * time.Second
	readTimeout         = 60 * time.Second
	writeTimeout        = 10 * time.Second
	maxFrameBytes       = 8 << 20
	sendQueueSize       = 64
)

var (
	// ErrNoClients is returned when a command needs a connected page and none is.
	ErrNoClients = errors.New("no page connected")
	// ErrSlowClient is returned when a page's send queue is full; the page is dropped.
	ErrSlowClient = errors.New("page send queue full")
)

// Frame is an inbound DOM change from the page.
type Frame struct {
	Op     string `json:"op"`
	Parent string `json:"parent,omitempty"`
	Before string `json:"before,omitempty"`
	ID     string `json:"id,omitempty"`
	HTML   string `json:"html,omitempty"`
}

type outFrame struct {
	Type    string     `json:"type"`
	Target  string     `json:"target,omitempty"`
	Event   *dom.Event `json:"event,omitempty"`
	WAV     string     `json:"wav,omitempty"`
	Title   string     `json:"title,omitempty"`
	Message string     `json:"message,omitempty"`
	Icon    string     `json:"icon,omitempty"`
}

// Options configures a Hub.
type Options struct {
	// Token, when set, must be presented as a bearer token or a token query parameter.
	Token        string
	PingInterval time.Duration
}

// client is one connected page. Outbound frames are queued on send and written by the
// client's own writer goroutine, so callers on the event loop never wait on the network.
type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (c *client) write(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}

// Hub serves page connections and applies their frames to a document.
type Hub struct {
	doc      *dom.Document
	token    string
	ping     time.Duration
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

// NewHub returns a Hub mirroring pages into doc and registers it as doc's event forwarder.
func NewHub(doc *dom.Document, opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	h := &Hub{
		doc:   doc,
		token: opts.Token,
		ping:  opts.PingInterval,
		upgrader: websocket.Upgrader{
			// the page shim runs on the chat site's origin
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log:     slog.Default().With(slog.String("component", "bridge")),
		clients: make(map[*client]struct{}),
	}
	doc.AddDispatcher(h)
	return h
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		got = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendQueueSize), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	telemetry.BridgeClients.Set(float64(n))
	h.log.Info("page connected", slog.String("client", c.id), slog.String("remote", r.RemoteAddr))

	h.wg.Add(2)
	go h.serve(c)
	go h.writer(c)
}

// writer drains c's send queue until the client is removed.
func (h *Hub) writer(c *client) {
	defer h.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				h.log.Warn("page write failed", slog.String("client", c.id), slog.Any("err", err))
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) serve(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("page connection lost", slog.String("client", c.id), slog.Any("err", err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			telemetry.BridgeFrames.WithLabelValues("unknown", "malformed").Inc()
			h.log.Warn("malformed bridge frame", slog.String("client", c.id), slog.Any("err", err))
			continue
		}
		if err := h.Apply(f); err != nil {
			h.log.Debug("bridge frame not applied", slog.String("op", f.Op), slog.Any("err", err))
		}
	}
}

// Apply performs one inbound frame on the document.
func (h *Hub) Apply(f Frame) error {
	var err error
	switch f.Op {
	case "snapshot":
		err = h.doc.Load(f.HTML)
	case "append":
		_, err = h.doc.AppendHTML(f.Parent, f.HTML)
	case "insert":
		_, err = h.doc.InsertHTML(f.Parent, f.Before, f.HTML)
	case "remove":
		err = h.doc.RemoveID(f.ID)
	case "replace":
		_, err = h.doc.ReplaceHTML(f.ID, f.HTML)
	default:
		telemetry.BridgeFrames.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("unknown op %q", f.Op)
	}
	if err != nil {
		telemetry.BridgeFrames.WithLabelValues(f.Op, "error").Inc()
		return fmt.Errorf("%s: %w", f.Op, err)
	}
	telemetry.BridgeFrames.WithLabelValues(f.Op, "ok").Inc()
	return nil
}

func (h *Hub) remove(c *client) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	_ = c.conn.Close()
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	telemetry.BridgeClients.Set(float64(n))
	h.log.Info("page disconnected", slog.String("client", c.id))
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast queues f for every connected page without blocking. A page whose queue is
// full is disconnected.
func (h *Hub) broadcast(f outFrame) error {
	clients := h.snapshot()
	if len(clients) == 0 {
		return ErrNoClients
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			telemetry.BridgeFrames.WithLabelValues(f.Type, "dropped").Inc()
			errs = append(errs, fmt.Errorf("client %s: %w", c.id, ErrSlowClient))
			h.remove(c)
		}
	}
	return errors.Join(errs...)
}

// DispatchEvent forwards an event dispatched on the mirror to the page.
func (h *Hub) DispatchEvent(targetID string, ev dom.Event) {
	if err := h.broadcast(outFrame{Type: "event", Target: targetID, Event: &ev}); err != nil {
		h.log.Debug("event not forwarded", slog.String("event", ev.Type), slog.Any("err", err))
	}
}

// Play asks the page to play a WAV clip.
func (h *Hub) Play(wav []byte) error {
	return h.broadcast(outFrame{Type: "play", WAV: base64.StdEncoding.EncodeToString(wav)})
}

// Name identifies the hub as a notification sink.
func (h *Hub) Name() string { return "bridge" }

// Notify asks the page to show a notification.
func (h *Hub) Notify(_ context.Context, n relay.Notification) error {
	return h.broadcast(outFrame{Type: "notification", Title: n.Title, Message: n.Message, Icon: n.Icon})
}

// Run pings connected pages until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.ping)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-t.C:
			for _, c := range h.snapshot() {
				if err := c.write(websocket.PingMessage, nil); err != nil {
					h.remove(c)
				}
			}
		}
	}
}

// Close disconnects every page and waits for their readers to finish.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		h.remove(c)
	}
	h.wg.Wait()
}
