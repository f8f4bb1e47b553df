// Package relay carries notification requests out of the monitoring core to the sinks
// that can actually show them (page bridge, webhook, NATS, log).
//
// The core calls Send from the event loop; Send never blocks. Run drains the queue on its
// own goroutine, applies the fixed defaults and rate limit, and fans each notification out
// to every sink.
package relay

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/kick-chat-monitor/telemetry"
)

const (
	// TypeNotification is the only request type the relay acts on.
	TypeNotification = "notification"

	DefaultTitle   = "Kick Chat Monitor"
	DefaultMessage = "Trigger matched!"
	// Icon is the fixed icon resource shown with every notification.
	Icon = "icons/icon128.png"

	defaultBuffer = 64
	sinkTimeout   = 10 * time.Second
)

// Request is what the action executor hands to the relay.
type Request struct {
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notification is a request with defaults applied, as delivered to sinks.
type Notification struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Icon    string    `json:"icon"`
	SentAt  time.Time `json:"sent_at"`
}

// Sink displays or forwards a notification.
type Sink interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Options tunes a Relay.
type Options struct {
	// Buffer is the queue capacity; Send drops requests beyond it.
	Buffer int
	// RatePerMinute bounds sustained notification volume. A full minute's worth may arrive
	// at once, so every rule matching one message is delivered. Zero or less disables the limit.
	RatePerMinute int
}

// Relay is the notification collaborator outside the event loop.
type Relay struct {
	reqs    chan Request
	limiter *rate.Limiter
	sinks   []Sink
	log     *slog.Logger
}

// New returns a Relay delivering to sinks.
func New(opts Options, sinks ...Sink) *Relay {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerMinute > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), opts.RatePerMinute)
	}
	return &Relay{
		reqs:    make(chan Request, opts.Buffer),
		limiter: lim,
		sinks:   sinks,
		log:     slog.Default().With(slog.String("component", "relay")),
	}
}

// Send enqueues req. It reports false when the queue is full and the request was dropped.
func (r *Relay) Send(req Request) bool {
	select {
	case r.reqs <- req:
		return true
	default:
		telemetry.NotificationsRelayed.WithLabelValues("queue", "dropped").Inc()
		r.log.Warn("notification queue full, dropping request", slog.String("type", req.Type))
		return false
	}
}

// Run delivers queued requests until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info("notification relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("notification relay stopped")
			return
		case req := <-r.reqs:
			r.handle(ctx, req)
		}
	}
}

func (r *Relay) handle(ctx context.Context, req Request) {
	if req.Type != TypeNotification {
		r.log.Debug("ignoring relay request", slog.String("type", req.Type))
		return
	}
	if !r.limiter.Allow() {
		telemetry.NotificationsRelayed.WithLabelValues("limiter", "rate_limited").Inc()
		r.log.Warn("notification rate limit exceeded, dropping", slog.String("title", req.Title))
		return
	}
	n := Notification{Title: req.Title, Message: req.Message, Icon: Icon, SentAt: time.Now().UTC()}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Message == "" {
		n.Message = DefaultMessage
	}

	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := s.Notify(sctx, n)
		cancel()
		if err != nil {
			telemetry.NotificationsRelayed.WithLabelValues(s.Name(), "error").Inc()
			r.log.Warn("notification sink failed", slog.String("sink", s.Name()), slog.Any("err", err))
			continue
		}
		telemetry.NotificationsRelayed.WithLabelValues(s.Name(), "ok").Inc()
	}
}
