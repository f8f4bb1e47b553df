package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
)

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Notify(_ context.Context, n Notification) error {
	slog.Info("notification", slog.String("component", "relay"), slog.String("title", n.Title), slog.String("message", n.Message))
	return nil
}

// WebhookSink POSTs notifications as JSON.
type WebhookSink struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) http() *http.Client {
	if w.HTTPClient != nil {
		return w.HTTPClient
	}
	return http.DefaultClient
}

func (w *WebhookSink) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// NATSSink publishes notifications as JSON on a subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// DialNATS connects to url and returns a sink publishing on subject.
func DialNATS(url, subject string) (*NATSSink, error) {
	log := slog.Default().With(slog.String("component", "relay"), slog.String("sink", "nats"))
	conn, err := nats.Connect(url,
		nats.Name("kick-chat-monitor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.Any("err", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Notify(_ context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject, data)
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
