package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/kick-chat-monitor/relay"
)

// MockWebhookServer is a test server that records notifications POSTed to it.
type MockWebhookServer struct {
	*httptest.Server
	Status int

	mu       sync.Mutex
	received []relay.Notification
	auth     []string
}

// NewMockWebhookServer creates a webhook receiver answering 204 by default.
func NewMockWebhookServer(t *testing.T) *MockWebhookServer {
	t.Helper()
	m := &MockWebhookServer{Status: http.StatusNoContent}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n relay.Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.received = append(m.received, n)
		m.auth = append(m.auth, r.Header.Get("Authorization"))
		status := m.Status
		m.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(m.Close)
	return m
}

// Received returns the notifications delivered so far.
func (m *MockWebhookServer) Received() []relay.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]relay.Notification, len(m.received))
	copy(out, m.received)
	return out
}

// Authorization returns the Authorization header of the i-th request.
func (m *MockWebhookServer) Authorization(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auth[i]
}

// RecordingSink is a relay.Sink that keeps every notification.
type RecordingSink struct {
	mu  sync.Mutex
	got []relay.Notification
}

func (s *RecordingSink) Name() string { return "recording" }

func (s *RecordingSink) Notify(_ context.Context, n relay.Notification) error {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	return nil
}

// Notifications returns a copy of what was recorded.
func (s *RecordingSink) Notifications() []relay.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]relay.Notification, len(s.got))
	copy(out, s.got)
	return out
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
