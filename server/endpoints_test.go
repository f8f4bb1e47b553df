package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/kick-chat-monitor/config"
	"github.com/onnwee/kick-chat-monitor/db"
	"github.com/onnwee/kick-chat-monitor/monitor"
	"github.com/onnwee/kick-chat-monitor/triggers"
)

type fakeStatus struct{ st monitor.Status }

func (f fakeStatus) Status() monitor.Status { return f.st }

type fakeBridge struct{ clients int }

func (f *fakeBridge) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func (f *fakeBridge) Clients() int { return f.clients }

type failingStore struct{ *db.MemoryStore }

func (failingStore) Ping(context.Context) error { return errors.New("connection refused") }

func (failingStore) Load(context.Context) (triggers.Config, error) {
	return triggers.Config{}, errors.New("connection refused")
}

type testServer struct {
	handler http.Handler
	store   *db.MemoryStore
	bridge  *fakeBridge
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{CORSPermissive: true}
	}
	store := db.NewMemoryStore()
	bridge := &fakeBridge{}
	handler := NewMux(context.Background(), Deps{
		Config:  cfg,
		Store:   store,
		Monitor: fakeStatus{st: monitor.Status{Enabled: true, Rules: 0, Attached: "primary", Running: true}},
		Bridge:  bridge,
	})
	return &testServer{handler: handler, store: store, bridge: bridge}
}

func (s *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w.Result()
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func decodeRules(t *testing.T, resp *http.Response) []triggers.Rule {
	t.Helper()
	var rules []triggers.Rule
	if err := json.NewDecoder(resp.Body).Decode(&rules); err != nil {
		t.Fatalf("decode rules: %v", err)
	}
	return rules
}

func TestHealthzEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if body := readAll(t, resp); body != "ok" {
		t.Errorf("healthz body = %q", body)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestHealthzStoreDown(t *testing.T) {
	handler := NewMux(context.Background(), Deps{
		Config: &config.Config{},
		Store:  failingStore{db.NewMemoryStore()},
	})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyzRequiresBridgeClient(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodGet, "/readyz", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz without page = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["failed_check"] != "bridge" {
		t.Errorf("failed_check = %q, want bridge", body["failed_check"])
	}

	s.bridge.clients = 1
	if resp := s.do(t, http.MethodGet, "/readyz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz with page = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.bridge.clients = 2
	resp := s.do(t, http.MethodGet, "/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Monitor       monitor.Status `json:"monitor"`
		BridgeClients int            `json:"bridge_clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.BridgeClients != 2 || body.Monitor.Attached != "primary" || !body.Monitor.Running {
		t.Errorf("status body = %+v", body)
	}
}

func TestBridgeRoute(t *testing.T) {
	s := newTestServer(t, nil)
	if resp := s.do(t, http.MethodGet, "/bridge", ""); resp.StatusCode != http.StatusTeapot {
		t.Errorf("/bridge status = %d, want bridge handler", resp.StatusCode)
	}
}

func TestTriggersCRUD(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodGet, "/triggers", "")
	if rules := decodeRules(t, resp); len(rules) != 0 {
		t.Fatalf("initial rules = %v", rules)
	}

	resp = s.do(t, http.MethodPut, "/triggers", `[{"keyword":"!giveaway","action":"notification"}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	rules := decodeRules(t, resp)
	if len(rules) != 1 || rules[0].ID == "" || rules[0].Name != "!giveaway" || !rules[0].Enabled {
		t.Fatalf("PUT normalized rules = %+v", rules)
	}

	resp = s.do(t, http.MethodPost, "/triggers", `{"name":"mod hello","userType":"specific","username":"mod1","keyword":"hi","action":"chat","message":"hello!","delay":500}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	var created triggers.Rule
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Message != "hello!" || created.Delay != 500 {
		t.Fatalf("created = %+v", created)
	}

	resp = s.do(t, http.MethodPut, "/triggers/"+created.ID, `{"keyword":"hey","action":"sound"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT one status = %d: %s", resp.StatusCode, readAll(t, resp))
	}

	cfg, err := s.store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[1].ID != created.ID || cfg.Rules[1].Keyword != "hey" || cfg.Rules[1].Message != "" {
		t.Fatalf("stored after replace = %+v", cfg.Rules)
	}

	resp = s.do(t, http.MethodDelete, "/triggers/"+cfg.Rules[0].ID, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}
	cfg, _ = s.store.Load(context.Background())
	if len(cfg.Rules) != 1 || cfg.Rules[0].ID != created.ID {
		t.Fatalf("stored after delete = %+v", cfg.Rules)
	}

	if resp := s.do(t, http.MethodDelete, "/triggers/missing", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("DELETE missing = %d, want 404", resp.StatusCode)
	}
}

func TestTriggersValidation(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name    string
		method  string
		body    string
		wantMsg string
	}{
		{"empty keyword", http.MethodPut, `[{"keyword":"  ","action":"sound"}]`, "keyword is required"},
		{"specific without username", http.MethodPut, `[{"keyword":"x","userType":"specific","action":"sound"}]`, "username is required"},
		{"chat without message", http.MethodPost, `{"keyword":"x","action":"chat"}`, "message is required"},
		{"unknown action", http.MethodPost, `{"keyword":"x","action":"explode"}`, "explode"},
		{"negative delay", http.MethodPut, `[{"keyword":"x","action":"sound","delay":-5}]`, "delay must be non-negative"},
		{"not json", http.MethodPut, `{`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, "/triggers", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if body := readAll(t, resp); !strings.Contains(body, tt.wantMsg) {
				t.Errorf("body = %q, want it to mention %q", body, tt.wantMsg)
			}
		})
	}
	cfg, _ := s.store.Load(context.Background())
	if len(cfg.Rules) != 0 {
		t.Errorf("invalid writes reached the store: %+v", cfg.Rules)
	}
}

func TestExportImport(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPut, "/triggers", `[{"name":"greet","keyword":"hi","action":"chat","message":"hello chat"}]`)

	resp := s.do(t, http.MethodGet, "/triggers/export", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "kick-bot-config.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	exported := readAll(t, resp)
	if !strings.Contains(exported, `"sendMessage"`) || !strings.Contains(exported, `"hello chat"`) {
		t.Fatalf("export body = %s", exported)
	}

	s.do(t, http.MethodPut, "/triggers", `[]`)
	resp = s.do(t, http.MethodPost, "/triggers/import", exported)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	cfg, _ := s.store.Load(context.Background())
	if len(cfg.Rules) != 1 || cfg.Rules[0].Action != triggers.ActionChat || cfg.Rules[0].Message != "hello chat" {
		t.Fatalf("imported = %+v", cfg.Rules)
	}
}

func TestImportErrors(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"triggers": [`, "Error parsing JSON file"},
		{"missing array", `{"rules": []}`, "Invalid configuration format: missing triggers array"},
		{"triggers not array", `{"triggers": {}}`, "Invalid configuration format: missing triggers array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/triggers/import", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if body := strings.TrimSpace(readAll(t, resp)); body != tt.want {
				t.Errorf("body = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestEnabledEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	changes, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	resp := s.do(t, http.MethodPut, "/enabled", `{"enabled": false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	c := <-changes
	if on, err := c.Enabled(); c.Key != db.KeyEnabled || err != nil || on {
		t.Fatalf("change = %+v (%v)", c, err)
	}

	resp = s.do(t, http.MethodGet, "/enabled", "")
	var body map[string]bool
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["enabled"] {
		t.Errorf("GET enabled = %v after disable", body)
	}

	if resp := s.do(t, http.MethodPut, "/enabled", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("PUT without field = %d, want 400", resp.StatusCode)
	}
}

func TestWritesRequireAdminAuth(t *testing.T) {
	s := newTestServer(t, &config.Config{AdminToken: "s3cret", CORSPermissive: true})

	if resp := s.do(t, http.MethodGet, "/triggers", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("GET without auth = %d, want 200", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPut, "/enabled", `{"enabled": false}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("PUT without auth = %d, want 401", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodPut, "/enabled", strings.NewReader(`{"enabled": false}`))
	req.Header.Set("X-Admin-Token", "s3cret")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("PUT with token = %d, want 200", w.Code)
	}
}

func TestWritesRateLimited(t *testing.T) {
	s := newTestServer(t, &config.Config{RateLimitEnabled: true, RateLimitRequestsPerIP: 1, RateLimitWindow: time.Minute})
	if resp := s.do(t, http.MethodPut, "/enabled", `{"enabled": true}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("first write = %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPut, "/enabled", `{"enabled": true}`); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second write = %d, want 429", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodGet, "/enabled", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("read after limit = %d, want 200", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/triggers"},
		{http.MethodPost, "/triggers/export"},
		{http.MethodGet, "/triggers/import"},
		{http.MethodPost, "/status"},
	} {
		if resp := s.do(t, tc.method, tc.path, ""); resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tc.method, tc.path, resp.StatusCode)
		}
	}
}
