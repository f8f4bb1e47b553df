package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/kick-chat-monitor/dom"
	"github.com/onnwee/kick-chat-monitor/relay"
)

func startHub(t *testing.T, opts Options) (*Hub, *dom.Document, *httptest.Server) {
	t.Helper()
	doc := dom.NewDocument()
	hub := NewHub(doc, opts)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, doc, srv
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	if err := conn.WriteJSON(f); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFramesApplyToDocument(t *testing.T) {
	hub, doc, srv := startHub(t, Options{})
	conn := dial(t, wsURL(srv, ""), nil)
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })

	send(t, conn, Frame{Op: "snapshot", HTML: `<html><body><div data-kcm-id="list"><p data-kcm-id="a">a</p></div></body></html>`})
	send(t, conn, Frame{Op: "append", Parent: "list", HTML: `<p data-kcm-id="c">c</p>`})
	send(t, conn, Frame{Op: "insert", Parent: "list", Before: "c", HTML: `<p data-kcm-id="b">b</p>`})
	send(t, conn, Frame{Op: "replace", ID: "a", HTML: `<p data-kcm-id="a2">A</p>`})
	send(t, conn, Frame{Op: "remove", ID: "c"})
	send(t, conn, Frame{Op: "bogus"})

	waitFor(t, "frames applied", func() bool {
		_, gone := doc.NodeByID("c")
		_, b := doc.NodeByID("b")
		return !gone && b
	})
	list, _ := doc.NodeByID("list")
	var text string
	doc.Read(func() { text = dom.TextContent(list) })
	if text != "Ab" {
		t.Fatalf("list text = %q, want %q", text, "Ab")
	}
}

func TestApplyUnknownParent(t *testing.T) {
	hub := NewHub(dom.NewDocument(), Options{})
	if err := hub.Apply(Frame{Op: "append", Parent: "missing", HTML: "<p>x</p>"}); err == nil {
		t.Fatal("expected error for unknown parent")
	}
	if err := hub.Apply(Frame{Op: "nope"}); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestTokenAuth(t *testing.T) {
	_, _, srv := startHub(t, Options{Token: "s3cret"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v, want 401", resp)
	}

	dial(t, wsURL(srv, "token=s3cret"), nil)
	dial(t, wsURL(srv, ""), http.Header{"Authorization": {"Bearer s3cret"}})
}

func readOut(t *testing.T, conn *websocket.Conn) outFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f outFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func TestOutboundCommands(t *testing.T) {
	hub, doc, srv := startHub(t, Options{})
	if err := hub.Play([]byte("x")); err != ErrNoClients {
		t.Fatalf("Play with no page = %v, want ErrNoClients", err)
	}

	conn := dial(t, wsURL(srv, ""), nil)
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })
	if err := doc.Load(`<html><body><button data-kcm-id="send">Send</button></body></html>`); err != nil {
		t.Fatalf("load: %v", err)
	}

	btn, _ := doc.NodeByID("send")
	doc.Click(btn)
	ev := readOut(t, conn)
	if ev.Type != "event" || ev.Target != "send" || ev.Event == nil || ev.Event.Type != "click" {
		t.Fatalf("event frame = %+v", ev)
	}

	if err := hub.Play([]byte("RIFF")); err != nil {
		t.Fatalf("play: %v", err)
	}
	play := readOut(t, conn)
	wav, _ := base64.StdEncoding.DecodeString(play.WAV)
	if play.Type != "play" || string(wav) != "RIFF" {
		t.Fatalf("play frame = %+v", play)
	}

	n := relay.Notification{Title: relay.DefaultTitle, Message: "Match found: x", Icon: relay.Icon}
	if err := hub.Notify(context.Background(), n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	note := readOut(t, conn)
	if note.Type != "notification" || note.Message != "Match found: x" || note.Icon != relay.Icon {
		t.Fatalf("notification frame = %+v", note)
	}
}

func TestDisconnectUpdatesClients(t *testing.T) {
	hub, _, srv := startHub(t, Options{})
	conn := dial(t, wsURL(srv, ""), nil)
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitFor(t, "client removal", func() bool { return hub.Clients() == 0 })
}

func TestStalledPageDoesNotBlockCommands(t *testing.T) {
	hub, _, srv := startHub(t, Options{})
	// the page never reads, so socket buffers fill and its writer stalls
	dial(t, wsURL(srv, ""), nil)
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })

	clip := make([]byte, 256<<10)
	start := time.Now()
	var lastErr error
	for i := 0; i < 4*sendQueueSize && hub.Clients() > 0; i++ {
		lastErr = hub.Play(clip)
	}
	if elapsed := time.Since(start); elapsed > writeTimeout/2 {
		t.Fatalf("commands blocked for %v", elapsed)
	}
	if !errors.Is(lastErr, ErrSlowClient) && !errors.Is(lastErr, ErrNoClients) {
		t.Fatalf("last Play error = %v, want slow client", lastErr)
	}
	waitFor(t, "stalled page removal", func() bool { return hub.Clients() == 0 })
}
