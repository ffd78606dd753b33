package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/admin"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/database"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(opts)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(s.Close)
	return s, srv
}

func dialWS(t *testing.T, srv *httptest.Server, server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/queues/" + server + "/" + session + "/websocket"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, data string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Fatalf("write %q: %v", data, err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFanOutIncludesSender(t *testing.T) {
	s, srv := newTestServer(t, Options{})
	a := dialWS(t, srv, "aaaaaaaaaaaa", "1")
	b := dialWS(t, srv, "bbbbbbbbbbbb", "1")

	writeFrame(t, a, "sub,chat")
	writeFrame(t, b, "sub,chat")
	waitFor(t, "two subscribers", func() bool { return len(s.Registry().Subscribers("chat")) == 2 })

	writeFrame(t, a, "msg,chat,hello,world")
	if got := readFrame(t, a); got != "msg,chat,hello,world" {
		t.Fatalf("sender got %q", got)
	}
	if got := readFrame(t, b); got != "msg,chat,hello,world" {
		t.Fatalf("subscriber got %q", got)
	}
}

func TestUnsubscribeAndDisconnectCleanup(t *testing.T) {
	s, srv := newTestServer(t, Options{})
	a := dialWS(t, srv, "aaaaaaaaaaaa", "1")

	writeFrame(t, a, "sub,chat")
	writeFrame(t, a, "sub,status")
	writeFrame(t, a, "garbage")
	waitFor(t, "subscriptions", func() bool { return s.Registry().Exists("status") })

	writeFrame(t, a, "uns,chat")
	waitFor(t, "unsubscribe", func() bool { return !s.Registry().Exists("chat") })

	_ = a.Close()
	waitFor(t, "cleanup", func() bool {
		return !s.Registry().Exists("status") && s.Connections().Count() == 0
	})
}

func TestAdminEndpoints(t *testing.T) {
	s, srv := newTestServer(t, Options{})
	client := admin.New(srv.URL, srv.Client(), nil)
	ctx := context.Background()
	a := dialWS(t, srv, "aaaaaaaaaaaa", "1")

	writeFrame(t, a, "sub,a%2Cb")
	waitFor(t, "subscription", func() bool { return s.Registry().Exists("a%2Cb") })

	if !client.CheckChannel(ctx, "a,b") {
		t.Fatal("channel a,b must exist")
	}
	if client.CheckChannel(ctx, "missing") {
		t.Fatal("channel missing must not exist")
	}
	if got := client.GetChannels(ctx); !reflect.DeepEqual(got, []string{"a,b"}) {
		t.Fatalf("unexpected channels %v", got)
	}

	if !client.Publish(ctx, "a,b", map[string]int{"n": 1}) {
		t.Fatal("publish failed")
	}
	if got := readFrame(t, a); got != `msg,a%2Cb,{"n":1}` {
		t.Fatalf("unexpected published frame %q", got)
	}

	if !client.CloseChannel(ctx, "a,b") {
		t.Fatal("close channel failed")
	}
	if got := readFrame(t, a); got != "uns,a%2Cb" {
		t.Fatalf("unexpected close frame %q", got)
	}
	if client.CheckChannel(ctx, "a,b") {
		t.Fatal("closed channel still exists")
	}
	if got := client.GetChannels(ctx); len(got) != 0 {
		t.Fatalf("unexpected channels after close %v", got)
	}
}

func TestAdminRejectsBadRequests(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	tests := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodPost, "/publish", `"x"`, http.StatusBadRequest},
		{http.MethodPost, "/publish?topic=chat", `not json`, http.StatusBadRequest},
		{http.MethodGet, "/channels/exists", "", http.StatusBadRequest},
		{http.MethodDelete, "/channels", "", http.StatusBadRequest},
		{http.MethodPut, "/channels", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.status, resp.StatusCode)
		}
	}
}

func TestPersistentSessionsRestoreSubscriptions(t *testing.T) {
	store := database.NewMemoryStore()
	s, srv := newTestServer(t, Options{PersistentSessions: true, Store: store})

	first := dialWS(t, srv, "aaaaaaaaaaaa", "sess")
	writeFrame(t, first, "sub,chat")
	waitFor(t, "stored subscription", func() bool {
		sd, err := store.GetSession(context.Background(), "aaaaaaaaaaaasess")
		return err == nil && len(sd.Subscriptions) == 1
	})
	_ = first.Close()
	waitFor(t, "cleanup", func() bool { return !s.Registry().Exists("chat") })

	second := dialWS(t, srv, "aaaaaaaaaaaa", "sess")
	waitFor(t, "restored subscription", func() bool { return s.Registry().Exists("chat") })

	other := dialWS(t, srv, "bbbbbbbbbbbb", "x")
	writeFrame(t, other, "msg,chat,restored")
	if got := readFrame(t, second); got != "msg,chat,restored" {
		t.Fatalf("unexpected frame %q", got)
	}
}
