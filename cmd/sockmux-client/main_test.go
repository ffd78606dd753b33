package main

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/session"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport/transporttest"
)

func newConsole(t *testing.T) (*console, *loop.Loop, *bytes.Buffer) {
	t.Helper()
	l := loop.New()
	dialer := &transporttest.Dialer{Loop: l}
	sess, err := session.New(session.Options{
		Server:     "http://127.0.0.1:1",
		GenerateID: func() string { return "0123456789abcdef" },
		Dial:       dialer.Dial,
		Loop:       l,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	buf := &bytes.Buffer{}
	return &console{sess: sess, out: &printer{w: buf}, timeout: time.Second}, l, buf
}

func TestConsoleCommands(t *testing.T) {
	c, l, buf := newConsole(t)

	c.run(context.Background(), strings.NewReader("/sub news\nnews hello world\n\n/bogus\n/quit\nnews never\n"))
	l.Drain()

	if got := c.sess.Topics(); !reflect.DeepEqual(got, []string{"news"}) {
		t.Fatalf("topics = %v", got)
	}
	if got := c.sess.Queued(); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "unknown command /bogus") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	c.run(context.Background(), strings.NewReader("/unsub news\n"))
	l.Drain()
	if got := c.sess.Topics(); len(got) != 0 {
		t.Fatalf("topics after unsub = %v", got)
	}
}

func TestPrinterHandler(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &printer{w: buf}
	p.handler("chat")("hi")
	if !strings.Contains(buf.String(), "chat") || !strings.HasSuffix(buf.String(), " hi\n") {
		t.Fatalf("unexpected line %q", buf.String())
	}
}

func TestRawJSON(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`42`, `42`},
		{`plain text`, `"plain text"`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(rawJSON(tt.body))
		if err != nil {
			t.Fatalf("%q: %v", tt.body, err)
		}
		if string(data) != tt.want {
			t.Errorf("rawJSON(%q) = %s, want %s", tt.body, data, tt.want)
		}
	}
}
