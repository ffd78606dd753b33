package server

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/session"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport/wstransport"
)

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestSessionAgainstBroker(t *testing.T) {
	s, srv := newTestServer(t, Options{})

	l := loop.New()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess, err := session.New(session.Options{
		Server:    srv.URL,
		Dial:      wstransport.NewFactory(l, wstransport.WithLogger(quiet)),
		Logger:    quiet,
		Loop:      l,
		Reconnect: session.ReconnectPolicy{Delay: 20 * time.Millisecond, Multiplier: 1},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = sess.Run(ctx) }()

	var connects atomic.Int32
	sess.OnConnected(func() { connects.Add(1) })
	messages := make(chan string, 16)
	sess.Subscribe("room,1", func(p string) { messages <- p })
	sess.Send("room,1", "queued while offline")
	sess.Connect()

	waitFor(t, "connect", func() bool { return connects.Load() == 1 })
	waitFor(t, "remote subscription", func() bool { return s.Registry().Exists("room%2C1") })

	// the queued message went out before the Subscribe frame, so it is not
	// echoed back
	if !sess.Publish(ctx, "room,1", "hello") {
		t.Fatal("publish failed")
	}
	if got := receive(t, messages); got != `"hello"` {
		t.Fatalf("unexpected published payload %q", got)
	}

	sess.Send("room,1", "direct")
	if got := receive(t, messages); got != "direct" {
		t.Fatalf("unexpected echoed payload %q", got)
	}

	// going away is abnormal for the client, it reconnects and resubscribes
	s.Close()
	waitFor(t, "reconnect", func() bool { return connects.Load() == 2 })
	waitFor(t, "resubscription", func() bool {
		subs := s.Registry().Subscribers("room%2C1")
		return len(subs) == 1 && strings.HasPrefix(subs[0], sess.ID()+"#")
	})
	if !sess.Publish(ctx, "room,1", 2) {
		t.Fatal("publish after reconnect failed")
	}
	if got := receive(t, messages); got != "2" {
		t.Fatalf("unexpected payload after reconnect %q", got)
	}

	if got := sess.GetChannels(ctx); len(got) != 1 || got[0] != "room,1" {
		t.Fatalf("unexpected channels %v", got)
	}

	sess.Disconnect()
	waitFor(t, "disconnect", func() bool { return sess.State() == session.Disconnected })
	waitFor(t, "server cleanup", func() bool { return !s.Registry().Exists("room%2C1") })
	time.Sleep(100 * time.Millisecond)
	if connects.Load() != 2 {
		t.Fatalf("reconnected after normal disconnect, %d connects", connects.Load())
	}
}
