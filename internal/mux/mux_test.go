package mux

import (
	"reflect"
	"testing"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport/transporttest"
)

func openTransport(t *testing.T, l *loop.Loop) *transporttest.Transport {
	t.Helper()
	tr := transporttest.New(l, transport.Options{})
	tr.Open()
	l.Drain()
	if tr.ReadyState() != transport.Open {
		t.Fatalf("transport not open: %s", tr.ReadyState())
	}
	return tr
}

func expectSent(t *testing.T, tr *transporttest.Transport, expect ...string) {
	t.Helper()
	got := tr.Sent()
	if len(expect) == 0 && len(got) == 0 {
		return
	}
	if !reflect.DeepEqual(got, expect) {
		t.Fatalf("expected sent %q, got %q", expect, got)
	}
}

func TestChannelOpenDefersToNextTurn(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	m := New(l)

	ch := m.Channel("chat")
	ch.Open(tr)
	if ch.State() != Opening {
		t.Fatalf("expected OPENING, got %s", ch.State())
	}
	expectSent(t, tr)

	// listener attached after Open still sees the event
	opened := 0
	ch.OnOpen(func() { opened++ })
	l.Drain()

	if opened != 1 {
		t.Fatalf("expected one open event, got %d", opened)
	}
	if ch.State() != Open {
		t.Fatalf("expected OPEN, got %s", ch.State())
	}
	expectSent(t, tr, "sub,chat")

	ch.Open(tr)
	l.Drain()
	expectSent(t, tr, "sub,chat")
}

func TestChannelOpenWaitsForConnectingTransport(t *testing.T) {
	l := loop.New()
	tr := transporttest.New(l, transport.Options{})
	ch := New(l).Channel("chat")

	ch.Open(tr)
	l.Drain()
	if ch.State() != Opening {
		t.Fatalf("expected OPENING, got %s", ch.State())
	}
	expectSent(t, tr)

	tr.Open()
	l.Drain()
	if ch.State() != Open {
		t.Fatalf("expected OPEN, got %s", ch.State())
	}
	expectSent(t, tr, "sub,chat")
}

func TestChannelOpenOnClosedTransportIsNoop(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	tr.Drop(transport.CloseAbnormal, "gone")
	l.Drain()

	ch := New(l).Channel("chat")
	ch.Open(tr)
	l.Drain()
	if ch.State() != Closed {
		t.Fatalf("expected CLOSED, got %s", ch.State())
	}
}

func TestChannelClose(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	ch := New(l).Channel("chat")
	ch.Open(tr)
	l.Drain()
	tr.Reset()

	ch.Close(tr)
	expectSent(t, tr, "uns,chat")
	if ch.State() != Closed {
		t.Fatalf("expected CLOSED, got %s", ch.State())
	}

	closed := 0
	ch.OnClose(func() { closed++ })
	l.Drain()
	if closed != 1 {
		t.Fatalf("expected one close event, got %d", closed)
	}

	ch.Close(tr)
	l.Drain()
	if closed != 1 {
		t.Fatalf("closing a closed channel must be a no-op")
	}
}

func TestCloseOvertakesDeferredOpen(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	ch := New(l).Channel("chat")

	ch.Open(tr)
	ch.Close(tr)
	opened := false
	ch.OnOpen(func() { opened = true })
	l.Drain()

	if opened {
		t.Fatal("open event after close")
	}
	expectSent(t, tr, "uns,chat")
}

func TestCloseOnConnectingTransportDefersUnsubscribe(t *testing.T) {
	l := loop.New()
	tr := transporttest.New(l, transport.Options{})
	ch := New(l).Channel("chat")

	ch.Open(tr)
	ch.Close(tr)
	l.Drain()
	expectSent(t, tr)

	tr.Open()
	l.Drain()
	expectSent(t, tr, "uns,chat")
	if tr.Listeners(transport.EventOpen) != 0 {
		t.Fatalf("pending listeners left on transport")
	}
}

func TestMultiplexerChannelRegistry(t *testing.T) {
	l := loop.New()
	m := New(l)
	if m.Channel("chat", NoAutoCreate()) != nil {
		t.Fatal("NoAutoCreate must not register")
	}
	a := m.Channel("chat")
	b := m.Channel("chat")
	if a != b {
		t.Fatal("one channel instance per name")
	}
	m.Channel("status")
	if !reflect.DeepEqual(m.Names(), []string{"chat", "status"}) {
		t.Fatalf("unexpected names %v", m.Names())
	}
}

func TestMultiplexerDispatch(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	m := New(l)
	m.Install(tr)

	var chat, status []string
	m.Channel("chat").OnMessage(func(p string) { chat = append(chat, p) })
	m.Channel("status").OnMessage(func(p string) { status = append(status, p) })

	tr.Receive("msg,chat,hello,world")
	tr.Receive("msg,status,up")
	tr.Receive("msg,unknown,x")
	tr.Receive("garbage")
	tr.Receive("zzz,chat,ignored")
	tr.Receive("msg,chat,second")
	l.Drain()

	if !reflect.DeepEqual(chat, []string{"hello,world", "second"}) {
		t.Fatalf("unexpected chat messages %q", chat)
	}
	if !reflect.DeepEqual(status, []string{"up"}) {
		t.Fatalf("unexpected status messages %q", status)
	}
}

func TestMultiplexerPeerUnsubscribe(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	m := New(l)
	m.Install(tr)

	ch := m.Channel("chat")
	l.Drain()
	closed := 0
	ch.OnClose(func() { closed++ })
	ch.OnMessage(func(string) { t.Fatal("message after peer close") })

	tr.Receive("uns,chat")
	tr.Receive("msg,chat,late")
	l.Drain()

	if closed != 1 {
		t.Fatalf("expected one close event, got %d", closed)
	}
	if m.Channel("chat", NoAutoCreate()) != nil {
		t.Fatal("peer closed channel still registered")
	}
	if ch.State() != Closed {
		t.Fatalf("expected CLOSED, got %s", ch.State())
	}
}

func TestMultiplexerReinstallResubscribesInOrder(t *testing.T) {
	l := loop.New()
	first := openTransport(t, l)
	m := New(l)
	m.Install(first)
	m.Channel("chat").Open(first)
	m.Channel("status").Open(first)
	l.Drain()
	expectSent(t, first, "sub,chat", "sub,status")

	first.Drop(transport.CloseAbnormal, "lost")
	l.Drain()
	m.Uninstall(first)
	l.Drain()
	if m.Len() != 2 {
		t.Fatalf("uninstall must keep channels, got %d", m.Len())
	}
	if first.Listeners(transport.EventMessage) != 0 {
		t.Fatal("message listener still attached to old transport")
	}

	second := openTransport(t, l)
	m.Install(second)
	l.Drain()
	expectSent(t, second, "sub,chat", "sub,status")
	if m.Channel("chat").State() != Open || m.Channel("status").State() != Open {
		t.Fatal("channels not reopened")
	}
}

func TestMultiplexerInstallTwiceKeepsOneListener(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	m := New(l)
	m.Install(tr)
	m.Install(tr)
	if tr.Listeners(transport.EventMessage) != 1 {
		t.Fatalf("expected one message listener, got %d", tr.Listeners(transport.EventMessage))
	}
}

func TestMultiplexerCloseChannel(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	m := New(l)
	m.Install(tr)
	m.Channel("chat").Open(tr)
	l.Drain()
	tr.Reset()

	m.CloseChannel("chat", tr)
	l.Drain()
	expectSent(t, tr, "uns,chat")
	if m.Len() != 0 {
		t.Fatal("closed channel still registered")
	}

	m.Uninstall(tr)
	second := openTransport(t, l)
	m.Install(second)
	l.Drain()
	expectSent(t, second)

	m.CloseChannel("missing", tr)
}

func TestSendHelper(t *testing.T) {
	l := loop.New()
	tr := openTransport(t, l)
	if err := Send(tr, "chat", "a,b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectSent(t, tr, "msg,chat,a,b")
	if err := Send(nil, "chat", "x"); err == nil {
		t.Fatal("send on nil transport must fail")
	}
}
