// Package transporttest provides a scripted in-memory Transport for tests.
package transporttest

import (
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/emitter"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport"
)

// Transport records sent data and lets the test decide when it opens,
// receives and drops. Events are posted to the loop like a real transport.
type Transport struct {
	Opts transport.Options

	loop   *loop.Loop
	state  atomic.Int32
	events emitter.Emitter[transport.Event]

	mu   sync.Mutex
	sent []string
}

func New(l *loop.Loop, opts transport.Options) *Transport {
	t := &Transport{Opts: opts, loop: l}
	t.state.Store(int32(transport.Connecting))
	return t
}

func (t *Transport) ReadyState() transport.ReadyState {
	return transport.ReadyState(t.state.Load())
}

func (t *Transport) Send(data string) error {
	if t.ReadyState() != transport.Open {
		return transport.ErrNotOpen
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, data)
	return nil
}

// Close behaves like a websocket close started locally: the state becomes
// Closing at once and the close event follows on the loop.
func (t *Transport) Close(code int, reason string) error {
	if t.ReadyState() == transport.Closed {
		return transport.ErrClosed
	}
	t.state.Store(int32(transport.Closing))
	t.loop.Post(func() { t.finish(code, reason) })
	return nil
}

func (t *Transport) On(event string, fn func(transport.Event)) emitter.Handle {
	return t.events.On(event, fn)
}

func (t *Transport) Once(event string, fn func(transport.Event)) emitter.Handle {
	return t.events.Once(event, fn)
}

func (t *Transport) Off(h emitter.Handle) bool {
	return t.events.Off(h)
}

// Open simulates the handshake completing.
func (t *Transport) Open() {
	t.loop.Post(func() {
		if t.ReadyState() != transport.Connecting {
			return
		}
		t.state.Store(int32(transport.Open))
		t.events.Emit(transport.EventOpen, transport.Event{})
	})
}

// Receive simulates one inbound text message.
func (t *Transport) Receive(data string) {
	t.loop.Post(func() {
		if t.ReadyState() != transport.Open {
			return
		}
		t.events.Emit(transport.EventMessage, transport.Event{Data: data})
	})
}

// Drop simulates the peer or network closing the socket.
func (t *Transport) Drop(code int, reason string) {
	t.loop.Post(func() { t.finish(code, reason) })
}

func (t *Transport) finish(code int, reason string) {
	if t.ReadyState() == transport.Closed {
		return
	}
	t.state.Store(int32(transport.Closed))
	t.events.Emit(transport.EventClose, transport.Event{Code: code, Reason: reason})
}

// Sent returns a copy of everything sent so far.
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	copy(out, t.sent)
	return out
}

// Reset forgets the recorded sends.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// Listeners returns how many listeners are registered for event.
func (t *Transport) Listeners(event string) int {
	return t.events.Count(event)
}

// Dialer hands out Transports and remembers them.
type Dialer struct {
	Loop *loop.Loop
	Err  error

	mu      sync.Mutex
	created []*Transport
}

func (d *Dialer) Dial(opts transport.Options) (transport.Transport, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	t := New(d.Loop, opts)
	d.mu.Lock()
	d.created = append(d.created, t)
	d.mu.Unlock()
	return t, nil
}

// Created returns every transport dialed so far.
func (d *Dialer) Created() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Transport, len(d.created))
	copy(out, d.created)
	return out
}

// Last returns the most recent transport or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.created) == 0 {
		return nil
	}
	return d.created[len(d.created)-1]
}
