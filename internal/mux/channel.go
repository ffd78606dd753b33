// Package mux 实现了在一条传输连接上复用多个频道的协议层
package mux

import (
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/emitter"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/frame"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport"
)

// State 频道状态
type State int

const (
	Closed State = iota
	Opening
	Open
)

var stateMap = map[State]string{
	Closed:  "CLOSED",
	Opening: "OPENING",
	Open:    "OPEN",
}

func (s State) String() string {
	return stateMap[s]
}

const (
	EventOpen    = "open"
	EventMessage = "message"
	EventClose   = "close"
)

// Channel is the subscription state machine of one channel name. It borrows
// the transport passed to Open, Close and Send and never keeps it beyond a
// pending connect listener. All methods must run on the owning loop.
type Channel struct {
	name  string
	loop  *loop.Loop
	state State

	// epoch changes on every close so deferred opens can tell they were
	// overtaken.
	epoch   uint64
	pending pendingOpen
	events  emitter.Emitter[string]
}

type pendingOpen struct {
	t transport.Transport
	h emitter.Handle
}

func newChannel(l *loop.Loop, name string) *Channel {
	return &Channel{name: name, loop: l}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) State() State { return c.state }

// Open subscribes the channel on t. Nothing happens unless the channel is
// Closed. On an open transport the Subscribe frame and the open event are
// deferred to the next loop turn, so listeners attached right after Open
// still observe the event. On a connecting transport they wait for the
// transport's open event.
func (c *Channel) Open(t transport.Transport) {
	if c.state != Closed || t == nil {
		return
	}
	epoch := c.epoch
	switch t.ReadyState() {
	case transport.Open:
		c.state = Opening
		c.loop.Post(func() {
			if c.epoch != epoch || c.state != Opening {
				return
			}
			c.subscribe(t)
		})
	case transport.Connecting:
		c.state = Opening
		h := t.Once(transport.EventOpen, func(transport.Event) {
			c.pending = pendingOpen{}
			if c.epoch != epoch {
				return
			}
			c.subscribe(t)
		})
		c.pending = pendingOpen{t: t, h: h}
	}
}

func (c *Channel) subscribe(t transport.Transport) {
	_ = t.Send(frame.Encode(frame.Subscribe, c.name, ""))
	c.state = Open
	c.events.Emit(EventOpen, "")
}

// Close unsubscribes the channel on t. The state is Closed when Close
// returns; the close event follows on the next loop turn. On a connecting
// transport the Unsubscribe frame is sent once it connects.
func (c *Channel) Close(t transport.Transport) {
	if c.state == Closed {
		return
	}
	c.epoch++
	c.cancelPending()
	c.state = Closed
	if t != nil {
		unsubscribe := frame.Encode(frame.Unsubscribe, c.name, "")
		switch t.ReadyState() {
		case transport.Open:
			_ = t.Send(unsubscribe)
		case transport.Connecting:
			t.Once(transport.EventOpen, func(transport.Event) {
				_ = t.Send(unsubscribe)
			})
		}
	}
	c.loop.Post(func() {
		c.events.Emit(EventClose, "")
	})
}

// Send transmits message on t addressed to this channel. Callers only call it
// while the transport is open.
func (c *Channel) Send(t transport.Transport, message string) error {
	return Send(t, c.name, message)
}

// peerClose handles an Unsubscribe frame from the other side.
func (c *Channel) peerClose() {
	c.epoch++
	c.cancelPending()
	c.state = Closed
	c.events.Emit(EventClose, "")
}

func (c *Channel) deliver(payload string) {
	c.events.Emit(EventMessage, payload)
}

func (c *Channel) cancelPending() {
	if c.pending.t != nil {
		c.pending.t.Off(c.pending.h)
	}
	c.pending = pendingOpen{}
}

func (c *Channel) OnOpen(fn func()) emitter.Handle {
	return c.events.On(EventOpen, func(string) { fn() })
}

func (c *Channel) OnMessage(fn func(payload string)) emitter.Handle {
	return c.events.On(EventMessage, fn)
}

func (c *Channel) OnClose(fn func()) emitter.Handle {
	return c.events.On(EventClose, func(string) { fn() })
}

func (c *Channel) Off(h emitter.Handle) bool {
	return c.events.Off(h)
}

// Send encodes a Message frame for the channel name and writes it to t.
func Send(t transport.Transport, name string, message string) error {
	if t == nil {
		return transport.ErrNotOpen
	}
	return t.Send(frame.Encode(frame.Message, name, message))
}
