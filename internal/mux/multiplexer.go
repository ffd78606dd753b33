package mux

import (
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/emitter"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/frame"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport"
)

// Multiplexer owns the channel registry and routes inbound frames to it. The
// registry outlives transports: Uninstall closes channels but keeps them,
// and the next Install subscribes them again in registration order.
// All methods must run on the owning loop.
type Multiplexer struct {
	loop     *loop.Loop
	channels map[string]*Channel
	order    []string

	bound    transport.Transport
	listener emitter.Handle
}

func New(l *loop.Loop) *Multiplexer {
	return &Multiplexer{
		loop:     l,
		channels: make(map[string]*Channel),
	}
}

type channelOptions struct {
	autoCreate bool
}

// ChannelOption changes how Channel looks up a name.
type ChannelOption func(*channelOptions)

// NoAutoCreate makes Channel return nil instead of registering a new channel.
func NoAutoCreate() ChannelOption {
	return func(o *channelOptions) { o.autoCreate = false }
}

// Channel returns the channel registered under name, creating and registering
// it unless NoAutoCreate is given.
func (m *Multiplexer) Channel(name string, opts ...ChannelOption) *Channel {
	o := channelOptions{autoCreate: true}
	for _, opt := range opts {
		opt(&o)
	}
	if ch, ok := m.channels[name]; ok {
		return ch
	}
	if !o.autoCreate {
		return nil
	}
	ch := newChannel(m.loop, name)
	m.channels[name] = ch
	m.order = append(m.order, name)
	return ch
}

// Install binds the multiplexer to t and opens every registered channel on
// it. A previous binding to another transport is dropped first.
func (m *Multiplexer) Install(t transport.Transport) {
	if t == nil {
		return
	}
	if m.bound != t {
		m.detach()
		m.bound = t
		m.listener = t.On(transport.EventMessage, m.dispatch)
	}
	for _, name := range m.Names() {
		m.channels[name].Open(t)
	}
}

// Uninstall detaches from t and closes every channel on it. Channels stay
// registered.
func (m *Multiplexer) Uninstall(t transport.Transport) {
	if m.bound == t {
		m.detach()
	}
	for _, name := range m.Names() {
		m.channels[name].Close(t)
	}
}

// CloseChannel closes the channel on t and forgets it, so later installs do
// not subscribe it again.
func (m *Multiplexer) CloseChannel(name string, t transport.Transport) {
	ch, ok := m.channels[name]
	if !ok {
		return
	}
	ch.Close(t)
	m.remove(name)
}

// Names returns the registered channel names in registration order.
func (m *Multiplexer) Names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Multiplexer) Len() int {
	return len(m.channels)
}

// Bound returns the transport the multiplexer listens on, or nil.
func (m *Multiplexer) Bound() transport.Transport {
	return m.bound
}

func (m *Multiplexer) detach() {
	if m.bound == nil {
		return
	}
	m.bound.Off(m.listener)
	m.bound = nil
	m.listener = 0
}

// dispatch routes one inbound frame. Frames that do not parse or name an
// unknown channel are dropped: a channel closed locally may still receive a
// frame that was already in flight.
func (m *Multiplexer) dispatch(ev transport.Event) {
	f, ok := frame.Decode(ev.Data)
	if !ok {
		return
	}
	ch, ok := m.channels[f.Name]
	if !ok {
		return
	}
	switch f.Type {
	case frame.Unsubscribe:
		m.remove(f.Name)
		ch.peerClose()
	case frame.Message:
		ch.deliver(f.Payload)
	}
}

func (m *Multiplexer) remove(name string) {
	if _, ok := m.channels[name]; !ok {
		return
	}
	delete(m.channels, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
}
