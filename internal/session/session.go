// Package session 实现了带自动重连、离线队列和订阅恢复的客户端会话
package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/admin"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/clock"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/emitter"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/frame"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/mux"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport"
)

// State 会话连接状态
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

var stateMap = map[State]string{
	Disconnected: "DISCONNECTED",
	Connecting:   "CONNECTING",
	Connected:    "CONNECTED",
}

func (s State) String() string {
	return stateMap[s]
}

const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// serverPrefixLen is how many id characters select the backend shard.
const serverPrefixLen = 12

var (
	ErrServerRequired = errors.New("session: server url required")
	ErrDialRequired   = errors.New("session: transport factory required")
	ErrShortID        = errors.New("session: id shorter than 12 characters")
)

// ReconnectPolicy controls the delay before each reconnect attempt. The zero
// Multiplier and a Multiplier of 1 both keep the delay fixed.
type ReconnectPolicy struct {
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Delay: 3 * time.Second, Multiplier: 1}
}

// Next returns the delay before reconnect attempt n, counting from 1.
func (p ReconnectPolicy) Next(attempt int) time.Duration {
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultReconnectPolicy().Delay
	}
	if p.Multiplier > 1 && attempt > 1 {
		grown := float64(delay) * math.Pow(p.Multiplier, float64(attempt-1))
		if grown > float64(math.MaxInt64) {
			grown = float64(math.MaxInt64)
		}
		delay = time.Duration(grown)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

type Options struct {
	// Server is the broker base URL, e.g. http://localhost:8080.
	Server string
	// GenerateID returns the client identifier; at least 12 characters.
	GenerateID func() string
	Dial       transport.Factory
	Logger     *slog.Logger
	Loop       *loop.Loop
	Clock      clock.Clock
	Reconnect  ReconnectPolicy
	Admin      *admin.Client
}

type outgoing struct {
	topic   string
	message string
}

// Session keeps topic subscriptions alive across reconnects. Public methods
// may be called from any goroutine: they post to the session loop and return.
// Calls made from one goroutine run in call order.
type Session struct {
	id     string
	server string
	log    *slog.Logger
	dial   transport.Factory
	loop   *loop.Loop
	clock  clock.Clock
	policy ReconnectPolicy
	admin  *admin.Client

	state   atomic.Int32
	retries atomic.Int32
	events  emitter.Emitter[transport.Event]

	// owned by the loop
	transport transport.Transport
	bindings  []emitter.Handle
	mux       *mux.Multiplexer
	queue     []outgoing
	handlers  emitter.Emitter[string]
	fallbacks map[string]emitter.Handle
	wired     map[string]*mux.Channel
	reconnect clock.Timer
}

func New(opts Options) (*Session, error) {
	opts.Server = strings.TrimRight(opts.Server, "/")
	if opts.Server == "" {
		return nil, ErrServerRequired
	}
	if opts.Dial == nil {
		return nil, ErrDialRequired
	}
	if opts.GenerateID == nil {
		opts.GenerateID = NewID
	}
	id := opts.GenerateID()
	if len(id) < serverPrefixLen {
		return nil, ErrShortID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Loop == nil {
		opts.Loop = loop.New()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Reconnect == (ReconnectPolicy{}) {
		opts.Reconnect = DefaultReconnectPolicy()
	}
	if opts.Admin == nil {
		opts.Admin = admin.New(opts.Server, nil, opts.Logger)
	}
	return &Session{
		id:        id,
		server:    opts.Server,
		log:       opts.Logger,
		dial:      opts.Dial,
		loop:      opts.Loop,
		clock:     opts.Clock,
		policy:    opts.Reconnect,
		admin:     opts.Admin,
		mux:       mux.New(opts.Loop),
		fallbacks: make(map[string]emitter.Handle),
		wired:     make(map[string]*mux.Channel),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Retries is the number of reconnect attempts since the last successful open.
func (s *Session) Retries() int { return int(s.retries.Load()) }

// Run processes session work until ctx ends or the loop is stopped.
func (s *Session) Run(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// Connect opens a transport unless one is connecting or connected.
func (s *Session) Connect() {
	s.loop.Post(s.connect)
}

// Disconnect closes the transport with the normal closure code, which does
// not trigger a reconnect, and cancels a scheduled reconnect. Subscriptions
// and fallbacks survive, so a later Connect restores them.
func (s *Session) Disconnect() {
	s.loop.Post(s.disconnect)
}

// Subscribe makes handler the only local callback for topic and subscribes
// the topic remotely, now if possible and again after every reconnect.
func (s *Session) Subscribe(topic string, handler func(payload string)) {
	s.loop.Post(func() { s.subscribe(topic, handler) })
}

func (s *Session) Unsubscribe(topic string) {
	s.loop.Post(func() { s.unsubscribe(topic) })
}

// Send transmits message on topic, or queues it until the next connect.
func (s *Session) Send(topic, message string) {
	s.loop.Post(func() { s.send(topic, message) })
}

func (s *Session) OnConnected(fn func()) emitter.Handle {
	return s.events.On(EventConnected, func(transport.Event) { fn() })
}

func (s *Session) OnDisconnected(fn func(ev transport.Event)) emitter.Handle {
	return s.events.On(EventDisconnected, fn)
}

func (s *Session) Off(h emitter.Handle) bool {
	return s.events.Off(h)
}

func (s *Session) Publish(ctx context.Context, topic string, message any) bool {
	return s.admin.Publish(ctx, topic, message)
}

func (s *Session) CheckChannel(ctx context.Context, topic string) bool {
	return s.admin.CheckChannel(ctx, topic)
}

func (s *Session) GetChannels(ctx context.Context) []string {
	return s.admin.GetChannels(ctx)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) connect() {
	if st := s.State(); st == Connecting || st == Connected {
		return
	}
	s.stopReconnect()
	t, err := s.dial(transport.Options{
		BaseURL:   s.server + "/queues",
		Server:    s.id[:serverPrefixLen],
		SessionID: s.id[serverPrefixLen:],
	})
	if err != nil {
		s.log.Warn("Connection failed.", "err", err)
		s.scheduleReconnect()
		return
	}
	s.setState(Connecting)
	s.transport = t
	// session listeners go first so the multiplexer is installed before any
	// channel waiting on the same open event subscribes
	s.bindings = []emitter.Handle{
		t.On(transport.EventOpen, func(transport.Event) { s.opened(t) }),
		t.On(transport.EventClose, func(ev transport.Event) { s.closed(t, ev) }),
	}
}

func (s *Session) opened(t transport.Transport) {
	if t != s.transport {
		return
	}
	s.log.Info("Connection opened.")
	s.setState(Connected)
	s.retries.Store(0)
	s.mux.Install(t)

	queued := s.queue
	s.queue = nil
	for _, o := range queued {
		s.send(o.topic, o.message)
	}
	s.events.Emit(EventConnected, transport.Event{})
}

func (s *Session) closed(t transport.Transport, ev transport.Event) {
	if t != s.transport {
		return
	}
	s.log.Info("Connection closed.", "reason", ev.Reason, "code", ev.Code)
	s.mux.Uninstall(t)
	for _, h := range s.bindings {
		t.Off(h)
	}
	s.bindings = nil
	s.transport = nil
	s.setState(Disconnected)
	s.events.Emit(EventDisconnected, ev)
	if ev.Code != transport.CloseNormal {
		s.scheduleReconnect()
	}
}

func (s *Session) scheduleReconnect() {
	s.stopReconnect()
	attempt := s.retries.Add(1)
	delay := s.policy.Next(int(attempt))
	s.log.Info("Reconnecting.", "attempt", attempt, "delay", delay)
	var timer clock.Timer
	timer = s.clock.AfterFunc(delay, func() {
		s.loop.Post(func() {
			if s.reconnect != timer {
				return
			}
			s.reconnect = nil
			s.connect()
		})
	})
	s.reconnect = timer
}

func (s *Session) stopReconnect() {
	if s.reconnect == nil {
		return
	}
	s.reconnect.Stop()
	s.reconnect = nil
}

func (s *Session) disconnect() {
	s.stopReconnect()
	if s.transport != nil {
		_ = s.transport.Close(transport.CloseNormal, "Normal closure")
	}
}

func (s *Session) subscribe(topic string, handler func(string)) {
	s.handlers.RemoveAll(topic)
	if handler != nil {
		s.handlers.On(topic, handler)
	}
	s.registerChannel(topic)
	s.createFallback(topic)
}

// registerChannel makes sure the channel for topic exists, is wired to the
// local handler once, and is open on the current transport.
func (s *Session) registerChannel(topic string) *mux.Channel {
	name := frame.EscapeName(topic)
	ch := s.mux.Channel(name)
	if s.wired[name] != ch {
		ch.OnOpen(func() { s.log.Info("channel opened", "topic", topic) })
		ch.OnMessage(func(payload string) { s.handlers.Emit(topic, payload) })
		ch.OnClose(func() { s.log.Info("channel closed", "topic", topic) })
		s.wired[name] = ch
	}
	ch.Open(s.transport)
	return ch
}

// createFallback resubscribes topic on every connect. A topic has at most
// one fallback.
func (s *Session) createFallback(topic string) {
	s.removeFallback(topic)
	s.fallbacks[topic] = s.events.On(EventConnected, func(transport.Event) {
		s.registerChannel(topic)
	})
}

func (s *Session) removeFallback(topic string) {
	if h, ok := s.fallbacks[topic]; ok {
		s.events.Off(h)
		delete(s.fallbacks, topic)
	}
}

func (s *Session) unsubscribe(topic string) {
	s.removeFallback(topic)
	s.handlers.RemoveAll(topic)
	name := frame.EscapeName(topic)
	s.mux.CloseChannel(name, s.transport)
	delete(s.wired, name)
}

func (s *Session) send(topic, message string) {
	if s.State() != Connected || s.transport == nil {
		s.queue = append(s.queue, outgoing{topic: topic, message: message})
		return
	}
	name := frame.EscapeName(topic)
	var err error
	if ch := s.mux.Channel(name, mux.NoAutoCreate()); ch != nil {
		err = ch.Send(s.transport, message)
	} else {
		err = mux.Send(s.transport, name, message)
	}
	if err != nil {
		s.log.Warn("send failed, message queued", "topic", topic, "err", err)
		s.queue = append(s.queue, outgoing{topic: topic, message: message})
	}
}

// Queued returns how many messages wait for the next connect. It must run on
// the session loop.
func (s *Session) Queued() int {
	return len(s.queue)
}

// Topics returns the subscribed topics in sorted order. It must run on the
// session loop.
func (s *Session) Topics() []string {
	out := make([]string, 0, len(s.fallbacks))
	for topic := range s.fallbacks {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}
