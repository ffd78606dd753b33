// Package wstransport 基于 gorilla/websocket 实现 transport.Transport
package wstransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/emitter"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport"
)

const (
	writeWait    = 10 * time.Second
	closeTimeout = 5 * time.Second
)

type config struct {
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger
}

type Option func(*config)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *config) { c.dialer = d }
}

func WithHeader(h http.Header) Option {
	return func(c *config) { c.header = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Transport is a websocket connection whose events are posted to a loop.
// The handshake and the reader run on their own goroutine.
type Transport struct {
	loop   *loop.Loop
	url    string
	cfg    config
	cancel context.CancelFunc

	state  atomic.Int32
	events emitter.Emitter[transport.Event]

	mu          sync.Mutex
	conn        *websocket.Conn
	localCode   int
	localReason string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewFactory returns a transport.Factory dialing websockets whose events run
// on l.
func NewFactory(l *loop.Loop, opts ...Option) transport.Factory {
	return func(o transport.Options) (transport.Transport, error) {
		return Dial(l, o, opts...)
	}
}

// Dial starts connecting and returns at once with a Connecting transport.
// Failures are reported as a close event with code 1006.
func Dial(l *loop.Loop, o transport.Options, opts ...Option) (*Transport, error) {
	endpoint, err := transport.Endpoint(o)
	if err != nil {
		return nil, err
	}
	cfg := config{dialer: websocket.DefaultDialer, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{loop: l, url: endpoint, cfg: cfg, cancel: cancel}
	t.state.Store(int32(transport.Connecting))
	go t.run(ctx)
	return t, nil
}

func (t *Transport) URL() string { return t.url }

func (t *Transport) ReadyState() transport.ReadyState {
	return transport.ReadyState(t.state.Load())
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

func (t *Transport) Send(data string) error {
	if t.ReadyState() != transport.Open {
		return transport.ErrNotOpen
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return transport.ErrNotOpen
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(data))
}

// Close starts the closing handshake. The close event reports code and
// reason even when the peer answers with something else.
func (t *Transport) Close(code int, reason string) error {
	t.mu.Lock()
	switch t.ReadyState() {
	case transport.Closed:
		t.mu.Unlock()
		return transport.ErrClosed
	case transport.Closing:
		t.mu.Unlock()
		return nil
	}
	t.state.Store(int32(transport.Closing))
	t.localCode, t.localReason = code, reason
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.cancel()
		return nil
	}
	t.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	t.writeMu.Unlock()
	_ = conn.SetReadDeadline(time.Now().Add(closeTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = conn.Close()
	}
	return nil
}

func (t *Transport) run(ctx context.Context) {
	defer t.cancel()
	conn, _, err := t.cfg.dialer.DialContext(ctx, t.url, t.cfg.header)
	if err != nil {
		t.cfg.logger.Debug("websocket dial failed", "url", t.url, "err", err)
		t.finish(err)
		return
	}

	t.mu.Lock()
	if t.ReadyState() == transport.Closing {
		t.mu.Unlock()
		_ = conn.Close()
		t.finish(nil)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	t.loop.Post(func() {
		if !t.state.CompareAndSwap(int32(transport.Connecting), int32(transport.Open)) {
			return
		}
		t.events.Emit(transport.EventOpen, transport.Event{})
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			t.finish(err)
			return
		}
		message := string(data)
		t.loop.Post(func() {
			t.events.Emit(transport.EventMessage, transport.Event{Data: message})
		})
	}
}

// finish marks the transport closed and posts the single close event.
func (t *Transport) finish(cause error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		code, reason := t.localCode, t.localReason
		t.state.Store(int32(transport.Closed))
		t.mu.Unlock()

		if code == 0 {
			code, reason = transport.CloseAbnormal, ""
			var ce *websocket.CloseError
			if errors.As(cause, &ce) {
				code, reason = ce.Code, ce.Text
			} else if cause != nil {
				reason = cause.Error()
			}
		}
		ev := transport.Event{Code: code, Reason: reason}
		t.loop.Post(func() {
			t.events.Emit(transport.EventClose, ev)
		})
	})
}
