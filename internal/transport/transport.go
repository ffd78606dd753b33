// Package transport 定义了多路复用层所需的双工套接字能力
package transport

import (
	"errors"
	"net/url"
	"strings"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/emitter"
)

// ReadyState mirrors the websocket readyState values.
type ReadyState int32

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

var readyStateMap = map[ReadyState]string{
	Connecting: "CONNECTING",
	Open:       "OPEN",
	Closing:    "CLOSING",
	Closed:     "CLOSED",
}

func (s ReadyState) String() string {
	return readyStateMap[s]
}

// Close codes used by the session layer.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Event names a Transport emits.
const (
	EventOpen    = "open"
	EventMessage = "message"
	EventClose   = "close"
)

var (
	ErrNotOpen = errors.New("transport: not open")
	ErrClosed  = errors.New("transport: closed")
)

// Event carries the data of one transport notification. Data is set for
// EventMessage, Code and Reason for EventClose.
type Event struct {
	Data   string
	Code   int
	Reason string
}

// Transport is one duplex text socket. Implementations deliver their events
// on the owning event loop so listeners never run concurrently with the
// multiplexer or session.
type Transport interface {
	ReadyState() ReadyState
	Send(data string) error
	Close(code int, reason string) error
	On(event string, fn func(Event)) emitter.Handle
	Once(event string, fn func(Event)) emitter.Handle
	Off(h emitter.Handle) bool
}

// Options describe one connection attempt. Server is a stable shard
// discriminator and SessionID identifies the session on that shard.
type Options struct {
	BaseURL   string
	Server    string
	SessionID string
}

// Factory creates a transport in the Connecting state.
type Factory func(opts Options) (Transport, error)

// Endpoint builds the SockJS style websocket URL
// <base>/<server>/<session>/websocket, switching http(s) to ws(s).
func Endpoint(opts Options) (string, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("transport: unsupported scheme " + u.Scheme)
	}
	u.Path = u.Path + "/" + url.PathEscape(opts.Server) + "/" + url.PathEscape(opts.SessionID) + "/websocket"
	return u.String(), nil
}
