// Package server 实现了多路复用协议的参考代理服务器
//
// One websocket per client carries sub/uns/msg frames for any number of
// channels. A msg frame is fanned out to every subscriber of its channel,
// the sender included. Channels live while they have subscribers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/connection"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/database"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/subscription"
)

const (
	maxFrameSize        = 64 * 1024
	closeGoingAway      = websocket.CloseGoingAway
	defaultWriteTimeout = 10 * time.Second
)

type Options struct {
	WriteTimeout time.Duration
	// PersistentSessions restores a reconnecting client's subscriptions
	// from Store before it sends its own Subscribe frames.
	PersistentSessions bool
	Store              database.SessionStore
}

type Server struct {
	opts        Options
	router      *mux.Router
	registry    *subscription.Registry
	connections *connection.ConnectionManager
	sender      connection.MessageSender
	upgrader    websocket.Upgrader
	nextConn    atomic.Uint64
}

func New(opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Store == nil {
		opts.Store = database.NewMemoryStore()
	}
	connections := connection.NewConnectionManager()
	s := &Server{
		opts:        opts,
		router:      mux.NewRouter(),
		registry:    subscription.NewRegistry(),
		connections: connections,
		sender:      connection.NewMessageSender(connections),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/queues/{server}/{session}/websocket", s.handleWebsocket).Methods(http.MethodGet)
	s.router.HandleFunc("/publish", s.handlePublish).Methods(http.MethodPost)
	s.router.HandleFunc("/channels/exists", s.handleExists).Methods(http.MethodGet)
	s.router.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)
	s.router.HandleFunc("/channels", s.handleCloseChannel).Methods(http.MethodDelete)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Registry() *subscription.Registry {
	return s.registry
}

func (s *Server) Connections() *connection.ConnectionManager {
	return s.connections
}

// Close closes every client connection with the going away code, so
// clients reconnect.
func (s *Server) Close() {
	s.connections.CloseAll(closeGoingAway, "server shutdown")
}

type ShutdownCallback struct {
	httpServer *http.Server
	server     *Server
}

func NewShutdownCallback(httpServer *http.Server, server *Server) *ShutdownCallback {
	return &ShutdownCallback{httpServer: httpServer, server: server}
}

func (sc *ShutdownCallback) Invoke(ctx context.Context) error {
	logger.Info("Shutting down broker")
	err := sc.httpServer.Shutdown(ctx)
	sc.server.Close()
	if err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
