package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/connection"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/database"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/frame"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
)

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientID := vars["server"] + vars["session"]

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("Upgrade failed for %s, details: %v", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	connID := fmt.Sprintf("%s#%d", clientID, s.nextConn.Add(1))
	conn := connection.NewConnection(ws, connID, clientID)
	s.connections.AddConnection(conn)
	go conn.WritePump(s.opts.WriteTimeout)

	if s.opts.PersistentSessions {
		s.restoreSession(r.Context(), conn)
	}

	defer func() {
		logger.DebugF("[%s] Connection closed", connID)
		removed := s.registry.RemoveConnection(connID)
		if len(removed) > 0 {
			logger.DebugF("[%s] Left channels %v", connID, removed)
		}
		s.connections.RemoveConnection(connID)
		conn.Close()
		if s.opts.PersistentSessions {
			s.updateSession(context.Background(), clientID, (*database.SessionData).Touch)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			connection.HandleReadError(connID, err)
			return
		}
		s.handleFrame(conn, string(data))
	}
}

func (s *Server) handleFrame(conn *connection.Connection, raw string) {
	f, ok := frame.Decode(raw)
	if !ok || !f.Type.Known() {
		logger.WarnF("[%s] Drop malformed frame %q", conn.ConnID, raw)
		return
	}
	logger.DebugF("[%s] Receive %s frame for %s", conn.ConnID, f.Type, f.Name)

	switch f.Type {
	case frame.Subscribe:
		s.registry.Subscribe(f.Name, conn.ConnID)
		if s.opts.PersistentSessions {
			s.updateSession(context.Background(), conn.ClientID, func(sd *database.SessionData) {
				sd.AddSubscription(f.Name)
			})
		}
	case frame.Unsubscribe:
		s.registry.Unsubscribe(f.Name, conn.ConnID)
		if s.opts.PersistentSessions {
			s.updateSession(context.Background(), conn.ClientID, func(sd *database.SessionData) {
				sd.RemoveSubscription(f.Name)
			})
		}
	case frame.Message:
		s.broadcast(f.Name, f.Payload)
	}
}

// broadcast sends payload to every subscriber of name and returns how many
// connections accepted it.
func (s *Server) broadcast(name, payload string) int {
	data := []byte(frame.Encode(frame.Message, name, payload))
	delivered := 0
	for _, connID := range s.registry.Subscribers(name) {
		if err := s.sender.SendMessage(connID, data); err != nil {
			continue
		}
		delivered++
	}
	return delivered
}

func (s *Server) restoreSession(ctx context.Context, conn *connection.Connection) {
	session, err := s.opts.Store.GetSession(ctx, conn.ClientID)
	if err != nil {
		logger.DebugF("[%s] No stored session: %v", conn.ConnID, err)
		return
	}
	for _, name := range session.Subscriptions {
		s.registry.Subscribe(name, conn.ConnID)
	}
	logger.InfoF("[%s] Restored %d subscriptions", conn.ConnID, len(session.Subscriptions))
}

func (s *Server) updateSession(ctx context.Context, clientID string, update func(*database.SessionData)) {
	session, err := s.opts.Store.GetSession(ctx, clientID)
	if err != nil {
		session = database.NewSessionData(clientID)
	}
	update(session)
	if err := s.opts.Store.SaveSession(ctx, session); err != nil {
		logger.WarnF("Fail to save session %s, details: %v", clientID, err)
	}
}
