package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/database"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/frame"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
)

const maxPublishBody = 1 << 20

type existsResponse struct {
	Exists bool `json:"exists"`
}

type channelsResponse struct {
	Exists []string `json:"exists"`
}

type publishResponse struct {
	Delivered int `json:"delivered"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnF("Fail to write response, details: %v", err)
	}
}

func requireTopic(w http.ResponseWriter, r *http.Request) (string, bool) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "Error: bad request. topic is required.", http.StatusBadRequest)
		return "", false
	}
	return topic, true
}

// handlePublish forwards the JSON body as the payload of a msg frame.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	topic, ok := requireTopic(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPublishBody+1))
	if err != nil {
		http.Error(w, "Error: bad request. "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxPublishBody {
		http.Error(w, "Error: message too large.", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "Error: bad request. body must be JSON.", http.StatusBadRequest)
		return
	}
	delivered := s.broadcast(frame.EscapeName(topic), string(body))
	logger.DebugF("Published to %s, delivered to %d connections", topic, delivered)
	writeJSON(w, http.StatusOK, publishResponse{Delivered: delivered})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	topic, ok := requireTopic(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, existsResponse{Exists: s.registry.Exists(frame.EscapeName(topic))})
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.Names()
	topics := make([]string, 0, len(names))
	for _, name := range names {
		topics = append(topics, frame.UnescapeName(name))
	}
	writeJSON(w, http.StatusOK, channelsResponse{Exists: topics})
}

// handleCloseChannel unsubscribes every subscriber of the topic from the
// broker side.
func (s *Server) handleCloseChannel(w http.ResponseWriter, r *http.Request) {
	topic, ok := requireTopic(w, r)
	if !ok {
		return
	}
	name := frame.EscapeName(topic)
	unsubscribe := []byte(frame.Encode(frame.Unsubscribe, name, ""))
	subscribers := s.registry.Drop(name)
	for _, connID := range subscribers {
		_ = s.sender.SendMessage(connID, unsubscribe)
		if s.opts.PersistentSessions {
			if conn, ok := s.connections.GetConnection(connID); ok {
				s.updateSession(r.Context(), conn.ClientID, func(sd *database.SessionData) {
					sd.RemoveSubscription(name)
				})
			}
		}
	}
	logger.InfoF("Channel %s closed, %d subscribers notified", topic, len(subscribers))
	w.WriteHeader(http.StatusNoContent)
}
