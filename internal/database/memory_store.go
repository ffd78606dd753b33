package database

import (
	"context"
	"sync"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SessionData)}
}

func (ms *MemoryStore) GetSession(_ context.Context, clientID string) (*SessionData, error) {
	if clientID == "" {
		return nil, ErrClientIDEmpty
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	session, ok := ms.sessions[clientID]
	if !ok {
		logger.DebugF("Session does not exist for clientID %s", clientID)
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (ms *MemoryStore) SaveSession(_ context.Context, session *SessionData) error {
	if session == nil || session.ClientID == "" {
		return ErrClientIDEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[session.ClientID] = session.Clone()
	return nil
}

func (ms *MemoryStore) DeleteSession(_ context.Context, clientID string) error {
	if clientID == "" {
		return ErrClientIDEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.sessions, clientID)
	return nil
}
