package database

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore 在任意 SessionStore 前加一层带过期时间的 LRU 读缓存
type CachedStore struct {
	backend SessionStore
	cache   *expirable.LRU[string, *SessionData]
}

func NewCachedStore(backend SessionStore, size int, ttl time.Duration) *CachedStore {
	if size <= 0 {
		size = 1024
	}
	return &CachedStore{
		backend: backend,
		cache:   expirable.NewLRU[string, *SessionData](size, nil, ttl),
	}
}

func (cs *CachedStore) GetSession(ctx context.Context, clientID string) (*SessionData, error) {
	if session, ok := cs.cache.Get(clientID); ok {
		return session.Clone(), nil
	}
	session, err := cs.backend.GetSession(ctx, clientID)
	if err != nil {
		return nil, err
	}
	cs.cache.Add(clientID, session.Clone())
	return session, nil
}

func (cs *CachedStore) SaveSession(ctx context.Context, session *SessionData) error {
	if err := cs.backend.SaveSession(ctx, session); err != nil {
		cs.cache.Remove(session.ClientID)
		return err
	}
	cs.cache.Add(session.ClientID, session.Clone())
	return nil
}

func (cs *CachedStore) DeleteSession(ctx context.Context, clientID string) error {
	cs.cache.Remove(clientID)
	return cs.backend.DeleteSession(ctx, clientID)
}

func (cs *CachedStore) Len() int {
	return cs.cache.Len()
}
