package database

import (
	"context"
	"errors"
)

const SessionCollectionName = "sessions"

var (
	ErrClientIDEmpty   = errors.New("client_id is empty")
	ErrSessionNotFound = errors.New("session does not exist")
)

// SessionStore 保存代理端的客户端会话
type SessionStore interface {
	GetSession(ctx context.Context, clientID string) (*SessionData, error)
	SaveSession(ctx context.Context, session *SessionData) error
	DeleteSession(ctx context.Context, clientID string) error
}
