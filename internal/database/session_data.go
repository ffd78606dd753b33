package database

import (
	"slices"
	"time"
)

// SessionData 记录一个客户端订阅过的频道，用于断线重连后恢复
type SessionData struct {
	ClientID      string    `bson:"client_id"`
	Subscriptions []string  `bson:"subscriptions"` // 频道名，按订阅顺序
	LastSeen      time.Time `bson:"last_seen"`
}

func NewSessionData(clientID string) *SessionData {
	return &SessionData{
		ClientID:      clientID,
		Subscriptions: []string{},
		LastSeen:      time.Now(),
	}
}

// AddSubscription reports whether name was newly added.
func (session *SessionData) AddSubscription(name string) bool {
	if slices.Contains(session.Subscriptions, name) {
		return false
	}
	session.Subscriptions = append(session.Subscriptions, name)
	return true
}

// RemoveSubscription reports whether name was present.
func (session *SessionData) RemoveSubscription(name string) bool {
	before := len(session.Subscriptions)
	session.Subscriptions = slices.DeleteFunc(session.Subscriptions, func(s string) bool { return s == name })
	return len(session.Subscriptions) != before
}

func (session *SessionData) Touch() {
	session.LastSeen = time.Now()
}

func (session *SessionData) Clone() *SessionData {
	if session == nil {
		return nil
	}
	c := *session
	c.Subscriptions = slices.Clone(session.Subscriptions)
	return &c
}
