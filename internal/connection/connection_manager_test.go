package connection

import (
	"errors"
	"testing"
)

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	a := NewConnection(nil, "a#1", "a")
	cm.AddConnection(a)
	cm.AddConnection(a)
	if cm.Count() != 1 {
		t.Fatalf("expected one connection, got %d", cm.Count())
	}
	if got, ok := cm.GetConnection("a#1"); !ok || got != a {
		t.Fatal("connection not found")
	}
	cm.RemoveConnection("a#1")
	cm.RemoveConnection("a#1")
	if cm.Count() != 0 {
		t.Fatalf("expected no connections, got %d", cm.Count())
	}
}

func TestMessageSender(t *testing.T) {
	cm := NewConnectionManager()
	sender := NewMessageSender(cm)
	if err := sender.SendMessage("missing", []byte("x")); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}

	conn := NewConnection(nil, "a#1", "a")
	cm.AddConnection(conn)
	for i := 0; i < sendBuffer; i++ {
		if err := sender.SendMessage("a#1", []byte("x")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := sender.SendMessage("a#1", []byte("x")); !errors.Is(err, ErrSendBufferFull) {
		t.Fatalf("expected ErrSendBufferFull, got %v", err)
	}
}
