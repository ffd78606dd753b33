package connection

import (
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
)

// MessageSender 消息发送器接口
type MessageSender interface {
	SendMessage(connID string, data []byte) error
}

// DefaultMessageSender 通过连接管理器把消息交给对应连接的写协程
type DefaultMessageSender struct {
	manager *ConnectionManager
}

func NewMessageSender(manager *ConnectionManager) MessageSender {
	return &DefaultMessageSender{manager: manager}
}

// SendMessage 发送消息到指定连接
func (s *DefaultMessageSender) SendMessage(connID string, data []byte) error {
	conn, ok := s.manager.GetConnection(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if err := conn.Enqueue(data); err != nil {
		logger.WarnF("[%s] Fail to queue data, details: %v", connID, err)
		return err
	}
	return nil
}
