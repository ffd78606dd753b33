// Package connection 实现了代理服务器的 websocket 连接管理
package connection

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
)

const sendBuffer = 256

var (
	ErrUnknownConnection = errors.New("connection does not exist")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrSendBufferFull    = errors.New("send buffer full")
)

// Connection 表示一个客户端 websocket 连接
type Connection struct {
	Conn     *websocket.Conn
	ConnID   string
	ClientID string

	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewConnection(conn *websocket.Conn, connID, clientID string) *Connection {
	return &Connection{
		Conn:     conn,
		ConnID:   connID,
		ClientID: clientID,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Enqueue hands data to the writer without blocking.
func (c *Connection) Enqueue(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// WritePump writes queued messages until the connection is closed. It is the
// only writer of data frames on Conn.
func (c *Connection) WritePump(writeTimeout time.Duration) {
	for {
		select {
		case data := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.ErrorF("[%s] Fail to send data, details: %v", c.ConnID, err)
				c.Close()
				return
			}
			logger.DebugF("[%s] Send %d bytes to client", c.ConnID, len(data))
		case <-c.done:
			return
		}
	}
}

// Close stops the writer and closes the socket.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if err := c.Conn.Close(); err != nil && !IsNetClosedError(err) {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", c.ConnID, err)
		}
	})
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ConnectionManager 连接管理器
type ConnectionManager struct {
	connections sync.Map
	count       atomic.Int64
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

// AddConnection 添加连接
func (cm *ConnectionManager) AddConnection(conn *Connection) {
	if _, loaded := cm.connections.Swap(conn.ConnID, conn); !loaded {
		cm.count.Add(1)
	}
	logger.InfoF("Client %s connected as %s", conn.ClientID, conn.ConnID)
}

// RemoveConnection 移除连接
func (cm *ConnectionManager) RemoveConnection(connID string) {
	if _, loaded := cm.connections.LoadAndDelete(connID); loaded {
		cm.count.Add(-1)
		logger.InfoF("Connection %s disconnected", connID)
	}
}

// GetConnection 获取连接
func (cm *ConnectionManager) GetConnection(connID string) (*Connection, bool) {
	if value, ok := cm.connections.Load(connID); ok {
		return value.(*Connection), true
	}
	return nil, false
}

func (cm *ConnectionManager) Count() int {
	return int(cm.count.Load())
}

// CloseAll closes every connection with code and reason.
func (cm *ConnectionManager) CloseAll(code int, reason string) {
	cm.connections.Range(func(_, value any) bool {
		conn := value.(*Connection)
		_ = conn.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		conn.Close()
		return true
	})
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func HandleReadError(connID string, err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		logger.InfoF("[%s] Client close connection: %s (%d)", connID, closeErr.Text, closeErr.Code)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		logger.InfoF("[%s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	case IsNetClosedError(err):
		logger.DebugF("[%s] Connection already closed", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading frame, details: %v", connID, err)
	}
}
