// pkg/websocket/connection.go
package websocket

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lk2023060901/battlestream/pkg/logger"
)

// Envelope 出站消息信封，统一以 JSON 文本帧下发
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ClientMessage 入站消息信封，Data 延迟到业务层解析
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Connection WebSocket 连接封装
// 写入统一经过发送队列由 WriteLoop 串行执行，入队顺序即下发顺序
type Connection struct {
	id   string
	conn *websocket.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration

	sendChan chan []byte

	logger logger.Logger

	closed     atomic.Bool
	closeChan  chan struct{}
	closeOnce  sync.Once
	closeError error

	remoteAddr  string
	connectedAt time.Time
}

// NewConnection 创建连接
func NewConnection(conn *websocket.Conn, cfg *ServerConfig, l logger.Logger) *Connection {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		sendChan:     make(chan []byte, cfg.SendQueueSize),
		logger:       l,
		closeChan:    make(chan struct{}),
		remoteAddr:   conn.RemoteAddr().String(),
		connectedAt:  time.Now(),
	}
}

// ID 返回连接 ID
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr 返回远程地址
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// ConnectedAt 返回连接建立时间
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// IsClosed 连接是否已关闭
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Send 非阻塞发送一条信封消息，队列满时返回 ErrSendQueueFull
func (c *Connection) Send(msgType string, data interface{}) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	raw, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		return err
	}

	select {
	case c.sendChan <- raw:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// ReadLoop 读取循环，每条入站帧交给 handler 处理
func (c *Connection) ReadLoop(handler func(*Connection, []byte)) {
	defer c.Close()

	for {
		if c.IsClosed() {
			return
		}

		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.IsClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if err == io.EOF {
				return
			}
			c.logger.Debug("websocket read error", "error", err, "conn_id", c.id)
			return
		}

		if handler != nil {
			handler(c, data)
		}
	}
}

// WriteLoop 写入循环，串行消费发送队列
func (c *Connection) WriteLoop() {
	defer c.Close()

	for {
		select {
		case raw, ok := <-c.sendChan:
			if !ok {
				return
			}
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.logger.Debug("websocket write error", "error", err, "conn_id", c.id)
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// Ping 发送 Ping 控制帧
func (c *Connection) Ping() error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	return c.conn.WriteControl(
		websocket.PingMessage,
		[]byte{},
		time.Now().Add(c.writeTimeout),
	)
}

// Close 关闭连接
func (c *Connection) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError 带错误关闭连接，重复调用为空操作
func (c *Connection) CloseWithError(err error) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeError = err
		close(c.closeChan)

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	})
	return nil
}

// CloseError 返回关闭原因
func (c *Connection) CloseError() error {
	return c.closeError
}
