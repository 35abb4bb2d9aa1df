// pkg/websocket/server.go
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/panjf2000/ants/v2"

	"github.com/lk2023060901/battlestream/pkg/logger"
)

// Handler 服务端事件回调
type Handler interface {
	// OnConnect 连接建立，返回错误则立即断开
	OnConnect(conn *Connection) error
	// OnMessage 收到一条入站帧
	OnMessage(conn *Connection, data []byte)
	// OnDisconnect 连接断开
	OnDisconnect(conn *Connection, err error)
}

// Server WebSocket 服务端
type Server struct {
	config   *ServerConfig
	upgrader *websocket.Upgrader
	logger   logger.Logger
	handler  Handler

	workerPool *ants.Pool

	mu      sync.RWMutex
	conns   map[string]*Connection
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewServer 创建服务端
func NewServer(cfg *ServerConfig, handler Handler, l logger.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Nop()
	}

	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = cfg.MaxConnections / 10
		if poolSize < 16 {
			poolSize = 16
		}
	}
	workerPool, err := ants.NewPool(poolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, errors.Wrap(err, "websocket: create worker pool")
	}

	s := &Server{
		config:     cfg,
		logger:     l.Named("websocket"),
		handler:    handler,
		workerPool: workerPool,
		conns:      make(map[string]*Connection),
		closeCh:    make(chan struct{}),
	}

	s.upgrader = &websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      cfg.CheckOrigin,
	}
	if s.upgrader.CheckOrigin == nil {
		s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return s, nil
}

// Handler 返回 http.Handler
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.ServeHTTP)
}

// ServeHTTP 实现 http.Handler 接口
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	full := len(s.conns) >= s.config.MaxConnections
	s.mu.RUnlock()

	if full {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	conn := NewConnection(wsConn, s.config, s.logger)
	if s.config.MaxMessageSize > 0 {
		wsConn.SetReadLimit(s.config.MaxMessageSize)
	}

	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()

	s.handleConnection(conn)
}

// handleConnection 处理一条连接直到断开
func (s *Server) handleConnection(conn *Connection) {
	s.wg.Add(1)
	defer s.wg.Done()

	if s.handler != nil {
		if err := s.handler.OnConnect(conn); err != nil {
			s.logger.Warn("websocket connect rejected", "error", err, "conn_id", conn.ID())
			s.removeConnection(conn, err)
			return
		}
	}

	conn.conn.SetPongHandler(func(string) error {
		if s.config.ReadTimeout > 0 {
			return conn.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		return nil
	})

	if err := s.workerPool.Submit(conn.WriteLoop); err != nil {
		s.logger.Warn("submit write loop failed", "error", err, "conn_id", conn.ID())
		s.removeConnection(conn, err)
		return
	}
	if s.config.PingInterval > 0 {
		if err := s.workerPool.Submit(func() { s.pingLoop(conn) }); err != nil {
			s.logger.Debug("submit ping loop failed", "error", err, "conn_id", conn.ID())
		}
	}

	conn.ReadLoop(func(c *Connection, data []byte) {
		if s.handler != nil {
			s.handler.OnMessage(c, data)
		}
	})

	s.removeConnection(conn, conn.CloseError())
}

// pingLoop 按配置间隔发送 Ping
func (s *Server) pingLoop(conn *Connection) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if conn.IsClosed() {
				return
			}
			if err := conn.Ping(); err != nil {
				conn.Close()
				return
			}
		case <-conn.closeChan:
			return
		case <-s.closeCh:
			return
		}
	}
}

// removeConnection 移除连接并触发断开回调
func (s *Server) removeConnection(conn *Connection, err error) {
	conn.Close()

	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()

	if s.handler != nil {
		s.handler.OnDisconnect(conn, err)
	}
}

// ConnectionCount 返回当前连接数
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close 关闭服务端及全部连接
func (s *Server) Close() error {
	return s.CloseWithContext(context.Background())
}

// CloseWithContext 带上下文关闭服务端
func (s *Server) CloseWithContext(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.workerPool.Release()
	return nil
}
