// pkg/websocket/errors.go
package websocket

import "github.com/cockroachdb/errors"

var (
	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("websocket: connection closed")
	// ErrSendQueueFull 发送队列已满
	ErrSendQueueFull = errors.New("websocket: send queue full")
	// ErrServerClosed 服务端已关闭
	ErrServerClosed = errors.New("websocket: server closed")
	// ErrTooManyConnections 连接数达到上限
	ErrTooManyConnections = errors.New("websocket: too many connections")
)
