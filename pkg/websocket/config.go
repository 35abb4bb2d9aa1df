// pkg/websocket/config.go
package websocket

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// ServerConfig WebSocket 服务端配置
type ServerConfig struct {
	// ReadBufferSize 读缓冲大小
	ReadBufferSize int `mapstructure:"read_buffer_size" json:"read_buffer_size" yaml:"read_buffer_size"`
	// WriteBufferSize 写缓冲大小
	WriteBufferSize int `mapstructure:"write_buffer_size" json:"write_buffer_size" yaml:"write_buffer_size"`
	// HandshakeTimeout 握手超时
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout" yaml:"handshake_timeout"`
	// MaxMessageSize 单条入站消息大小上限（字节）
	MaxMessageSize int64 `mapstructure:"max_message_size" json:"max_message_size" yaml:"max_message_size"`
	// ReadTimeout 读超时
	ReadTimeout time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout 写超时
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
	// SendQueueSize 每连接发送队列长度
	SendQueueSize int `mapstructure:"send_queue_size" json:"send_queue_size" yaml:"send_queue_size"`
	// PingInterval Ping 发送间隔，0 表示不发送
	PingInterval time.Duration `mapstructure:"ping_interval" json:"ping_interval" yaml:"ping_interval"`
	// MaxConnections 连接数上限
	MaxConnections int `mapstructure:"max_connections" json:"max_connections" yaml:"max_connections"`
	// WorkerPoolSize 工作池大小，0 表示按连接数上限推算
	WorkerPoolSize int `mapstructure:"worker_pool_size" json:"worker_pool_size" yaml:"worker_pool_size"`

	// CheckOrigin 跨域检查，nil 表示放行全部来源
	CheckOrigin func(r *http.Request) bool `mapstructure:"-" json:"-" yaml:"-"`
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReadTimeout:      120 * time.Second,
		WriteTimeout:     10 * time.Second,
		SendQueueSize:    256,
		PingInterval:     30 * time.Second,
		MaxConnections:   10000,
	}
}

// Validate 校验配置
func (c *ServerConfig) Validate() error {
	if c.SendQueueSize <= 0 {
		return errors.New("websocket: send_queue_size must be positive")
	}
	if c.MaxConnections <= 0 {
		return errors.New("websocket: max_connections must be positive")
	}
	return nil
}
