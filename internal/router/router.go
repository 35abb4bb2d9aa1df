// Package router 实现对战消息的订阅管理与有序扇出。
package router

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/battlestream/internal/battle"
	"github.com/lk2023060901/battlestream/internal/metrics"
	"github.com/lk2023060901/battlestream/pkg/logger"
)

var (
	// ErrConnNotRegistered 连接未注册
	ErrConnNotRegistered = errors.New("router: connection not registered")
	// ErrTooManyViewers 对战订阅数达到上限
	ErrTooManyViewers = errors.New("router: too many viewers")
)

// Conn 路由器侧的连接抽象
// Send 必须是非阻塞的：实现方应把消息放入发送队列，队列满时返回错误
type Conn interface {
	ID() string
	Send(msgType string, data interface{}) error
	Close() error
}

// Config 路由器配置
type Config struct {
	// MaxViewersPerBattle 单场对战的订阅数上限
	MaxViewersPerBattle int `mapstructure:"max_viewers_per_battle" json:"max_viewers_per_battle" yaml:"max_viewers_per_battle"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxViewersPerBattle: 1024,
	}
}

// Router 广播路由器
// 订阅表在单把锁内维护，Route/BroadcastAll 在锁内按序入队，
// 保证同一对战的消息对每个订阅者按到达顺序交付
type Router struct {
	cfg     *Config
	logger  logger.Logger
	metrics *metrics.Metrics
	manager *battle.Manager

	mu     sync.Mutex
	conns  map[string]Conn
	subs   map[int64]map[string]Conn     // battleID → connID → conn
	byConn map[string]map[int64]struct{} // connID → 订阅的对战集合
}

var _ battle.Publisher = (*Router)(nil)

// New 创建路由器
func New(cfg *Config, manager *battle.Manager, l logger.Logger, m *metrics.Metrics) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxViewersPerBattle <= 0 {
		cfg.MaxViewersPerBattle = DefaultConfig().MaxViewersPerBattle
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Router{
		cfg:     cfg,
		logger:  l.Named("router"),
		metrics: m,
		manager: manager,
		conns:   make(map[string]Conn),
		subs:    make(map[int64]map[string]Conn),
		byConn:  make(map[string]map[int64]struct{}),
	}
}

// Register 注册连接
func (r *Router) Register(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()

	r.metrics.OnConnectionOpened()
	r.logger.Debug("connection registered", "conn_id", conn.ID())
}

// Disconnect 注销连接并清理其全部订阅
func (r *Router) Disconnect(connID string) {
	r.mu.Lock()
	removed := r.disconnectLocked(connID)
	r.mu.Unlock()

	if removed {
		r.metrics.OnConnectionClosed()
		r.logger.Debug("connection removed", "conn_id", connID)
	}
}

// disconnectLocked 在锁内移除连接及其订阅，返回连接是否存在
func (r *Router) disconnectLocked(connID string) bool {
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	delete(r.conns, connID)

	battles := r.byConn[connID]
	delete(r.byConn, connID)
	for battleID := range battles {
		if set, ok := r.subs[battleID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.subs, battleID)
			}
		}
		r.manager.RemoveViewer(battleID)
	}
	r.metrics.OnUnsubscribe(len(battles))
	return true
}

// Subscribe 订阅一场对战并同步下发状态快照
// 快照发送与订阅登记在同一临界区内完成，订阅者不会漏掉
// 快照之后路由的任何事件
func (r *Router) Subscribe(connID string, battleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return errors.Wrapf(ErrConnNotRegistered, "conn %s", connID)
	}

	set := r.subs[battleID]
	if set != nil {
		if _, dup := set[connID]; dup {
			// 重复订阅为空操作，重发一次快照
			return r.sendSnapshotLocked(conn, battleID)
		}
		if len(set) >= r.cfg.MaxViewersPerBattle {
			return errors.Wrapf(ErrTooManyViewers, "battle %d", battleID)
		}
	}

	snap, err := r.manager.Snapshot(battleID)
	if err != nil {
		return err
	}

	if set == nil {
		set = make(map[string]Conn)
		r.subs[battleID] = set
	}
	set[connID] = conn

	if r.byConn[connID] == nil {
		r.byConn[connID] = make(map[int64]struct{})
	}
	r.byConn[connID][battleID] = struct{}{}

	viewers, _ := r.manager.AddViewer(battleID)
	snap.ViewerCount = viewers

	r.metrics.OnSubscribe()
	r.logger.Info("viewer subscribed", "conn_id", connID, "battle_id", battleID, "viewers", viewers)

	if err := conn.Send("battle_state", snap); err != nil {
		r.dropConnLocked(connID, err)
		return err
	}
	return nil
}

// sendSnapshotLocked 在锁内向已订阅连接重发快照
func (r *Router) sendSnapshotLocked(conn Conn, battleID int64) error {
	snap, err := r.manager.Snapshot(battleID)
	if err != nil {
		return err
	}
	return conn.Send("battle_state", snap)
}

// Unsubscribe 解除订阅，未订阅时为空操作
func (r *Router) Unsubscribe(connID string, battleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[battleID]
	if !ok {
		return
	}
	if _, ok := set[connID]; !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.subs, battleID)
	}
	if battles := r.byConn[connID]; battles != nil {
		delete(battles, battleID)
	}

	r.manager.RemoveViewer(battleID)
	r.metrics.OnUnsubscribe(1)
	r.logger.Info("viewer unsubscribed", "conn_id", connID, "battle_id", battleID)
}

// Route 向某场对战的订阅者投递消息
// 单个连接投递失败只摘除该连接，不影响其他订阅者
func (r *Router) Route(battleID int64, msgType string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[battleID]
	if !ok || len(set) == 0 {
		return
	}

	var failed []string
	for connID, conn := range set {
		if err := conn.Send(msgType, data); err != nil {
			failed = append(failed, connID)
		}
	}
	for _, connID := range failed {
		r.dropConnLocked(connID, errors.New("router: send queue full"))
	}

	r.metrics.OnEventRouted()
}

// BroadcastAll 向所有连接广播消息
func (r *Router) BroadcastAll(msgType string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []string
	for connID, conn := range r.conns {
		if err := conn.Send(msgType, data); err != nil {
			failed = append(failed, connID)
		}
	}
	for _, connID := range failed {
		r.dropConnLocked(connID, errors.New("router: send queue full"))
	}
}

// dropConnLocked 在锁内摘除投递失败的连接并异步关闭对端，
// 让其读循环观察到关闭后重连，而不是挂在一条再也收不到消息的连接上
func (r *Router) dropConnLocked(connID string, cause error) {
	r.metrics.OnSendFailure()
	r.logger.Warn("dropping slow connection", "conn_id", connID, "error", cause)

	conn, ok := r.conns[connID]
	if r.disconnectLocked(connID) {
		r.metrics.OnConnectionClosed()
	}
	if ok {
		go func() { _ = conn.Close() }()
	}
}

// Subscribers 返回某场对战当前的订阅数
func (r *Router) Subscribers(battleID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[battleID])
}

// Connections 返回当前注册的连接数
func (r *Router) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
