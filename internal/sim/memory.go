package sim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/battlestream/pkg/logger"
)

var (
	// ErrEntityExists 实体已存在
	ErrEntityExists = errors.New("sim: entity already exists")
	// ErrEntityNotFound 实体不存在
	ErrEntityNotFound = errors.New("sim: entity not found")
)

// Config 内存引擎配置
type Config struct {
	// EventBuffer 事件通道缓冲大小
	EventBuffer int `mapstructure:"event_buffer" json:"event_buffer" yaml:"event_buffer"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		EventBuffer: 1024,
	}
}

// MemoryEngine 内存版战斗模拟引擎
// 持有实体表并在状态变化时发出事件；事件发出顺序即交付顺序
type MemoryEngine struct {
	logger logger.Logger

	mu       sync.RWMutex
	entities map[string]Entity

	// emitMu 串行化 emit 与 Close，保证不会向已关闭的通道发送
	emitMu  sync.Mutex
	events  chan Event
	dropped atomic.Int64
	closed  atomic.Bool
}

// NewMemoryEngine 创建内存引擎
func NewMemoryEngine(cfg *Config, l logger.Logger) *MemoryEngine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if l == nil {
		l = logger.Nop()
	}
	return &MemoryEngine{
		logger:   l.Named("sim"),
		entities: make(map[string]Entity),
		events:   make(chan Event, cfg.EventBuffer),
	}
}

// AddEntity 添加实体并发出 entity_added 事件
func (m *MemoryEngine) AddEntity(e Entity) error {
	m.mu.Lock()
	if _, ok := m.entities[e.ID]; ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrEntityExists, "id %s", e.ID)
	}
	if e.MaxHealth <= 0 {
		e.MaxHealth = e.Health
	}
	m.entities[e.ID] = e
	m.mu.Unlock()

	m.emit(Event{Type: EventEntityAdded, BattleID: e.BattleID, Entity: e})
	return nil
}

// RemoveEntity 移除实体，实体不存在时为空操作
func (m *MemoryEngine) RemoveEntity(id string) error {
	m.mu.Lock()
	delete(m.entities, id)
	m.mu.Unlock()
	return nil
}

// Entity 查询实体快照
func (m *MemoryEngine) Entity(id string) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	return e, ok
}

// EntitiesByBattle 查询某场对战的全部实体快照
func (m *MemoryEngine) EntitiesByBattle(battleID int64) []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entity, 0, 8)
	for _, e := range m.entities {
		if e.BattleID == battleID {
			out = append(out, e)
		}
	}
	return out
}

// Events 返回事件流
func (m *MemoryEngine) Events() <-chan Event {
	return m.events
}

// Move 移动实体并发出 entity_moved 事件
func (m *MemoryEngine) Move(id string, x, y float64) error {
	m.mu.Lock()
	e, ok := m.entities[id]
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrEntityNotFound, "id %s", id)
	}
	e.X, e.Y = x, y
	m.entities[id] = e
	m.mu.Unlock()

	m.emit(Event{Type: EventEntityMoved, BattleID: e.BattleID, Entity: e})
	return nil
}

// ApplyHit 对目标实体造成伤害，发出 combat_hit，目标死亡时追加 entity_death
func (m *MemoryEngine) ApplyHit(attackerID, targetID string, damage int) error {
	if damage < 0 {
		damage = 0
	}

	m.mu.Lock()
	attacker, ok := m.entities[attackerID]
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrEntityNotFound, "attacker %s", attackerID)
	}
	target, ok := m.entities[targetID]
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrEntityNotFound, "target %s", targetID)
	}

	target.Health -= damage
	if target.Health < 0 {
		target.Health = 0
	}
	died := target.Health == 0
	target.InCombat = !died
	if died {
		target.TargetID = ""
	}
	m.entities[targetID] = target

	attacker.InCombat = true
	attacker.TargetID = targetID
	m.entities[attackerID] = attacker
	m.mu.Unlock()

	m.emit(Event{Type: EventCombatHit, BattleID: target.BattleID, Entity: attacker, TargetID: targetID, Amount: damage})
	if died {
		m.emit(Event{Type: EventEntityDeath, BattleID: target.BattleID, Entity: target})
	}
	return nil
}

// Miss 攻击落空，发出 combat_miss 事件
func (m *MemoryEngine) Miss(attackerID, targetID string) error {
	m.mu.RLock()
	attacker, ok := m.entities[attackerID]
	m.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrEntityNotFound, "attacker %s", attackerID)
	}

	m.emit(Event{Type: EventCombatMiss, BattleID: attacker.BattleID, Entity: attacker, TargetID: targetID})
	return nil
}

// Dropped 返回因缓冲满而丢弃的事件数
func (m *MemoryEngine) Dropped() int64 {
	return m.dropped.Load()
}

// Close 关闭事件流，关闭后引擎不再可用
func (m *MemoryEngine) Close() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if m.closed.CompareAndSwap(false, true) {
		close(m.events)
	}
}

// emit 非阻塞发出事件，缓冲满时丢弃并计数
func (m *MemoryEngine) emit(ev Event) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if m.closed.Load() {
		return
	}
	ev.At = time.Now()

	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
		m.logger.Warn("sim event dropped: buffer full",
			"event_type", string(ev.Type),
			"battle_id", ev.BattleID,
		)
	}
}
