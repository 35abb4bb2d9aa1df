// Package sim 定义战斗模拟引擎的边界：实体表、实体操作与战斗事件流。
// 流式核心只依赖本包的接口，便于在测试中用内存实现替换真实模拟。
package sim

import "time"

// Kind 实体类型
type Kind string

const (
	// KindBoss 头目实体（由图鉴模板生成的对抗方）
	KindBoss Kind = "boss"
	// KindFighter AI 战斗者实体（玩家方）
	KindFighter Kind = "fighter"
)

// EventType 战斗事件类型
type EventType string

const (
	EventEntityAdded EventType = "entity_added"
	EventEntityMoved EventType = "entity_moved"
	EventCombatHit   EventType = "combat_hit"
	EventCombatMiss  EventType = "combat_miss"
	EventEntityDeath EventType = "entity_death"
)

// Entity 模拟引擎中的实体
// 所有实体都必须携带所属对战 ID，事件按对战路由
type Entity struct {
	ID        string
	BattleID  int64
	Name      string
	Kind      Kind
	Level     int
	Health    int
	MaxHealth int
	X         float64
	Y         float64
	Size      float64
	InCombat  bool
	TargetID  string

	// 以下为引擎内部状态，不允许泄露给客户端
	Waypoints    []Waypoint
	AggroWeights map[string]float64
}

// Waypoint 寻路路径点（内部状态）
type Waypoint struct {
	X float64
	Y float64
}

// Alive 实体是否存活
func (e Entity) Alive() bool {
	return e.Health > 0
}

// Event 战斗事件
// Entity 是事件主体在发出时刻的快照；TargetID/Amount 仅部分事件类型有效
type Event struct {
	Type     EventType
	BattleID int64
	Entity   Entity
	TargetID string
	Amount   int
	At       time.Time
}

// Engine 战斗模拟引擎接口
type Engine interface {
	// AddEntity 添加实体并发出 entity_added 事件
	AddEntity(e Entity) error
	// RemoveEntity 移除实体，实体不存在时为空操作
	RemoveEntity(id string) error
	// Entity 查询实体快照
	Entity(id string) (Entity, bool)
	// EntitiesByBattle 查询某场对战的全部实体快照
	EntitiesByBattle(battleID int64) []Entity
	// Events 返回事件流，事件按发出顺序交付
	Events() <-chan Event
}
