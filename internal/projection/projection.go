// Package projection 把模拟引擎的实体和事件裁剪为客户端可见的最小投影。
// 纯函数实现，不产生副作用；上游字段缺失时退化为零值而不是报错。
package projection

import (
	"time"

	"github.com/lk2023060901/battlestream/internal/sim"
)

// EntityView 实体投影，仅包含客户端渲染所需字段
// 引擎内部状态（寻路路径、仇恨权重）一律不出现在投影中
type EntityView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Level     int     `json:"level,omitempty"`
	Health    int     `json:"health"`
	MaxHealth int     `json:"maxHealth"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Size      float64 `json:"size,omitempty"`
	InCombat  bool    `json:"inCombat"`
	TargetID  string  `json:"targetId,omitempty"`
}

// EventView 事件投影
type EventView struct {
	BattleID  int64       `json:"battleId"`
	EventType string      `json:"eventType"`
	Entity    *EntityView `json:"entity,omitempty"`
	TargetID  string      `json:"targetId,omitempty"`
	Amount    int         `json:"amount,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Entity 投影单个实体
func Entity(e sim.Entity) EntityView {
	health := e.Health
	if health < 0 {
		health = 0
	}
	maxHealth := e.MaxHealth
	if maxHealth < health {
		maxHealth = health
	}

	return EntityView{
		ID:        e.ID,
		Name:      e.Name,
		Kind:      string(e.Kind),
		Level:     e.Level,
		Health:    health,
		MaxHealth: maxHealth,
		X:         e.X,
		Y:         e.Y,
		Size:      e.Size,
		InCombat:  e.InCombat,
		TargetID:  e.TargetID,
	}
}

// Entities 投影实体列表
func Entities(list []sim.Entity) []EntityView {
	out := make([]EntityView, 0, len(list))
	for _, e := range list {
		out = append(out, Entity(e))
	}
	return out
}

// Event 投影单个事件
func Event(ev sim.Event) EventView {
	view := EventView{
		BattleID:  ev.BattleID,
		EventType: string(ev.Type),
		TargetID:  ev.TargetID,
		Amount:    ev.Amount,
		Timestamp: ev.At,
	}
	if ev.At.IsZero() {
		view.Timestamp = time.Now()
	}

	if ev.Entity.ID != "" {
		entity := Entity(ev.Entity)
		view.Entity = &entity
	}
	return view
}
