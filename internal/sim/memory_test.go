package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			t.Fatalf("expected %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestMemoryEngine_Entities(t *testing.T) {
	engine := NewMemoryEngine(nil, nil)
	defer engine.Close()

	err := engine.AddEntity(Entity{ID: "boss-1", BattleID: 7, Kind: KindBoss, Health: 100})
	require.NoError(t, err)

	// 重复添加报错
	err = engine.AddEntity(Entity{ID: "boss-1", BattleID: 7})
	assert.ErrorIs(t, err, ErrEntityExists)

	e, ok := engine.Entity("boss-1")
	require.True(t, ok)
	assert.Equal(t, 100, e.Health)
	assert.Equal(t, 100, e.MaxHealth) // MaxHealth 缺省取 Health
	assert.True(t, e.Alive())

	require.NoError(t, engine.AddEntity(Entity{ID: "fighter-1", BattleID: 7, Kind: KindFighter, Health: 50}))
	require.NoError(t, engine.AddEntity(Entity{ID: "other", BattleID: 8, Health: 10}))

	assert.Len(t, engine.EntitiesByBattle(7), 2)
	assert.Len(t, engine.EntitiesByBattle(8), 1)

	// 移除后查询不到，重复移除为空操作
	require.NoError(t, engine.RemoveEntity("other"))
	require.NoError(t, engine.RemoveEntity("other"))
	_, ok = engine.Entity("other")
	assert.False(t, ok)
}

func TestMemoryEngine_Combat(t *testing.T) {
	engine := NewMemoryEngine(nil, nil)
	defer engine.Close()

	require.NoError(t, engine.AddEntity(Entity{ID: "boss-1", BattleID: 1, Kind: KindBoss, Health: 30}))
	require.NoError(t, engine.AddEntity(Entity{ID: "fighter-1", BattleID: 1, Kind: KindFighter, Health: 50}))
	drain(t, engine.Events(), 2) // entity_added x2

	t.Run("hit reduces health", func(t *testing.T) {
		require.NoError(t, engine.ApplyHit("fighter-1", "boss-1", 10))

		events := drain(t, engine.Events(), 1)
		assert.Equal(t, EventCombatHit, events[0].Type)
		assert.Equal(t, int64(1), events[0].BattleID)
		assert.Equal(t, "fighter-1", events[0].Entity.ID)
		assert.Equal(t, "boss-1", events[0].TargetID)
		assert.Equal(t, 10, events[0].Amount)

		e, _ := engine.Entity("boss-1")
		assert.Equal(t, 20, e.Health)
	})

	t.Run("lethal hit emits death after hit", func(t *testing.T) {
		require.NoError(t, engine.ApplyHit("fighter-1", "boss-1", 100))

		events := drain(t, engine.Events(), 2)
		assert.Equal(t, EventCombatHit, events[0].Type)
		assert.Equal(t, EventEntityDeath, events[1].Type)
		assert.Equal(t, "boss-1", events[1].Entity.ID)

		e, _ := engine.Entity("boss-1")
		assert.Equal(t, 0, e.Health)
		assert.False(t, e.Alive())
	})

	t.Run("miss and move", func(t *testing.T) {
		require.NoError(t, engine.Miss("fighter-1", "boss-1"))
		require.NoError(t, engine.Move("fighter-1", 3, 4))

		events := drain(t, engine.Events(), 2)
		assert.Equal(t, EventCombatMiss, events[0].Type)
		assert.Equal(t, EventEntityMoved, events[1].Type)
		assert.Equal(t, float64(3), events[1].Entity.X)
	})

	t.Run("unknown entity errors", func(t *testing.T) {
		assert.ErrorIs(t, engine.ApplyHit("nope", "boss-1", 1), ErrEntityNotFound)
		assert.ErrorIs(t, engine.ApplyHit("fighter-1", "nope", 1), ErrEntityNotFound)
		assert.ErrorIs(t, engine.Move("nope", 0, 0), ErrEntityNotFound)
	})
}

func TestMemoryEngine_CloseDuringEmit(t *testing.T) {
	engine := NewMemoryEngine(&Config{EventBuffer: 2}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = engine.AddEntity(Entity{ID: fmt.Sprintf("e-%d", i), BattleID: 1, Health: 1})
		}
	}()

	// 生产者仍在发事件时关闭，不允许出现向已关闭通道发送
	engine.Close()
	<-done

	// 关闭后的发出为空操作
	require.NoError(t, engine.AddEntity(Entity{ID: "late", BattleID: 1, Health: 1}))
}

func TestMemoryEngine_DropWhenFull(t *testing.T) {
	engine := NewMemoryEngine(&Config{EventBuffer: 1}, nil)
	defer engine.Close()

	require.NoError(t, engine.AddEntity(Entity{ID: "a", BattleID: 1, Health: 10}))
	require.NoError(t, engine.AddEntity(Entity{ID: "b", BattleID: 1, Health: 10}))

	assert.Equal(t, int64(1), engine.Dropped())
}
