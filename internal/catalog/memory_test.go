package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetAndList(t *testing.T) {
	m := NewMemory(
		&Encounter{ID: "dragon", Name: "Ancient Dragon", Level: 12, Approved: true},
		&Encounter{ID: "slime", Name: "Giant Slime", Level: 2, Approved: false},
	)

	ctx := context.Background()

	e, err := m.Get(ctx, "dragon")
	require.NoError(t, err)
	assert.Equal(t, "Ancient Dragon", e.Name)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrEncounterNotFound)

	approved, err := m.ListApproved(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "dragon", approved[0].ID)

	// 返回的是副本，调用方修改不影响内部状态
	approved[0].Name = "mutated"
	e, err = m.Get(ctx, "dragon")
	require.NoError(t, err)
	assert.Equal(t, "Ancient Dragon", e.Name)
}

func TestMemory_History(t *testing.T) {
	m := NewMemory(&Encounter{ID: "dragon", Approved: true})
	ctx := context.Background()

	for i := 0; i < historyCap+10; i++ {
		err := m.ReportOutcome(ctx, &Outcome{
			EncounterID: "dragon",
			BattleID:    int64(i),
			Reason:      "players_won",
			Duration:    time.Duration(i) * time.Second,
			EndedAt:     time.Now(),
		})
		require.NoError(t, err)
	}

	history, err := m.History(ctx, "dragon")
	require.NoError(t, err)
	assert.Len(t, history, historyCap)

	// 按时间倒序，最新在前
	assert.Equal(t, int64(historyCap+9), history[0].BattleID)

	// 未知条目返回空列表
	empty, err := m.History(ctx, fmt.Sprintf("missing-%d", time.Now().Unix()))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
