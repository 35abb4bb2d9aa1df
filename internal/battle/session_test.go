package battle

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/battlestream/internal/catalog"
	"github.com/lk2023060901/battlestream/internal/projection"
)

func testEncounter() *catalog.Encounter {
	return &catalog.Encounter{
		ID:       "dragon",
		Name:     "Ember Dragon",
		Level:    5,
		Stats:    catalog.Stats{Health: 50, Attack: 8, Defense: 3},
		Approved: true,
	}
}

func TestSession_StatusTransitions(t *testing.T) {
	s := newSession(1, testEncounter(), 16)
	assert.Equal(t, StatusStarting, s.Status())

	assert.True(t, s.markActive())
	assert.Equal(t, StatusActive, s.Status())
	assert.False(t, s.markActive())

	ok, duration := s.end(ReasonPlayersWon)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, duration, time.Duration(0))
	assert.Equal(t, StatusEnded, s.Status())
	assert.Equal(t, ReasonPlayersWon, s.EndReason())
}

func TestSession_EndExactlyOnce(t *testing.T) {
	s := newSession(1, testEncounter(), 16)
	s.markActive()

	ok, _ := s.end(ReasonTimeout)
	require.True(t, ok)

	// 第二次结束尝试必须失败，原因保持首次的值
	ok, _ = s.end(ReasonPlayersWon)
	assert.False(t, ok)
	assert.Equal(t, ReasonTimeout, s.EndReason())
}

func TestSession_EndStopsTimeoutTimer(t *testing.T) {
	s := newSession(1, testEncounter(), 16)
	s.markActive()

	fired := make(chan struct{}, 1)
	s.setTimeoutTimer(time.AfterFunc(50*time.Millisecond, func() {
		fired <- struct{}{}
	}))

	ok, _ := s.end(ReasonPlayersWon)
	require.True(t, ok)

	select {
	case <-fired:
		t.Fatal("timeout timer fired after battle ended")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_ViewerCount(t *testing.T) {
	s := newSession(1, testEncounter(), 16)

	assert.Equal(t, 1, s.AddViewer())
	assert.Equal(t, 2, s.AddViewer())
	assert.Equal(t, 1, s.RemoveViewer())
	assert.Equal(t, 0, s.RemoveViewer())
	// 下界为 0
	assert.Equal(t, 0, s.RemoveViewer())
}

func TestSession_EventLogBounded(t *testing.T) {
	s := newSession(1, testEncounter(), 4)

	for i := 0; i < 10; i++ {
		s.appendEvent(projection.EventView{EventType: fmt.Sprintf("ev-%d", i)})
	}

	events := s.RecentEvents()
	require.Len(t, events, 4)
	assert.Equal(t, "ev-6", events[0].EventType)
	assert.Equal(t, "ev-9", events[3].EventType)
	assert.Equal(t, int64(10), s.EventCount())
}

func TestSession_Summary(t *testing.T) {
	s := newSession(7, testEncounter(), 16)
	s.markActive()
	s.AddViewer()

	summary := s.Summary()
	assert.Equal(t, int64(7), summary.BattleID)
	assert.Equal(t, "dragon", summary.EncounterID)
	assert.Equal(t, "Ember Dragon", summary.EncounterName)
	assert.Equal(t, StatusActive, summary.Status)
	assert.Equal(t, 1, summary.ViewerCount)
	assert.Nil(t, summary.EndedAt)

	s.end(ReasonBossWon)
	summary = s.Summary()
	assert.Equal(t, StatusEnded, summary.Status)
	assert.Equal(t, ReasonBossWon, summary.EndReason)
	require.NotNil(t, summary.EndedAt)
}
