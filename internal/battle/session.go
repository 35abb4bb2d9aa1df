// Package battle 实现对战会话状态机与生命周期管理。
package battle

import (
	"sync"
	"time"

	"github.com/lk2023060901/battlestream/internal/catalog"
	"github.com/lk2023060901/battlestream/internal/projection"
)

// Status 对战状态，只允许 starting → active → ended 单向迁移
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
)

// EndReason 对战结束原因，仅在 ended 状态下有值
type EndReason string

const (
	ReasonTimeout    EndReason = "timeout"
	ReasonPlayersWon EndReason = "players_won"
	ReasonBossWon    EndReason = "boss_won"
)

// Role 参战方角色
type Role string

const (
	// RoleAdversary 对抗方（头目）
	RoleAdversary Role = "adversary"
	// RoleOpponent 玩家方（AI 战斗者）
	RoleOpponent Role = "opponent"
)

// Participant 参战实体
type Participant struct {
	EntityID string `json:"entityId"`
	Role     Role   `json:"role"`
}

// Summary 对战摘要，用于对战列表与欢迎消息
type Summary struct {
	BattleID      int64      `json:"battleId"`
	EncounterID   string     `json:"encounterId"`
	EncounterName string     `json:"encounterName"`
	Level         int        `json:"level"`
	Status        Status     `json:"status"`
	EndReason     EndReason  `json:"endReason,omitempty"`
	ViewerCount   int        `json:"viewerCount"`
	EventCount    int64      `json:"eventCount"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// StateSnapshot 订阅时下发的完整状态快照
type StateSnapshot struct {
	BattleID      int64                   `json:"battleId"`
	EncounterID   string                  `json:"encounterId"`
	EncounterName string                  `json:"encounterName"`
	Level         int                     `json:"level"`
	Status        Status                  `json:"status"`
	EndReason     EndReason               `json:"endReason,omitempty"`
	Participants  []projection.EntityView `json:"participants"`
	RecentEvents  []projection.EventView  `json:"recentEvents"`
	ViewerCount   int                     `json:"viewerCount"`
	StartedAt     time.Time               `json:"startedAt"`
}

// Session 单场对战会话
// 状态迁移、观战计数和事件日志都在会话自身的锁内维护
type Session struct {
	mu sync.Mutex

	id             int64
	encounterID    string
	encounterName  string
	encounterLevel int
	stats          catalog.Stats

	status    Status
	endReason EndReason
	startedAt time.Time
	endedAt   time.Time

	participants []Participant

	viewers    int
	eventCount int64
	events     []projection.EventView
	eventCap   int

	timeoutTimer *time.Timer
	evictTimer   *time.Timer
}

func newSession(id int64, enc *catalog.Encounter, eventCap int) *Session {
	return &Session{
		id:             id,
		encounterID:    enc.ID,
		encounterName:  enc.Name,
		encounterLevel: enc.Level,
		stats:          enc.Stats,
		status:         StatusStarting,
		startedAt:      time.Now(),
		eventCap:       eventCap,
	}
}

// ID 返回会话 ID
func (s *Session) ID() int64 {
	return s.id
}

// EncounterID 返回来源图鉴条目 ID
func (s *Session) EncounterID() string {
	return s.encounterID
}

// Status 返回当前状态
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// EndReason 返回结束原因，未结束时为空
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Participants 返回参战实体列表副本
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// ViewerCount 返回当前观战人数
func (s *Session) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewers
}

// EventCount 返回累计事件数
func (s *Session) EventCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventCount
}

// Summary 返回对战摘要
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{
		BattleID:      s.id,
		EncounterID:   s.encounterID,
		EncounterName: s.encounterName,
		Level:         s.encounterLevel,
		Status:        s.status,
		EndReason:     s.endReason,
		ViewerCount:   s.viewers,
		EventCount:    s.eventCount,
		StartedAt:     s.startedAt,
	}
	if !s.endedAt.IsZero() {
		endedAt := s.endedAt
		summary.EndedAt = &endedAt
	}
	return summary
}

// setParticipants 记录参战实体（仅在启动阶段调用一次）
func (s *Session) setParticipants(list []Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = list
}

// setTimeoutTimer 挂接超时定时器
func (s *Session) setTimeoutTimer(t *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutTimer = t
}

// setEvictTimer 挂接淘汰定时器
func (s *Session) setEvictTimer(t *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictTimer = t
}

// markActive 迁移 starting → active，重复调用为空操作
func (s *Session) markActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusStarting {
		return false
	}
	s.status = StatusActive
	return true
}

// end 迁移到 ended，返回是否由本次调用完成迁移及对战时长
// 状态守卫保证每场对战只有一次有效结束；超时定时器在同一临界区内停止，
// 使取消与触发互斥
func (s *Session) end(reason EndReason) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return false, 0
	}
	s.status = StatusEnded
	s.endReason = reason
	s.endedAt = time.Now()

	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}

	return true, s.endedAt.Sub(s.startedAt)
}

// AddViewer 观战人数加一，返回新值
func (s *Session) AddViewer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers++
	return s.viewers
}

// RemoveViewer 观战人数减一，下界为 0，返回新值
func (s *Session) RemoveViewer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewers > 0 {
		s.viewers--
	}
	return s.viewers
}

// appendEvent 追加事件到有界日志并累计事件数
func (s *Session) appendEvent(ev projection.EventView) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventCount++
	s.events = append(s.events, ev)
	if s.eventCap > 0 && len(s.events) > s.eventCap {
		s.events = s.events[len(s.events)-s.eventCap:]
	}
}

// RecentEvents 返回有界事件日志副本（迟到观战者补看用）
func (s *Session) RecentEvents() []projection.EventView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]projection.EventView, len(s.events))
	copy(out, s.events)
	return out
}

// snapshotBase 在锁内取快照的会话侧字段
func (s *Session) snapshotBase() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StateSnapshot{
		BattleID:      s.id,
		EncounterID:   s.encounterID,
		EncounterName: s.encounterName,
		Level:         s.encounterLevel,
		Status:        s.status,
		EndReason:     s.endReason,
		ViewerCount:   s.viewers,
		StartedAt:     s.startedAt,
	}
	snap.RecentEvents = make([]projection.EventView, len(s.events))
	copy(snap.RecentEvents, s.events)
	return snap
}

// stopTimers 停止全部定时器（淘汰时调用）
func (s *Session) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
	if s.evictTimer != nil {
		s.evictTimer.Stop()
		s.evictTimer = nil
	}
}
