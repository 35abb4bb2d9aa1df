package battle

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/battlestream/internal/catalog"
	"github.com/lk2023060901/battlestream/internal/metrics"
	"github.com/lk2023060901/battlestream/internal/projection"
	"github.com/lk2023060901/battlestream/internal/sim"
	"github.com/lk2023060901/battlestream/pkg/idgen"
	"github.com/lk2023060901/battlestream/pkg/logger"
)

var (
	// ErrBattleNotFound 对战不存在（不在活跃表或淘汰宽限期内）
	ErrBattleNotFound = errors.New("battle: battle not found")
	// ErrEncounterNotFound 图鉴条目不存在或未审核通过
	ErrEncounterNotFound = errors.New("battle: encounter not found")
)

// Trigger 对战触发来源
type Trigger string

const (
	TriggerClient    Trigger = "client"
	TriggerAutoQueue Trigger = "auto_queue"
)

// Publisher 事件发布接口，由广播路由器实现
type Publisher interface {
	// Route 向某场对战的订阅者投递消息
	Route(battleID int64, msgType string, data interface{})
	// BroadcastAll 向所有连接广播消息
	BroadcastAll(msgType string, data interface{})
}

// Options 开战选项
type Options struct {
	// Opponents 玩家方 AI 战斗者数量，0 表示取默认值
	Opponents int `json:"opponents"`
}

// EndNotice 对战结束通知
type EndNotice struct {
	BattleID int64     `json:"battleId"`
	Reason   EndReason `json:"reason"`
	// Duration 对战时长（秒）
	Duration float64 `json:"duration"`
	Winner   string  `json:"winner,omitempty"`
}

// Config 生命周期管理器配置
type Config struct {
	// MaxDuration 对战最长持续时间，超时自动结束
	MaxDuration time.Duration `mapstructure:"max_duration" json:"max_duration" yaml:"max_duration"`
	// EvictionGrace 对战结束后保留在活跃表中的宽限时间
	EvictionGrace time.Duration `mapstructure:"eviction_grace" json:"eviction_grace" yaml:"eviction_grace"`
	// DefaultOpponents 默认玩家方战斗者数量
	DefaultOpponents int `mapstructure:"default_opponents" json:"default_opponents" yaml:"default_opponents"`
	// LevelBand 战斗者等级相对头目等级的随机浮动范围
	LevelBand int `mapstructure:"level_band" json:"level_band" yaml:"level_band"`
	// EventLogCap 每场对战保留的事件日志条数
	EventLogCap int `mapstructure:"event_log_cap" json:"event_log_cap" yaml:"event_log_cap"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxDuration:      300 * time.Second,
		EvictionGrace:    30 * time.Second,
		DefaultOpponents: 3,
		LevelBand:        2,
		EventLogCap:      128,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.MaxDuration <= 0 {
		return errors.New("battle: max_duration must be positive")
	}
	if c.EvictionGrace < 0 {
		return errors.New("battle: eviction_grace must not be negative")
	}
	if c.DefaultOpponents <= 0 {
		return errors.New("battle: default_opponents must be positive")
	}
	return nil
}

// Manager 对战生命周期管理器
// 持有活跃会话表，消费模拟事件流，驱动开战、结束判定、超时与淘汰
type Manager struct {
	cfg     *Config
	logger  logger.Logger
	metrics *metrics.Metrics

	engine  sim.Engine
	catalog catalog.Catalog
	idgen   idgen.Generator

	mu       sync.RWMutex
	sessions map[int64]*Session
	pub      Publisher
}

// NewManager 创建生命周期管理器
func NewManager(cfg *Config, engine sim.Engine, cat catalog.Catalog, gen idgen.Generator, l logger.Logger, m *metrics.Metrics) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Nop()
	}

	return &Manager{
		cfg:      cfg,
		logger:   l.Named("battle.manager"),
		metrics:  m,
		engine:   engine,
		catalog:  cat,
		idgen:    gen,
		sessions: make(map[int64]*Session),
	}, nil
}

// AttachPublisher 挂接广播路由器（启动前调用一次）
func (m *Manager) AttachPublisher(pub Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pub = pub
}

func (m *Manager) publisher() Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pub
}

// Run 消费模拟事件流直到 ctx 取消或事件流关闭
// 单 goroutine 消费保证同一对战的事件按发出顺序进入路由
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("battle manager started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("battle manager stopped")
			return nil
		case ev, ok := <-m.engine.Events():
			if !ok {
				m.logger.Info("sim event stream closed")
				return nil
			}
			m.handleEvent(ctx, ev)
		}
	}
}

// StartBattle 启动一场对战，返回新会话 ID
func (m *Manager) StartBattle(ctx context.Context, encounterID string, opts Options, trigger Trigger) (int64, error) {
	enc, err := m.catalog.Get(ctx, encounterID)
	if err != nil {
		if errors.Is(err, catalog.ErrEncounterNotFound) {
			return 0, errors.Wrapf(ErrEncounterNotFound, "id %s", encounterID)
		}
		return 0, errors.Wrap(err, "battle: catalog lookup failed")
	}
	if !enc.Approved {
		return 0, errors.Wrapf(ErrEncounterNotFound, "id %s not approved", encounterID)
	}

	id, err := m.idgen.NextID()
	if err != nil {
		return 0, errors.Wrap(err, "battle: allocate session id")
	}

	s := newSession(id, enc, m.cfg.EventLogCap)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	participants, err := m.seedEntities(id, enc, opts)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return 0, err
	}
	s.setParticipants(participants)

	s.markActive()

	// 超时定时器与会话一一对应，提前结束时在状态守卫内停止
	s.setTimeoutTimer(time.AfterFunc(m.cfg.MaxDuration, func() {
		if err := m.EndBattle(context.Background(), id, ReasonTimeout); err != nil && !errors.Is(err, ErrBattleNotFound) {
			m.logger.Warn("timeout end failed", "battle_id", id, "error", err)
		}
	}))

	m.metrics.OnBattleStarted(string(trigger))
	m.logger.Info("battle started",
		"battle_id", id,
		"encounter_id", enc.ID,
		"opponents", len(participants)-1,
		"trigger", string(trigger),
	)

	if pub := m.publisher(); pub != nil {
		pub.BroadcastAll("battle_started", s.Summary())
	}

	return id, nil
}

// seedEntities 向模拟引擎注入头目与战斗者实体
func (m *Manager) seedEntities(battleID int64, enc *catalog.Encounter, opts Options) ([]Participant, error) {
	bossHealth := enc.Stats.Health
	if bossHealth <= 0 {
		bossHealth = 100
	}

	bossID := fmt.Sprintf("boss-%d", battleID)
	boss := sim.Entity{
		ID:        bossID,
		BattleID:  battleID,
		Name:      enc.Name,
		Kind:      sim.KindBoss,
		Level:     enc.Level,
		Health:    bossHealth,
		MaxHealth: bossHealth,
		Size:      2,
	}
	if err := m.engine.AddEntity(boss); err != nil {
		return nil, errors.Wrap(err, "battle: seed adversary")
	}

	participants := make([]Participant, 0, opts.Opponents+1)
	participants = append(participants, Participant{EntityID: bossID, Role: RoleAdversary})

	count := opts.Opponents
	if count <= 0 {
		count = m.cfg.DefaultOpponents
	}

	for i := 0; i < count; i++ {
		level := enc.Level - m.cfg.LevelBand + rand.Intn(2*m.cfg.LevelBand+1)
		if level < 1 {
			level = 1
		}
		health := 40 + 10*level

		fighterID := fmt.Sprintf("fighter-%d-%d", battleID, i+1)
		fighter := sim.Entity{
			ID:        fighterID,
			BattleID:  battleID,
			Name:      fmt.Sprintf("Fighter %d", i+1),
			Kind:      sim.KindFighter,
			Level:     level,
			Health:    health,
			MaxHealth: health,
			Size:      1,
			TargetID:  bossID,
		}
		if err := m.engine.AddEntity(fighter); err != nil {
			// 单个战斗者注入失败不阻断开战
			m.logger.Warn("seed opponent failed", "battle_id", battleID, "entity_id", fighterID, "error", err)
			continue
		}
		participants = append(participants, Participant{EntityID: fighterID, Role: RoleOpponent})
	}

	return participants, nil
}

// handleEvent 处理一条模拟事件：记录、路由、必要时判定结束
func (m *Manager) handleEvent(ctx context.Context, ev sim.Event) {
	s, ok := m.Lookup(ev.BattleID)
	if !ok {
		m.logger.Debug("event for unknown battle dropped", "battle_id", ev.BattleID, "event_type", string(ev.Type))
		return
	}

	view := projection.Event(ev)
	s.appendEvent(view)

	if pub := m.publisher(); pub != nil {
		pub.Route(ev.BattleID, "battle_event", view)
	}

	if ev.Type == sim.EventEntityDeath {
		m.checkEndConditions(ctx, s)
	}
}

// checkEndConditions 根据参战双方存活情况判定胜负
func (m *Manager) checkEndConditions(ctx context.Context, s *Session) {
	if s.Status() != StatusActive {
		return
	}

	var adversariesAlive, opponentsAlive int
	for _, p := range s.Participants() {
		e, ok := m.engine.Entity(p.EntityID)
		if !ok || !e.Alive() {
			continue
		}
		switch p.Role {
		case RoleAdversary:
			adversariesAlive++
		case RoleOpponent:
			opponentsAlive++
		}
	}

	switch {
	case adversariesAlive == 0:
		m.endSession(ctx, s, ReasonPlayersWon)
	case opponentsAlive == 0:
		m.endSession(ctx, s, ReasonBossWon)
	}
}

// EndBattle 结束一场对战，重复调用为空操作
func (m *Manager) EndBattle(ctx context.Context, battleID int64, reason EndReason) error {
	s, ok := m.Lookup(battleID)
	if !ok {
		return errors.Wrapf(ErrBattleNotFound, "id %d", battleID)
	}
	m.endSession(ctx, s, reason)
	return nil
}

// endSession 执行一次有效的结束迁移：通知订阅者、上报战果、调度淘汰
// 状态守卫保证死亡判定与超时竞争时只有一方生效
func (m *Manager) endSession(ctx context.Context, s *Session, reason EndReason) {
	transitioned, duration := s.end(reason)
	if !transitioned {
		return
	}

	id := s.ID()
	winner := m.winnerFor(s, reason)

	m.metrics.OnBattleEnded(string(reason))
	m.logger.Info("battle ended",
		"battle_id", id,
		"reason", string(reason),
		"duration", duration.Seconds(),
		"winner", winner,
		"viewers", s.ViewerCount(),
		"events", s.EventCount(),
	)

	if pub := m.publisher(); pub != nil {
		pub.Route(id, "battle_ended", EndNotice{
			BattleID: id,
			Reason:   reason,
			Duration: duration.Seconds(),
			Winner:   winner,
		})
	}

	outcome := &catalog.Outcome{
		EncounterID: s.EncounterID(),
		BattleID:    id,
		WinnerID:    winner,
		Reason:      string(reason),
		Duration:    duration,
		ViewerCount: s.ViewerCount(),
		EventCount:  s.EventCount(),
		EndedAt:     time.Now(),
	}
	if err := m.catalog.ReportOutcome(ctx, outcome); err != nil {
		// 上报失败不影响对战收尾
		m.logger.Warn("outcome report failed", "battle_id", id, "error", err)
	}

	s.setEvictTimer(time.AfterFunc(m.cfg.EvictionGrace, func() {
		m.evict(id)
	}))
}

// winnerFor 计算胜方实体 ID：玩家胜取首个战斗者，头目胜取头目，超时无胜方
func (m *Manager) winnerFor(s *Session, reason EndReason) string {
	if reason == ReasonTimeout {
		return ""
	}

	want := RoleOpponent
	if reason == ReasonBossWon {
		want = RoleAdversary
	}
	for _, p := range s.Participants() {
		if p.Role == want {
			return p.EntityID
		}
	}
	return ""
}

// evict 把已结束的会话移出活跃表并清理模拟实体
func (m *Manager) evict(battleID int64) {
	m.mu.Lock()
	s, ok := m.sessions[battleID]
	if ok {
		delete(m.sessions, battleID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.stopTimers()
	for _, p := range s.Participants() {
		_ = m.engine.RemoveEntity(p.EntityID)
	}

	m.logger.Info("battle evicted", "battle_id", battleID)
}

// Lookup 查询会话（活跃或处于淘汰宽限期）
func (m *Manager) Lookup(battleID int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[battleID]
	return s, ok
}

// Tracked 会话是否仍被跟踪
func (m *Manager) Tracked(battleID int64) bool {
	_, ok := m.Lookup(battleID)
	return ok
}

// AddViewer 观战人数加一
func (m *Manager) AddViewer(battleID int64) (int, error) {
	s, ok := m.Lookup(battleID)
	if !ok {
		return 0, errors.Wrapf(ErrBattleNotFound, "id %d", battleID)
	}
	return s.AddViewer(), nil
}

// RemoveViewer 观战人数减一
func (m *Manager) RemoveViewer(battleID int64) {
	if s, ok := m.Lookup(battleID); ok {
		s.RemoveViewer()
	}
}

// ActiveCount 返回 starting/active 状态的会话数
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, s := range m.sessions {
		switch s.Status() {
		case StatusStarting, StatusActive:
			count++
		}
	}
	return count
}

// Summaries 返回全部被跟踪会话的摘要，按会话 ID 升序
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BattleID < out[j].BattleID })
	return out
}

// Snapshot 构建订阅时下发的完整状态快照
func (m *Manager) Snapshot(battleID int64) (*StateSnapshot, error) {
	s, ok := m.Lookup(battleID)
	if !ok {
		return nil, errors.Wrapf(ErrBattleNotFound, "id %d", battleID)
	}

	snap := s.snapshotBase()
	snap.Participants = projection.Entities(m.engine.EntitiesByBattle(battleID))
	return &snap, nil
}
