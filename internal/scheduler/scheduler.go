// Package scheduler 实现空闲自动排战：系统无活跃对战时定时开启新对战。
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/lk2023060901/battlestream/internal/battle"
	"github.com/lk2023060901/battlestream/internal/catalog"
	"github.com/lk2023060901/battlestream/pkg/logger"
)

// Config 自动排战配置
type Config struct {
	// Enabled 是否启用自动排战
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// Interval 空闲检查间隔
	Interval time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	// Opponents 自动开战时的玩家方战斗者数量，0 表示取对战默认值
	Opponents int `mapstructure:"opponents" json:"opponents" yaml:"opponents"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Interval: 30 * time.Second,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Enabled && c.Interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	return nil
}

// Scheduler 空闲自动排战调度器
type Scheduler struct {
	cfg     *Config
	logger  logger.Logger
	manager *battle.Manager
	catalog catalog.Catalog
	cron    *cron.Cron
}

// New 创建调度器
func New(cfg *Config, manager *battle.Manager, cat catalog.Catalog, l logger.Logger) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Nop()
	}

	return &Scheduler{
		cfg:     cfg,
		logger:  l.Named("scheduler"),
		manager: manager,
		catalog: cat,
		cron:    cron.New(),
	}, nil
}

// Start 启动定时检查
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("auto queue disabled")
		return nil
	}

	_, err := s.cron.AddFunc("@every "+s.cfg.Interval.String(), func() {
		s.Tick(context.Background())
	})
	if err != nil {
		return errors.Wrap(err, "scheduler: register cron job")
	}

	s.cron.Start()
	s.logger.Info("auto queue started", "interval", s.cfg.Interval.String())
	return nil
}

// Stop 停止定时检查并等待进行中的任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("auto queue stopped")
}

// Tick 执行一次空闲检查：无活跃对战时随机挑选图鉴条目开战
// 失败只记录日志，下个周期重试
func (s *Scheduler) Tick(ctx context.Context) {
	if s.manager.ActiveCount() > 0 {
		return
	}

	encounters, err := s.catalog.ListApproved(ctx)
	if err != nil {
		s.logger.Warn("list approved encounters failed", "error", err)
		return
	}
	if len(encounters) == 0 {
		s.logger.Debug("no approved encounters, skip auto queue")
		return
	}

	enc := encounters[rand.Intn(len(encounters))]
	id, err := s.manager.StartBattle(ctx, enc.ID, battle.Options{Opponents: s.cfg.Opponents}, battle.TriggerAutoQueue)
	if err != nil {
		s.logger.Warn("auto queue start failed", "encounter_id", enc.ID, "error", err)
		return
	}

	s.logger.Info("auto queued battle", "battle_id", id, "encounter_id", enc.ID)
}
