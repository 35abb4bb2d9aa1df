// Package catalog 定义头目图鉴服务的边界：对战模板查询与战果上报。
package catalog

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrEncounterNotFound 图鉴条目不存在或未审核通过
var ErrEncounterNotFound = errors.New("catalog: encounter not found")

// Stats 头目属性快照
type Stats struct {
	Health  int `json:"health"`
	Attack  int `json:"attack"`
	Defense int `json:"defense"`
}

// Encounter 图鉴条目，对战的生成模板
type Encounter struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Level    int    `json:"level"`
	Stats    Stats  `json:"stats"`
	Approved bool   `json:"approved"`
}

// Outcome 对战战果记录
type Outcome struct {
	EncounterID string        `json:"encounterId"`
	BattleID    int64         `json:"battleId"`
	WinnerID    string        `json:"winnerId,omitempty"`
	Reason      string        `json:"reason"`
	Duration    time.Duration `json:"duration"`
	ViewerCount int           `json:"viewerCount"`
	EventCount  int64         `json:"eventCount"`
	EndedAt     time.Time     `json:"endedAt"`
}

// Catalog 图鉴服务接口
type Catalog interface {
	// Get 查询图鉴条目，不存在时返回 ErrEncounterNotFound
	Get(ctx context.Context, id string) (*Encounter, error)
	// ListApproved 列出全部审核通过的条目
	ListApproved(ctx context.Context) ([]*Encounter, error)
	// ReportOutcome 上报对战战果
	ReportOutcome(ctx context.Context, outcome *Outcome) error
	// History 查询某个条目最近的战果，按时间倒序
	History(ctx context.Context, encounterID string) ([]*Outcome, error)
}
