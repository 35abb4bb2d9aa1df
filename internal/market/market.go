// Package market 定义外部预测市场的边界：任务创建与预测提交的转发。
// 流式核心不保存权威数据，只保留重新广播确认所需的字段。
package market

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrQuestNotFound 任务不存在
	ErrQuestNotFound = errors.New("market: quest not found")
	// ErrObjectiveNotFound 目标不存在
	ErrObjectiveNotFound = errors.New("market: objective not found")
)

// Quest 预测任务确认记录
type Quest struct {
	ID           string    `json:"id"`
	BattleID     int64     `json:"battleId"`
	ObjectiveIDs []string  `json:"objectiveIds"`
	CreatorID    string    `json:"creatorId"`
	Deadline     time.Time `json:"deadline"`
}

// Prediction 预测提交确认记录
type Prediction struct {
	ID          string    `json:"id"`
	QuestID     string    `json:"questId"`
	ObjectiveID string    `json:"objectiveId"`
	UserID      string    `json:"userId"`
	Value       string    `json:"value"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// CreateQuestRequest 创建任务请求（原样转发给市场）
type CreateQuestRequest struct {
	BattleID         int64    `json:"battleId"`
	EncounterContext string   `json:"encounterContext"`
	ObjectiveTypes   []string `json:"objectiveTypes"`
	CreatorID        string   `json:"creatorId"`
}

// SubmitPredictionRequest 提交预测请求（原样转发给市场）
type SubmitPredictionRequest struct {
	QuestID     string `json:"questId"`
	ObjectiveID string `json:"objectiveId"`
	UserID      string `json:"userId"`
	Value       string `json:"value"`
}

// Market 预测市场接口
type Market interface {
	// CreateQuest 创建预测任务
	CreateQuest(ctx context.Context, req *CreateQuestRequest) (*Quest, error)
	// SubmitPrediction 提交预测
	SubmitPrediction(ctx context.Context, req *SubmitPredictionRequest) (*Prediction, error)
}
