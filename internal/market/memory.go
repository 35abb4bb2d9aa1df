package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// questTTL 任务默认有效期
const questTTL = 10 * time.Minute

// Memory 内存版预测市场实现，用于测试与单机部署
type Memory struct {
	mu     sync.RWMutex
	quests map[string]*Quest
}

var _ Market = (*Memory)(nil)

// NewMemory 创建内存市场
func NewMemory() *Memory {
	return &Memory{
		quests: make(map[string]*Quest),
	}
}

// CreateQuest 创建预测任务
func (m *Memory) CreateQuest(ctx context.Context, req *CreateQuestRequest) (*Quest, error) {
	if req == nil || req.BattleID == 0 {
		return nil, errors.New("market: invalid quest request")
	}

	objectives := make([]string, 0, len(req.ObjectiveTypes))
	for i, typ := range req.ObjectiveTypes {
		objectives = append(objectives, fmt.Sprintf("%s-%d", typ, i))
	}

	quest := &Quest{
		ID:           uuid.New().String(),
		BattleID:     req.BattleID,
		ObjectiveIDs: objectives,
		CreatorID:    req.CreatorID,
		Deadline:     time.Now().Add(questTTL),
	}

	m.mu.Lock()
	m.quests[quest.ID] = quest
	m.mu.Unlock()

	clone := *quest
	return &clone, nil
}

// SubmitPrediction 提交预测
func (m *Memory) SubmitPrediction(ctx context.Context, req *SubmitPredictionRequest) (*Prediction, error) {
	if req == nil || req.QuestID == "" {
		return nil, errors.New("market: invalid prediction request")
	}

	m.mu.RLock()
	quest, ok := m.quests[req.QuestID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrQuestNotFound, "id %s", req.QuestID)
	}

	found := false
	for _, id := range quest.ObjectiveIDs {
		if id == req.ObjectiveID {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.Wrapf(ErrObjectiveNotFound, "quest %s objective %s", req.QuestID, req.ObjectiveID)
	}

	return &Prediction{
		ID:          uuid.New().String(),
		QuestID:     req.QuestID,
		ObjectiveID: req.ObjectiveID,
		UserID:      req.UserID,
		Value:       req.Value,
		SubmittedAt: time.Now(),
	}, nil
}
