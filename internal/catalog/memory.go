package catalog

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// historyCap 每个图鉴条目保留的战果数量上限
const historyCap = 50

// Memory 内存版图鉴实现，用于测试与单机部署
type Memory struct {
	mu         sync.RWMutex
	encounters map[string]*Encounter
	history    map[string][]*Outcome
}

var _ Catalog = (*Memory)(nil)

// NewMemory 创建内存图鉴
func NewMemory(encounters ...*Encounter) *Memory {
	m := &Memory{
		encounters: make(map[string]*Encounter, len(encounters)),
		history:    make(map[string][]*Outcome),
	}
	for _, e := range encounters {
		clone := *e
		m.encounters[e.ID] = &clone
	}
	return m
}

// Put 添加或更新图鉴条目
func (m *Memory) Put(e *Encounter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *e
	m.encounters[e.ID] = &clone
}

// Get 查询图鉴条目
func (m *Memory) Get(ctx context.Context, id string) (*Encounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.encounters[id]
	if !ok {
		return nil, errors.Wrapf(ErrEncounterNotFound, "id %s", id)
	}
	clone := *e
	return &clone, nil
}

// ListApproved 列出全部审核通过的条目
func (m *Memory) ListApproved(ctx context.Context) ([]*Encounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Encounter, 0, len(m.encounters))
	for _, e := range m.encounters {
		if e.Approved {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

// ReportOutcome 上报战果，超过上限时淘汰最旧记录
func (m *Memory) ReportOutcome(ctx context.Context, outcome *Outcome) error {
	if outcome == nil {
		return errors.New("catalog: nil outcome")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *outcome
	list := append(m.history[outcome.EncounterID], &clone)
	if len(list) > historyCap {
		list = list[len(list)-historyCap:]
	}
	m.history[outcome.EncounterID] = list
	return nil
}

// History 查询某个条目最近的战果，按时间倒序
func (m *Memory) History(ctx context.Context, encounterID string) ([]*Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.history[encounterID]
	out := make([]*Outcome, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		clone := *list[i]
		out = append(out, &clone)
	}
	return out, nil
}
