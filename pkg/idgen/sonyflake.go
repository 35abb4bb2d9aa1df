package idgen

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/sonyflake"
)

// sessionEpoch 会话 ID 时间戳的起算点
// 取服务上线年份的起点，保证同一部署内 ID 随时间单调递增
var sessionEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// sessionIDGenerator 对战会话 ID 生成器
// 同一实例内生成的 ID 严格递增，可直接用作会话排序键
type sessionIDGenerator struct {
	sf *sonyflake.Sonyflake
}

var _ Generator = (*sessionIDGenerator)(nil)

// NewSonyflake 创建会话 ID 生成器
// machineID 区分同一集群内的不同实例，单机部署固定传 0 或 1 即可
func NewSonyflake(machineID uint16) (Generator, error) {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: sessionEpoch,
		MachineID: func() (uint16, error) {
			return machineID, nil
		},
	})
	if sf == nil {
		return nil, errors.New("idgen: sonyflake init failed, check system clock against epoch")
	}
	return &sessionIDGenerator{sf: sf}, nil
}

// NextID 生成下一个会话 ID
func (g *sessionIDGenerator) NextID() (int64, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return 0, errors.Wrap(err, "idgen: allocate session id")
	}
	return int64(id), nil
}
