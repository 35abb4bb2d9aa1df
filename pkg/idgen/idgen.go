// Package idgen 提供全局唯一ID生成能力，用于对战会话等需要有序ID的场景。
package idgen

// Generator ID生成器接口
type Generator interface {
	// NextID 生成下一个唯一ID
	NextID() (int64, error)
}
