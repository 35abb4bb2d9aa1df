// pkg/logger/noop.go
package logger

// 确保 NopLogger 实现了 Logger 接口
var _ Logger = (*NopLogger)(nil)

// NopLogger 空日志记录器，用于测试或禁用日志
type NopLogger struct{}

// Nop 返回空日志记录器
func Nop() *NopLogger {
	return &NopLogger{}
}

func (l *NopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (l *NopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *NopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (l *NopLogger) Error(msg string, keysAndValues ...interface{}) {}

func (l *NopLogger) Named(name string) Logger                          { return l }
func (l *NopLogger) WithFields(keysAndValues ...interface{}) Logger    { return l }
func (l *NopLogger) Sync() error                                       { return nil }
