// pkg/logger/config.go
package logger

import "errors"

// Level 日志等级
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format 日志输出格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

// RotationConfig 日志文件滚动配置
type RotationConfig struct {
	// MaxSizeMB 单个日志文件最大体积（MB）
	MaxSizeMB int `mapstructure:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups 保留的历史文件数量
	MaxBackups int `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	// MaxAgeDays 历史文件保留天数
	MaxAgeDays int `mapstructure:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	// Compress 是否压缩历史文件
	Compress bool `mapstructure:"compress" json:"compress" yaml:"compress"`
}

// Config 日志配置
type Config struct {
	// Level 日志等级
	Level Level `mapstructure:"level" json:"level" yaml:"level"`
	// Format 输出格式（json/console）
	Format Format `mapstructure:"format" json:"format" yaml:"format"`
	// EnableConsole 是否输出到控制台
	EnableConsole bool `mapstructure:"enable_console" json:"enable_console" yaml:"enable_console"`
	// EnableFile 是否输出到文件
	EnableFile bool `mapstructure:"enable_file" json:"enable_file" yaml:"enable_file"`
	// OutputPath 日志文件路径
	OutputPath string `mapstructure:"output_path" json:"output_path" yaml:"output_path"`
	// Development 开发模式（彩色控制台输出）
	Development bool `mapstructure:"development" json:"development" yaml:"development"`
	// Rotation 文件滚动配置
	Rotation RotationConfig `mapstructure:"rotation" json:"rotation" yaml:"rotation"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Level:         InfoLevel,
		Format:        JSONFormat,
		EnableConsole: true,
		EnableFile:    false,
		OutputPath:    "logs/battlestream.log",
		Rotation: RotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !c.EnableConsole && !c.EnableFile {
		return errors.New("logger: at least one of console/file output must be enabled")
	}
	if c.EnableFile && c.OutputPath == "" {
		return errors.New("logger: output_path required when file output enabled")
	}
	return nil
}
