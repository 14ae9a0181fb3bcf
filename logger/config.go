package logger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config 日志配置.
type Config struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
	// Output 输出目标: stdout, stderr, file.
	Output string `json:"output" yaml:"output" mapstructure:"output"`
	// FilePath Output 为 file 时的日志文件路径.
	FilePath string `json:"file_path" yaml:"file_path" mapstructure:"file_path"`

	EnableCaller     bool `json:"enable_caller" yaml:"enable_caller" mapstructure:"enable_caller"`
	EnableStacktrace bool `json:"enable_stacktrace" yaml:"enable_stacktrace" mapstructure:"enable_stacktrace"`

	// Fields 附加到每条日志的静态字段，例如节点名.
	Fields map[string]string `json:"fields" yaml:"fields" mapstructure:"fields"`
	// Sampling 按消息内容采样，nil 表示记录全部.
	Sampling *SamplingConfig `json:"sampling" yaml:"sampling" mapstructure:"sampling"`

	TimeKey    string `json:"time_key" yaml:"time_key" mapstructure:"time_key"`
	MessageKey string `json:"message_key" yaml:"message_key" mapstructure:"message_key"`
}

// SamplingConfig 日志采样：每个 Tick 内同一消息先记录 First 条，之后每 Thereafter 条记录一条.
//
// 高吞吐路由中逐条 Exchange 的日志通过采样限量.
type SamplingConfig struct {
	Tick       time.Duration `json:"tick" yaml:"tick" mapstructure:"tick"`
	First      int           `json:"first" yaml:"first" mapstructure:"first"`
	Thereafter int           `json:"thereafter" yaml:"thereafter" mapstructure:"thereafter"`
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}

	var errs []error
	if c.Level != "" {
		if _, err := zapcore.ParseLevel(c.Level); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidLevel, c.Level))
		}
	}
	switch strings.ToLower(c.Format) {
	case "", FormatJSON, FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidFormat, c.Format))
	}
	switch strings.ToLower(c.Output) {
	case "", OutputStdout, OutputStderr:
	case OutputFile:
		if c.FilePath == "" {
			errs = append(errs, ErrFilePathRequired)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidOutput, c.Output))
	}
	if s := c.Sampling; s != nil && (s.First < 0 || s.Thereafter < 0) {
		errs = append(errs, fmt.Errorf("%w: first=%d, thereafter=%d", ErrInvalidSampling, s.First, s.Thereafter))
	}
	return errors.Join(errs...)
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.Output == "" {
		c.Output = OutputStdout
	}
	if c.TimeKey == "" {
		c.TimeKey = "timestamp"
	}
	if c.MessageKey == "" {
		c.MessageKey = "msg"
	}
	if s := c.Sampling; s != nil {
		if s.Tick <= 0 {
			s.Tick = time.Second
		}
		if s.First == 0 {
			s.First = 100
		}
		if s.Thereafter == 0 {
			s.Thereafter = 100
		}
	}
}

// level 解析日志级别，Validate 之后调用.
func (c *Config) level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	config := &Config{}
	config.ApplyDefaults()
	return config
}
