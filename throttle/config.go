package throttle

import (
	"fmt"
	"time"
)

// 限流模式.
const (
	ModeRate        = "rate"
	ModeConcurrency = "concurrency"
)

// Config 限流配置.
type Config struct {
	// Mode 限流模式：rate 按时间窗口限制请求数，concurrency 限制同时处理的数量.
	Mode string `json:"mode" yaml:"mode" mapstructure:"mode"`

	// MaxRequests rate 模式下每个周期的最大请求数，concurrency 模式下的最大并发数.
	MaxRequests int `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`

	// Period rate 模式的周期，默认 1s.
	Period time.Duration `json:"period" yaml:"period" mapstructure:"period"`

	// RejectExecution 超限时立即失败而不是等待.
	RejectExecution bool `json:"reject_execution" yaml:"reject_execution" mapstructure:"reject_execution"`
}

// ApplyDefaults 填充默认值.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeRate
	}
	if c.Period <= 0 {
		c.Period = time.Second
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeRate, ModeConcurrency:
	default:
		return fmt.Errorf("%w: 未知模式 %q", ErrInvalidConfig, c.Mode)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max_requests 必须大于 0", ErrInvalidConfig)
	}
	return nil
}
