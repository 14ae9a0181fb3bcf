package metrics

import "errors"

// 预定义错误.
var (
	// ErrNilConfig 指标配置为空.
	ErrNilConfig = errors.New("metrics: 指标配置为空")
	// ErrRegisterMetric 注册指标失败.
	ErrRegisterMetric = errors.New("metrics: 注册指标失败")
)

// Config 指标监控配置.
type Config struct {
	// Enabled 是否启用
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// Path 指标暴露路径，默认 /metrics
	Path string `json:"path" yaml:"path" mapstructure:"path"`
	// Namespace 指标命名空间
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	// Buckets 处理耗时直方图的桶，单位秒
	Buckets []float64 `json:"buckets" yaml:"buckets" mapstructure:"buckets"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "integration",
	}
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "integration"
	}
}
