// Package tracing 提供基于 OpenTelemetry 的链路追踪，每个路由 Exchange 一个 span.
package tracing

import "errors"

// 预定义错误.
var (
	// ErrNilConfig 链路追踪配置为空.
	ErrNilConfig = errors.New("tracing: 配置为空")

	// ErrEmptyServiceName 服务名称为空.
	ErrEmptyServiceName = errors.New("tracing: 服务名称为空")

	// ErrEmptyEndpoint OTLP端点为空.
	ErrEmptyEndpoint = errors.New("tracing: OTLP端点为空")

	// ErrCreateExporter 创建OTLP导出器失败.
	ErrCreateExporter = errors.New("tracing: 创建OTLP导出器失败")

	// ErrCreateResource 创建资源失败.
	ErrCreateResource = errors.New("tracing: 创建资源失败")

	// ErrInvalidEndpoint OTLP端点格式错误.
	ErrInvalidEndpoint = errors.New("tracing: OTLP端点格式错误")
)

// Config 链路追踪配置.
type Config struct {
	// Enabled 是否启用链路追踪
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// ServiceName 服务名称，为空时使用引擎名称
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	// ServiceVersion 服务版本
	ServiceVersion string `json:"service_version" yaml:"service_version" mapstructure:"service_version"`
	// OTLP OTLP配置
	OTLP *OTLPConfig `json:"otlp" yaml:"otlp" mapstructure:"otlp"`
	// SamplingRate 根 span 的采样率 (0.0-1.0)，上游传入的 trace 沿用上游的采样决定
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" mapstructure:"sampling_rate"`
	// Attributes 附加的资源属性
	Attributes map[string]string `json:"attributes" yaml:"attributes" mapstructure:"attributes"`
	// Global 是否注册为全局 TracerProvider 与传播器，同一进程内有多个引擎时保持 false
	Global bool `json:"global" yaml:"global" mapstructure:"global"`
}

// OTLPConfig OTLP配置.
type OTLPConfig struct {
	// Endpoint OTLP Collector端点，host:port 或 http(s)://host:port/path
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	// Headers 请求头[可选]
	Headers map[string]string `json:"headers" yaml:"headers" mapstructure:"headers"`
	// Insecure 使用 HTTP 而不是 HTTPS，未设置时 https:// 端点为 false，其余为 true
	Insecure *bool `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
}
