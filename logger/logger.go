// Package logger 提供结构化日志记录功能.
package logger

import "context"

// 日志级别常量.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// 输出格式常量.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// 输出目标常量.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// contextKey context 键类型.
type contextKey string

// 预定义的 context key.
const (
	// TraceIDKey 用于在 context 中存储 traceId.
	TraceIDKey contextKey = "logger:traceId"
	// SpanIDKey 用于在 context 中存储 spanId.
	SpanIDKey contextKey = "logger:spanId"
	// ExchangeIDKey 用于在 context 中存储当前 exchange 的 ID.
	ExchangeIDKey contextKey = "logger:exchangeId"
	// RouteIDKey 用于在 context 中存储当前路由 ID.
	RouteIDKey contextKey = "logger:routeId"
)

// contextFields 定义 WithContext 提取的字段及其输出名称.
var contextFields = []struct {
	key  contextKey
	name string
}{
	{RouteIDKey, "routeId"},
	{ExchangeIDKey, "exchangeId"},
	{TraceIDKey, "traceId"},
	{SpanIDKey, "spanId"},
}

// Field 表示一个日志字段.
type Field struct {
	Key   string
	Value any
}

// Logger 日志记录器接口.
type Logger interface {
	// 基础日志方法
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Panic(args ...any)
	Panicf(format string, args ...any)

	// 结构化日志方法
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger

	// 生命周期管理
	Sync() error
	Close() error
}

// ContextWithTraceID 将 traceId 注入到 context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// ContextWithSpanID 将 spanId 注入到 context.
func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, SpanIDKey, spanID)
}

// ContextWithExchangeID 将 exchangeId 注入到 context.
func ContextWithExchangeID(ctx context.Context, exchangeID string) context.Context {
	return context.WithValue(ctx, ExchangeIDKey, exchangeID)
}

// ContextWithRouteID 将 routeId 注入到 context.
func ContextWithRouteID(ctx context.Context, routeID string) context.Context {
	return context.WithValue(ctx, RouteIDKey, routeID)
}

// NewLogger 按配置创建基于 zap 的 logger.
func NewLogger(config *Config) (Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	return newZapLogger(config)
}

// MustNewLogger 创建 logger 实例，失败时 panic.
func MustNewLogger(config *Config) Logger {
	l, err := NewLogger(config)
	if err != nil {
		panic(err)
	}
	return l
}

// OrNop 在 log 为 nil 时返回空实现.
func OrNop(log Logger) Logger {
	if log == nil {
		return NewNop()
	}
	return log
}
