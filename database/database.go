// Package database 为需要关系型存储的组件提供 gorm 连接工厂.
//
// 幂等仓库、聚合状态等持久化组件共享同一连接:
//
//	db, err := database.Open(&database.Config{Driver: database.DriverSQLite, DSN: "file::memory:"}, log)
//	repo, err := idempotent.NewGormRepository(db, "orders")
package database

import (
	"errors"
	"time"
)

// 支持的驱动类型.
const (
	DriverMySQL      = "mysql"
	DriverPostgres   = "postgres"
	DriverPostgreSQL = "postgresql"
	DriverSQLite     = "sqlite"
	DriverSQLite3    = "sqlite3"
)

// 预定义错误.
var (
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("database: 配置为空")
	// ErrEmptyDriver 驱动类型为空.
	ErrEmptyDriver = errors.New("database: 驱动类型为空")
	// ErrEmptyDSN 连接字符串为空.
	ErrEmptyDSN = errors.New("database: 连接字符串为空")
	// ErrUnsupportedDriver 不支持的驱动类型.
	ErrUnsupportedDriver = errors.New("database: 不支持的驱动类型")
	// ErrInvalidLogLevel 无效的 SQL 日志级别.
	ErrInvalidLogLevel = errors.New("database: 无效的日志级别")
	// ErrRegisterTracingPlugin 注册追踪插件失败.
	ErrRegisterTracingPlugin = errors.New("database: 注册追踪插件失败")
)

// Config 数据库连接配置.
type Config struct {
	// Driver 数据库驱动类型：mysql, postgres, sqlite
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`

	// DSN 数据库连接字符串
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`

	// Pool 连接池配置
	Pool PoolConfig `json:"pool" yaml:"pool" mapstructure:"pool"`

	// SlowThreshold 慢查询阈值
	SlowThreshold time.Duration `json:"slow_threshold" yaml:"slow_threshold" mapstructure:"slow_threshold"`

	// LogLevel SQL 日志级别: silent, error, warn, info
	LogLevel string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`

	// EnableTracing 为每条 SQL 创建 OpenTelemetry span
	EnableTracing bool `json:"enable_tracing" yaml:"enable_tracing" mapstructure:"enable_tracing"`
}

// PoolConfig 连接池配置.
type PoolConfig struct {
	MaxOpen     int           `json:"max_open" yaml:"max_open" mapstructure:"max_open"`
	MaxIdle     int           `json:"max_idle" yaml:"max_idle" mapstructure:"max_idle"`
	MaxLifetime time.Duration `json:"max_lifetime" yaml:"max_lifetime" mapstructure:"max_lifetime"`
	MaxIdleTime time.Duration `json:"max_idle_time" yaml:"max_idle_time" mapstructure:"max_idle_time"`
}

// DefaultConfig 返回 sqlite 内存库的默认配置.
func DefaultConfig() *Config {
	cfg := &Config{Driver: DriverSQLite, DSN: "file::memory:?cache=shared"}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Pool.MaxOpen == 0 {
		c.Pool.MaxOpen = 20
	}
	if c.Pool.MaxIdle == 0 {
		c.Pool.MaxIdle = 5
	}
	if c.Pool.MaxLifetime == 0 {
		c.Pool.MaxLifetime = time.Hour
	}
	if c.Pool.MaxIdleTime == 0 {
		c.Pool.MaxIdleTime = 10 * time.Minute
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c.Driver == "" {
		return ErrEmptyDriver
	}
	if c.DSN == "" {
		return ErrEmptyDSN
	}
	switch c.Driver {
	case DriverMySQL, DriverPostgres, DriverPostgreSQL, DriverSQLite, DriverSQLite3:
	default:
		return ErrUnsupportedDriver
	}
	if _, ok := logLevels[c.LogLevel]; !ok && c.LogLevel != "" {
		return ErrInvalidLogLevel
	}
	return nil
}
