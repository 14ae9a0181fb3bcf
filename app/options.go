package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/Tsukikage7/integration-kit/logger"
)

// CleanupFunc 清理函数.
type CleanupFunc func(ctx context.Context) error

// Cleanup 清理任务，所有服务停止后按 Priority 从小到大执行.
type Cleanup struct {
	Name     string
	Fn       CleanupFunc
	Priority int
}

type options struct {
	name            string
	version         string
	logger          logger.Logger
	hooks           map[Stage][]Hook
	gracefulTimeout time.Duration
	signals         []os.Signal
	cleanups        []Cleanup
}

func defaultOptions() *options {
	return &options{
		name:            "integration",
		gracefulTimeout: 30 * time.Second,
	}
}

// Option 配置选项.
type Option func(*options)

// Name 设置应用名称.
func Name(name string) Option {
	return func(o *options) { o.name = name }
}

// Version 设置应用版本，仅用于日志.
func Version(version string) Option {
	return func(o *options) { o.version = version }
}

// Logger 设置日志记录器.
func Logger(log logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

// GracefulTimeout 设置优雅关闭的总超时，包括服务停止与清理任务.
func GracefulTimeout(d time.Duration) Option {
	return func(o *options) { o.gracefulTimeout = d }
}

// Signals 设置触发关闭的系统信号，默认 SIGINT 与 SIGTERM.
func Signals(signals ...os.Signal) Option {
	return func(o *options) { o.signals = signals }
}

// RegisterCleanup 注册清理任务.
func RegisterCleanup(name string, fn CleanupFunc, priority int) Option {
	return func(o *options) {
		o.cleanups = append(o.cleanups, Cleanup{Name: name, Fn: fn, Priority: priority})
	}
}

// RegisterCloser 注册 io.Closer 作为清理任务，例如引擎之外打开的数据库连接.
func RegisterCloser(name string, closer io.Closer, priority int) Option {
	return RegisterCleanup(name, func(context.Context) error {
		return closer.Close()
	}, priority)
}
