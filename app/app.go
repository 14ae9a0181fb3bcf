// Package app 管理进程内服务的生命周期：启动、信号等待与优雅关闭.
package app

import (
	"cmp"
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/Tsukikage7/integration-kit/logger"
)

// ErrRunning 应用正在运行.
var ErrRunning = errors.New("app: 应用正在运行")

// Service 由应用管理的服务.
//
// Start 可以阻塞到服务结束（如 HTTP 服务器），也可以启动后立即返回（如引擎）.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Addressable 有监听地址的服务.
type Addressable interface {
	Addr() string
}

// Application 应用程序.
type Application struct {
	opts     *options
	services []Service
	mu       sync.Mutex
	running  bool
	cancel   context.CancelCauseFunc
}

// New 创建应用程序.
func New(opts ...Option) *Application {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrNop(o.logger)
	return &Application{opts: o}
}

// Use 注册服务，按注册顺序启动、逆序停止.
func (a *Application) Use(services ...Service) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services = append(a.services, services...)
	return a
}

// Run 启动所有服务并阻塞，直到收到信号、ctx 结束、调用 Stop 或某个服务启动失败.
//
// 返回服务启动失败的错误；正常关闭时返回 nil.
func (a *Application) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrRunning
	}
	a.running = true
	ctx, cancel := context.WithCancelCause(ctx)
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel(nil)

	if err := a.opts.runHooks(ctx, BeforeStart); err != nil {
		a.finish()
		return err
	}

	a.opts.logger.With(
		logger.String("name", a.opts.name),
		logger.String("version", a.opts.version),
	).Info("[App] 应用启动")

	a.start(ctx, cancel)

	if err := a.opts.runHooks(ctx, AfterStart); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[App] 启动后钩子执行失败")
	}

	return a.waitForShutdown(ctx)
}

// Stop 主动停止应用程序.
func (a *Application) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel(nil)
	}
}

// Name 获取应用名称.
func (a *Application) Name() string {
	return a.opts.name
}

// Version 获取应用版本.
func (a *Application) Version() string {
	return a.opts.version
}

func (a *Application) start(ctx context.Context, fail context.CancelCauseFunc) {
	if len(a.services) == 0 {
		a.opts.logger.Warn("[App] 没有注册任何服务")
		return
	}
	for _, svc := range a.services {
		fields := []logger.Field{logger.String("service", svc.Name())}
		if ad, ok := svc.(Addressable); ok {
			fields = append(fields, logger.String("addr", ad.Addr()))
		}
		a.opts.logger.With(fields...).Info("[App] 启动服务")
		go func(s Service) {
			if err := s.Start(ctx); err != nil {
				a.opts.logger.With(logger.String("service", s.Name()), logger.Err(err)).Error("[App] 服务启动失败")
				fail(err)
			}
		}(svc)
	}
}

func (a *Application) waitForShutdown(ctx context.Context) error {
	signals := a.opts.signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.opts.logger.With(logger.String("signal", sig.String())).Info("[App] 收到信号")
	case <-ctx.Done():
		a.opts.logger.Info("[App] 上下文已结束")
	}

	a.shutdown()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func (a *Application) shutdown() {
	log := a.opts.logger
	log.With(logger.Duration("timeout", a.opts.gracefulTimeout)).Info("[App] 开始优雅关闭")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.opts.gracefulTimeout)
	defer cancel()

	if err := a.opts.runHooks(shutdownCtx, BeforeStop); err != nil {
		log.With(logger.Err(err)).Error("[App] 停止前钩子执行失败")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range slices.Backward(a.services) {
			log.With(logger.String("service", s.Name())).Info("[App] 停止服务")
			if err := s.Stop(shutdownCtx); err != nil {
				log.With(logger.String("service", s.Name()), logger.Err(err)).Error("[App] 服务停止失败")
			}
		}
	}()

	select {
	case <-done:
		log.Info("[App] 所有服务已停止")
	case <-shutdownCtx.Done():
		log.Warn("[App] 关闭超时")
	}

	a.runCleanups(shutdownCtx)

	if err := a.opts.runHooks(context.Background(), AfterStop); err != nil {
		log.With(logger.Err(err)).Error("[App] 停止后钩子执行失败")
	}

	a.finish()
	log.Info("[App] 应用已关闭")
}

func (a *Application) finish() {
	a.mu.Lock()
	a.running = false
	a.cancel = nil
	a.mu.Unlock()
}

func (a *Application) runCleanups(ctx context.Context) {
	cleanups := slices.Clone(a.opts.cleanups)
	slices.SortStableFunc(cleanups, func(x, y Cleanup) int {
		return cmp.Compare(x.Priority, y.Priority)
	})
	for _, c := range cleanups {
		if err := c.Fn(ctx); err != nil {
			a.opts.logger.With(logger.String("cleanup", c.Name), logger.Err(err)).Error("[App] 清理失败")
		}
	}
}
