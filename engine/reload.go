package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/bytedance/sonic"

	"github.com/Tsukikage7/integration-kit/config"
	"github.com/Tsukikage7/integration-kit/errorhandler"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
	"github.com/Tsukikage7/integration-kit/route"
)

// LoadConfig 从文件加载引擎配置.
func LoadConfig(path string, opts ...config.Option) (*Config, error) {
	return config.Load[Config](path, opts...)
}

// NewFromConfig 创建引擎并添加配置中的路由.
func NewFromConfig(ctx context.Context, cfg *Config, opts ...Option) (*Engine, error) {
	e, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.AddRouteConfigs(ctx, e.cfg.Routes...); err != nil {
		return nil, err
	}
	return e, nil
}

// AddRouteConfigs 添加声明式路由，它们随后由 ReloadRoutes 管理.
func (e *Engine) AddRouteConfigs(ctx context.Context, rcs ...RouteConfig) error {
	defs := make([]*route.Definition, 0, len(rcs))
	for _, rc := range rcs {
		def, err := e.definition(rc)
		if err != nil {
			return &RouteError{RouteID: rc.ID, Err: err}
		}
		defs = append(defs, def)
	}
	if err := e.AddRoutes(ctx, defs...); err != nil {
		return err
	}
	e.mu.Lock()
	if e.routeConfigs == nil {
		e.routeConfigs = make(map[string]RouteConfig, len(rcs))
	}
	for _, rc := range rcs {
		e.routeConfigs[rc.ID] = rc
	}
	e.mu.Unlock()
	return nil
}

// ReloadRoutes 按新配置同步声明式路由：删除消失的路由，重建变化的路由，添加新路由.
//
// 通过 AddRoutes 以代码添加的路由不受影响.
func (e *Engine) ReloadRoutes(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return ErrNilConfig
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.RLock()
	current := maps.Clone(e.routeConfigs)
	e.mu.RUnlock()

	desired := make(map[string]RouteConfig, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		desired[rc.ID] = rc
	}

	var remove []string
	var add []RouteConfig
	updated := 0
	for id, rc := range current {
		next, ok := desired[id]
		switch {
		case !ok:
			remove = append(remove, id)
		case !sameRouteConfig(rc, next):
			remove = append(remove, id)
			add = append(add, next)
			updated++
		}
	}
	for _, rc := range cfg.Routes {
		if _, ok := current[rc.ID]; !ok {
			add = append(add, rc)
		}
	}
	if len(remove) == 0 && len(add) == 0 {
		return nil
	}

	var errs []error
	for _, id := range remove {
		if err := e.RemoveRoute(ctx, id); err != nil && !errors.Is(err, ErrNoSuchRoute) {
			errs = append(errs, err)
		}
	}
	for _, rc := range add {
		if err := e.AddRouteConfigs(ctx, rc); err != nil {
			errs = append(errs, err)
		}
	}

	e.log.Infof("[Engine] 重新加载路由: added=%d, removed=%d, updated=%d",
		len(add)-updated, len(remove)-updated, updated)
	return errors.Join(errs...)
}

// WatchConfig 监听配置文件，变更时重新加载声明式路由.
func (e *Engine) WatchConfig(ctx context.Context, path string, opts ...config.Option) error {
	initial, err := config.Watch[Config](path, func(cfg *Config, err error) {
		if err != nil {
			e.log.With(logger.String("path", path), logger.Err(err)).Warn("[Engine] 配置解析失败，保留当前路由")
			return
		}
		if err := e.ReloadRoutes(ctx, cfg); err != nil {
			e.log.With(logger.String("path", path), logger.Err(err)).Error("[Engine] 重新加载路由失败")
		}
	}, opts...)
	if err != nil {
		return err
	}
	return e.ReloadRoutes(ctx, initial)
}

func sameRouteConfig(a, b RouteConfig) bool {
	ja, errA := sonic.Marshal(a)
	jb, errB := sonic.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// definition 把声明式路由转换为路由定义.
func (e *Engine) definition(rc RouteConfig) (*route.Definition, error) {
	def := route.From(rc.From...).
		RouteID(rc.ID).
		Describe(rc.Description).
		To(rc.To...).
		StartupOrder(rc.StartupOrder)
	if rc.AutoStartup != nil {
		def.AutoStartup(*rc.AutoStartup)
	}
	if rc.Shutdown != nil {
		def.Shutdown(*rc.Shutdown)
	}
	if rc.Clustered {
		if e.clustered == nil {
			return nil, fmt.Errorf("%w: 集群路由需要 cluster 配置", ErrInvalidConfig)
		}
		def.RoutePolicy(e.clustered)
	}
	if rc.ErrorHandler != nil {
		h, err := e.NewErrorHandler(*rc.ErrorHandler)
		if err != nil {
			return nil, err
		}
		def.ErrorHandler(h)
	}
	return def, nil
}

// NewErrorHandler 按配置创建错误处理器，重投递事件发布到引擎通知器.
func (e *Engine) NewErrorHandler(cfg ErrorHandlerConfig, opts ...errorhandler.Option) (errorhandler.ErrorHandler, error) {
	if cfg.Redelivery == (errorhandler.RedeliveryPolicy{}) {
		cfg.applyDefaults()
	}
	base := []errorhandler.Option{
		errorhandler.WithRedeliveryPolicy(cfg.Redelivery),
		errorhandler.WithLogger(e.log),
		errorhandler.WithRedeliveryListener(e.notifier.RedeliveryListener()),
	}
	opts = append(base, opts...)
	var (
		h   *errorhandler.RedeliveryErrorHandler
		err error
	)
	if cfg.DeadLetterURI == "" {
		h, err = errorhandler.NewDefault(opts...)
	} else {
		if _, err := e.Endpoint(cfg.DeadLetterURI); err != nil {
			return nil, err
		}
		h, err = errorhandler.NewDeadLetterChannel(e.sendTo(cfg.DeadLetterURI), opts...)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// sendTo 通过生产者模板发送到端点的处理器，生产者在首次使用时创建.
func (e *Engine) sendTo(uri string) processor.Processor {
	return processor.Func(func(ctx context.Context, ex *exchange.Exchange) error {
		p, err := e.template.producer(ctx, uri)
		if err != nil {
			return err
		}
		ex.SetProperty(exchange.PropertyToEndpoint, uri)
		return processor.Await(ctx, p, ex)
	})
}
