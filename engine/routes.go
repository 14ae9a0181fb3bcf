package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Tsukikage7/integration-kit/event"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/route"
	"github.com/Tsukikage7/integration-kit/tracing"
)

// AddRoutes 构建并添加路由.
//
// 引擎已启动时，AutoStartup 的路由按启动顺序立即启动.
// 任一定义构建失败时不添加任何路由.
func (e *Engine) AddRoutes(ctx context.Context, defs ...*route.Definition) error {
	built := make([]*route.Route, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			return ErrNilDefinition
		}
		r, err := def.Build(e, e.routeOptions()...)
		if err != nil {
			return err
		}
		built = append(built, r)
	}
	return e.addRoutes(ctx, built)
}

// AddRoute 添加已创建的路由.
func (e *Engine) AddRoute(ctx context.Context, r *route.Route) error {
	return e.addRoutes(ctx, []*route.Route{r})
}

// routeOptions 引擎为每条路由提供的默认选项.
func (e *Engine) routeOptions() []route.Option {
	opts := []route.Option{
		route.WithLogger(e.log),
		route.WithShutdownStrategy(e.cfg.Shutdown),
		route.WithPolicies(e.notifier.Policy()),
	}
	if e.metrics != nil {
		opts = append(opts, route.WithPolicies(e.metrics.Policy()))
	}
	if e.tracer != nil {
		opts = append(opts, route.WithPolicies(tracing.NewPolicy(e.tracer)))
	}
	return opts
}

func (e *Engine) addRoutes(ctx context.Context, routes []*route.Route) error {
	e.mu.Lock()
	if e.state == stateStopped {
		e.mu.Unlock()
		return ErrStopped
	}
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		if _, ok := e.routes[r.ID()]; ok || seen[r.ID()] {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateRouteID, r.ID())
		}
		seen[r.ID()] = true
	}
	for _, r := range routes {
		e.watch(r)
		e.routes[r.ID()] = r
		e.order = append(e.order, r.ID())
	}
	started := e.state == stateStarted
	e.mu.Unlock()

	for _, r := range routes {
		e.log.Infof("[Engine] 添加路由: id=%s", r.ID())
		e.publish(ctx, event.RouteAdded, r.ID(), nil)
	}
	if !started {
		return nil
	}
	return e.startRoutes(ctx, routes)
}

// watch 挂载引擎级的路由监听.
func (e *Engine) watch(r *route.Route) {
	e.notifier.WatchRoute(r)
	if e.metrics != nil {
		e.metrics.WatchRoute(r)
	}
	if e.supervisor != nil {
		e.supervisor.Watch(r)
	}
}

// RemoveRoute 停止并删除路由.
func (e *Engine) RemoveRoute(ctx context.Context, id string) error {
	r, err := e.Route(id)
	if err != nil {
		return err
	}
	if err := r.Stop(ctx); err != nil {
		return &RouteError{RouteID: id, Err: err}
	}

	e.mu.Lock()
	delete(e.routes, id)
	delete(e.routeConfigs, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ForgetRoute(id)
	}
	if e.clustered != nil {
		e.clustered.Forget(id)
	}
	e.log.Infof("[Engine] 删除路由: id=%s", id)
	e.publish(ctx, event.RouteRemoved, id, nil)
	return nil
}

// Route 返回路由.
func (e *Engine) Route(id string) (*route.Route, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.routes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchRoute, id)
	}
	return r, nil
}

// Routes 返回所有路由，按启动顺序排列.
func (e *Engine) Routes() []*route.Route {
	e.mu.RLock()
	routes := make([]*route.Route, 0, len(e.order))
	for _, id := range e.order {
		routes = append(routes, e.routes[id])
	}
	e.mu.RUnlock()
	slices.SortStableFunc(routes, func(a, b *route.Route) int {
		return cmp.Compare(a.StartupOrder(), b.StartupOrder())
	})
	return routes
}

// RouteIDs 实现 controlbus.RouteController.
func (e *Engine) RouteIDs() []string {
	routes := e.Routes()
	ids := make([]string, len(routes))
	for i, r := range routes {
		ids[i] = r.ID()
	}
	return ids
}

// StartRoute 启动路由.
func (e *Engine) StartRoute(ctx context.Context, id string) error {
	return e.control(id, func(r *route.Route) error { return r.Start(ctx) })
}

// StopRoute 停止路由.
func (e *Engine) StopRoute(ctx context.Context, id string) error {
	return e.control(id, func(r *route.Route) error { return r.Stop(ctx) })
}

// SuspendRoute 暂停路由.
func (e *Engine) SuspendRoute(ctx context.Context, id string) error {
	return e.control(id, func(r *route.Route) error { return r.Suspend(ctx) })
}

// ResumeRoute 恢复路由.
func (e *Engine) ResumeRoute(ctx context.Context, id string) error {
	return e.control(id, func(r *route.Route) error { return r.Resume(ctx) })
}

// RestartRoute 停止路由，等待 delay 后重新启动.
func (e *Engine) RestartRoute(ctx context.Context, id string, delay time.Duration) error {
	return e.control(id, func(r *route.Route) error { return r.Restart(ctx, delay) })
}

// RouteStatus 返回路由状态.
func (e *Engine) RouteStatus(id string) (route.Status, error) {
	r, err := e.Route(id)
	if err != nil {
		return "", err
	}
	return r.Status(), nil
}

// RouteStats 返回路由统计快照.
func (e *Engine) RouteStats(id string) (route.Stats, error) {
	r, err := e.Route(id)
	if err != nil {
		return route.Stats{}, err
	}
	return r.Stats(), nil
}

func (e *Engine) control(id string, op func(r *route.Route) error) error {
	r, err := e.Route(id)
	if err != nil {
		return err
	}
	if err := op(r); err != nil {
		return &RouteError{RouteID: id, Err: err}
	}
	return nil
}

// startRoutes 按启动顺序启动 AutoStartup 的路由.
func (e *Engine) startRoutes(ctx context.Context, routes []*route.Route) error {
	routes = slices.Clone(routes)
	slices.SortStableFunc(routes, func(a, b *route.Route) int {
		return cmp.Compare(a.StartupOrder(), b.StartupOrder())
	})

	var errs []error
	for _, r := range routes {
		if !r.AutoStartup() {
			e.log.Infof("[Engine] 路由未自动启动: id=%s", r.ID())
			continue
		}
		if err := r.Start(ctx); err != nil {
			e.log.With(logger.RouteID(r.ID()), logger.Err(err)).Error("[Engine] 路由启动失败")
			errs = append(errs, &RouteError{RouteID: r.ID(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) publish(ctx context.Context, t event.Type, routeID string, err error) {
	if !e.notifier.Enabled(t) {
		return
	}
	ev := event.New(t)
	ev.RouteID = routeID
	ev.Err = err
	// 处理器错误已由通知器记录
	_ = e.notifier.Publish(ctx, ev)
}
