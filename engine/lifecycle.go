package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/event"
	"github.com/Tsukikage7/integration-kit/logger"
)

// Start 启动引擎：组件、选主视图，然后按启动顺序启动 AutoStartup 的路由.
//
// 已启动时为空操作；路由启动失败不影响其他路由，错误合并返回.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case stateStarted:
		e.mu.Unlock()
		return nil
	case stateStopped:
		e.mu.Unlock()
		return ErrStopped
	}
	e.state = stateStarted
	e.mu.Unlock()

	for scheme, c := range e.components.All() {
		if err := component.StartService(ctx, c); err != nil {
			return fmt.Errorf("engine: 启动组件 %s 失败: %w", scheme, err)
		}
	}
	if e.view != nil {
		// 先确定领导权，集群路由据此决定是否启动消费者
		if err := e.view.Start(ctx); err != nil {
			return err
		}
	}

	routes := e.Routes()
	e.log.Infof("[Engine] 引擎启动: name=%s, routes=%d", e.cfg.Name, len(routes))
	err := e.startRoutes(ctx, routes)
	e.publish(ctx, event.EngineStarted, "", err)
	return err
}

// Stop 停止引擎：按启动顺序的逆序停止路由，再释放工作池、生产者与组件.
//
// ctx 没有截止时间时，总超时为各路由停止超时之和.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == stateStopped {
		e.mu.Unlock()
		return nil
	}
	e.state = stateStopped
	e.mu.Unlock()

	routes := e.Routes()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.shutdownTimeout(len(routes)))
		defer cancel()
	}
	e.log.Infof("[Engine] 引擎停止中: name=%s", e.cfg.Name)

	if e.supervisor != nil {
		e.supervisor.Close()
	}

	var errs []error
	for _, r := range slices.Backward(routes) {
		if err := r.Stop(ctx); err != nil {
			e.log.With(logger.RouteID(r.ID()), logger.Err(err)).Warn("[Engine] 路由停止失败")
			errs = append(errs, &RouteError{RouteID: r.ID(), Err: err})
		}
	}
	if e.template != nil {
		e.template.close()
	}
	if e.view != nil {
		errs = append(errs, e.view.Stop(ctx))
	}
	errs = append(errs, e.executors.Shutdown(ctx))
	for scheme, c := range e.components.All() {
		if err := component.StopService(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("engine: 停止组件 %s 失败: %w", scheme, err))
		}
	}
	if e.ownTracer != nil {
		errs = append(errs, e.ownTracer.Shutdown(ctx))
	}

	err := errors.Join(errs...)
	e.publish(ctx, event.EngineStopped, "", err)
	e.log.Infof("[Engine] 引擎已停止: name=%s", e.cfg.Name)
	return err
}

// Started 引擎是否已启动且未停止.
func (e *Engine) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateStarted
}
