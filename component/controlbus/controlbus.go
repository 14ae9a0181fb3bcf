// Package controlbus 把路由控制能力暴露为端点.
//
//	controlbus:route?routeId=orders&action=suspend
//	controlbus:route?action=stats
//	controlbus:route?routeId=orders&action=restart&restartDelay=5s&async=true
package controlbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/route"
)

// Scheme 组件 scheme.
const Scheme = "controlbus"

// HeaderRouteID 消息头中的路由 ID，优先于 URI 参数.
const HeaderRouteID = "ControlBusRouteID"

// 动作.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionSuspend = "suspend"
	ActionResume  = "resume"
	ActionRestart = "restart"
	ActionStatus  = "status"
	ActionStats   = "stats"
)

// 预定义错误.
var (
	// ErrUnknownAction 未知动作.
	ErrUnknownAction = errors.New("controlbus: 未知的动作")

	// ErrNoController 引擎不支持路由控制.
	ErrNoController = errors.New("controlbus: 引擎不支持路由控制")

	// ErrMissingRouteID 缺少路由 ID.
	ErrMissingRouteID = errors.New("controlbus: 缺少路由 ID")
)

// RouteController 路由控制接口，由引擎实现.
type RouteController interface {
	StartRoute(ctx context.Context, id string) error
	StopRoute(ctx context.Context, id string) error
	SuspendRoute(ctx context.Context, id string) error
	ResumeRoute(ctx context.Context, id string) error
	RestartRoute(ctx context.Context, id string, delay time.Duration) error
	RouteStatus(id string) (route.Status, error)
	RouteStats(id string) (route.Stats, error)
	RouteIDs() []string
}

// Config 端点配置.
type Config struct {
	RouteID      string
	Action       string
	Async        bool
	RestartDelay time.Duration
}

// Component controlbus 组件.
type Component struct{}

// New 创建 controlbus 组件.
func New() *Component {
	return &Component{}
}

// CreateEndpoint 实现 component.Component，remaining 目前只支持 route.
func (c *Component) CreateEndpoint(uri, remaining string, params component.Parameters) (component.Endpoint, error) {
	if remaining != "route" {
		return nil, fmt.Errorf("%w: controlbus 只支持 route 命令: %s", component.ErrInvalidURI, uri)
	}
	cfg := Config{Action: ActionStatus}
	err := component.NewBinder().
		String("routeId", &cfg.RouteID).
		String("action", &cfg.Action).
		Bool("async", &cfg.Async).
		Duration("restartDelay", &cfg.RestartDelay).
		Bind(params)
	if err != nil {
		return nil, err
	}
	cfg.Action = strings.ToLower(cfg.Action)
	switch cfg.Action {
	case ActionStart, ActionStop, ActionSuspend, ActionResume, ActionRestart, ActionStatus, ActionStats:
	default:
		return nil, &component.InvalidParameterError{Key: "action", Value: cfg.Action, Err: ErrUnknownAction}
	}
	return &Endpoint{EndpointBase: component.NewEndpointBase(uri), cfg: cfg}, nil
}

// Endpoint controlbus 端点，只能生产.
type Endpoint struct {
	component.EndpointBase
	cfg Config
}

// Config 返回端点配置.
func (e *Endpoint) Config() Config {
	return e.cfg
}

// CreateProducer 实现 component.ProducerCapable.
func (e *Endpoint) CreateProducer() (component.Producer, error) {
	ctrl, ok := e.Context().(RouteController)
	if !ok {
		return nil, ErrNoController
	}
	return &Producer{endpoint: e, ctrl: ctrl}, nil
}

// Producer controlbus 生产者.
type Producer struct {
	endpoint *Endpoint
	ctrl     RouteController
}

// Endpoint 实现 component.Producer.
func (p *Producer) Endpoint() component.Endpoint {
	return p.endpoint
}

// Process 实现 processor.Processor.
//
// status 与 stats 的结果写入消息体；async 时控制动作提交到 controlbus 工作池，不等待结果.
func (p *Producer) Process(ctx context.Context, ex *exchange.Exchange) error {
	cfg := p.endpoint.cfg
	id := cfg.RouteID
	if v, ok := ex.In().Header(HeaderRouteID); ok {
		if s, _ := v.(string); s != "" {
			id = s
		}
	}

	switch cfg.Action {
	case ActionStatus:
		if id == "" {
			return ErrMissingRouteID
		}
		st, err := p.ctrl.RouteStatus(id)
		if err != nil {
			return err
		}
		ex.Message().SetBody(string(st))
		return nil
	case ActionStats:
		if id != "" {
			st, err := p.ctrl.RouteStats(id)
			if err != nil {
				return err
			}
			ex.Message().SetBody(st)
			return nil
		}
		ids := p.ctrl.RouteIDs()
		all := make([]route.Stats, 0, len(ids))
		for _, rid := range ids {
			if st, err := p.ctrl.RouteStats(rid); err == nil {
				all = append(all, st)
			}
		}
		ex.Message().SetBody(all)
		return nil
	}

	if id == "" {
		return ErrMissingRouteID
	}
	run := func(ctx context.Context) error {
		switch cfg.Action {
		case ActionStart:
			return p.ctrl.StartRoute(ctx, id)
		case ActionStop:
			return p.ctrl.StopRoute(ctx, id)
		case ActionSuspend:
			return p.ctrl.SuspendRoute(ctx, id)
		case ActionResume:
			return p.ctrl.ResumeRoute(ctx, id)
		default:
			return p.ctrl.RestartRoute(ctx, id, cfg.RestartDelay)
		}
	}
	if !cfg.Async {
		return run(ctx)
	}

	// 异步动作可能停止当前路由，不能继承 Exchange 的取消
	actx := context.WithoutCancel(ctx)
	log := p.endpoint.Logger()
	return p.endpoint.Context().Executor(Scheme).Submit(ctx, func() {
		if err := run(actx); err != nil {
			log.Warnf("[ControlBus] 异步执行失败: route=%s, action=%s, err=%v", id, cfg.Action, err)
		}
	})
}
