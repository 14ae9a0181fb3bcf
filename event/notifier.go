package event

import (
	"context"
	"errors"
	"sync"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
	"github.com/Tsukikage7/integration-kit/route"
)

// Handler 事件处理器.
type Handler func(ctx context.Context, ev Event) error

const all Type = "*"

// Notifier 事件通知器.
//
// 处理器同步执行，错误与 panic 只记录日志，不影响路由处理.
type Notifier struct {
	engine   string
	log      logger.Logger
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewNotifier 创建通知器.
func NewNotifier(engine string, log logger.Logger) *Notifier {
	return &Notifier{
		engine:   engine,
		log:      logger.OrNop(log),
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe 订阅指定类型的事件.
func (n *Notifier) Subscribe(t Type, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[t] = append(n.handlers[t], h)
}

// SubscribeAll 订阅所有事件.
func (n *Notifier) SubscribeAll(h Handler) {
	n.Subscribe(all, h)
}

// Enabled 是否有处理器关心该类型.
func (n *Notifier) Enabled(t Type) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.handlers[t]) > 0 || len(n.handlers[all]) > 0
}

// Publish 发布事件，返回所有处理器的错误.
func (n *Notifier) Publish(ctx context.Context, ev Event) error {
	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.handlers[ev.Type])+len(n.handlers[all]))
	handlers = append(handlers, n.handlers[ev.Type]...)
	handlers = append(handlers, n.handlers[all]...)
	n.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}
	if ev.Engine == "" {
		ev.Engine = n.engine
	}

	var errs []error
	for _, h := range handlers {
		if err := processor.Safely(func() error { return h(ctx, ev) }); err != nil {
			n.log.WithContext(ctx).With(logger.String("event", ev.EventName()), logger.Err(err)).
				Warn("[Event] 事件处理失败")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) emit(t Type, routeID string, ex *exchange.Exchange, err error) {
	if !n.Enabled(t) {
		return
	}
	ev := New(t)
	ev.RouteID = routeID
	ev.Exchange = ex
	ev.Err = err
	_ = n.Publish(context.Background(), ev)
}

// WatchRoute 把路由状态变更转换为路由事件.
func (n *Notifier) WatchRoute(r *route.Route) {
	// 状态回调在路由操作锁内串行执行
	var resuming bool
	r.OnStatusChange(func(r *route.Route, from, to route.Status) {
		var t Type
		switch to {
		case route.Starting:
			resuming = from == route.Suspended
			return
		case route.Started:
			t = RouteStarted
			if resuming {
				t = RouteResumed
			}
		case route.Suspended:
			t = RouteSuspended
		case route.Stopped:
			t = RouteStopped
		case route.Failed:
			n.emit(RouteFailed, r.ID(), nil, r.LastError())
			return
		default:
			return
		}
		n.emit(t, r.ID(), nil, nil)
	})
}

// RedeliveryListener 返回用于 errorhandler.WithRedeliveryListener 的回调.
func (n *Notifier) RedeliveryListener() func(ex *exchange.Exchange, attempt int) {
	return func(ex *exchange.Exchange, attempt int) {
		if !n.Enabled(ExchangeRedelivery) {
			return
		}
		ev := New(ExchangeRedelivery)
		ev.RouteID = ex.FromRouteID()
		ev.Exchange = ex
		ev.Attempt = attempt
		ev.Err = ex.Err()
		_ = n.Publish(context.Background(), ev)
	}
}

// Policy 返回发布 Exchange 事件的路由策略.
func (n *Notifier) Policy() route.Policy {
	return &exchangePolicy{n: n}
}

type exchangePolicy struct {
	route.PolicySupport
	n *Notifier
}

func (p *exchangePolicy) OnExchangeBegin(r *route.Route, ex *exchange.Exchange) {
	if ex.FromRouteID() == r.ID() {
		p.n.emit(ExchangeCreated, r.ID(), ex, nil)
	}
}

func (p *exchangePolicy) OnExchangeDone(r *route.Route, ex *exchange.Exchange) {
	if ex.FromRouteID() != r.ID() {
		return
	}
	if ex.Failed() {
		p.n.emit(ExchangeFailed, r.ID(), ex, ex.Err())
		return
	}
	p.n.emit(ExchangeCompleted, r.ID(), ex, nil)
}
