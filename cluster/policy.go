package cluster

import (
	"context"
	"errors"
	"sync"

	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/route"
)

// RoutePolicy 集群路由策略：只有 leader 上的路由消费消息.
//
// 非 leader 启动的路由保持 Suspended，获得领导权时恢复，失去时暂停.
type RoutePolicy struct {
	route.PolicySupport

	view *View
	log  logger.Logger

	mu     sync.Mutex
	routes map[string]*route.Route
}

// NewRoutePolicy 创建集群路由策略.
func NewRoutePolicy(view *View, log logger.Logger) (*RoutePolicy, error) {
	if view == nil {
		return nil, ErrNilView
	}
	p := &RoutePolicy{
		view:   view,
		log:    logger.OrNop(log),
		routes: make(map[string]*route.Route),
	}
	view.AddListener(p.onLeadership)
	return p, nil
}

// AllowConsumers 实现 route.ConsumerGate.
func (p *RoutePolicy) AllowConsumers(*route.Route) bool {
	return p.view.IsLeader()
}

// OnInit 实现 route.Policy.
func (p *RoutePolicy) OnInit(r *route.Route) {
	p.mu.Lock()
	p.routes[r.ID()] = r
	p.mu.Unlock()
}

// Forget 不再管理路由.
func (p *RoutePolicy) Forget(routeID string) {
	p.mu.Lock()
	delete(p.routes, routeID)
	p.mu.Unlock()
}

// Routes 返回受管路由 ID.
func (p *RoutePolicy) Routes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.routes))
	for id := range p.routes {
		ids = append(ids, id)
	}
	return ids
}

func (p *RoutePolicy) onLeadership(leader bool) {
	p.mu.Lock()
	routes := make([]*route.Route, 0, len(p.routes))
	for _, r := range p.routes {
		routes = append(routes, r)
	}
	p.mu.Unlock()

	ctx := context.Background()
	for _, r := range routes {
		var err error
		switch {
		case leader && r.Status() == route.Suspended:
			err = r.Resume(ctx)
		case !leader && r.Status() == route.Started:
			err = r.Suspend(ctx)
		default:
			continue
		}
		// 路由状态可能已被其他操作改变
		if err != nil && !errors.Is(err, route.ErrIllegalTransition) {
			p.log.With(logger.RouteID(r.ID()), logger.Err(err)).Warn("[Cluster] 切换路由状态失败")
		}
	}
}
