package route

import (
	"context"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// Policy 路由生命周期与 Exchange 钩子.
//
// 钩子在路由状态变更的调用方 goroutine 内执行，不应阻塞.
type Policy interface {
	OnInit(r *Route)
	OnStart(r *Route)
	OnStop(r *Route)
	OnSuspend(r *Route)
	OnResume(r *Route)
	OnExchangeBegin(r *Route, ex *exchange.Exchange)
	OnExchangeDone(r *Route, ex *exchange.Exchange)
}

// ConsumerGate 可选接口，由策略决定消费者当前是否可以运行.
//
// 任一策略返回 false 时，Start 使路由进入 Suspended 状态而不启动消费者.
type ConsumerGate interface {
	AllowConsumers(r *Route) bool
}

// ExchangeScope 可选接口，为每个 Exchange 派生处理上下文.
//
// 返回的 end 在 Exchange 处理结束、OnExchangeDone 之后调用.
type ExchangeScope interface {
	ScopeExchange(ctx context.Context, r *Route, ex *exchange.Exchange) (scoped context.Context, end func())
}

// PolicySupport 空实现，供策略嵌入后只覆盖需要的钩子.
type PolicySupport struct{}

func (PolicySupport) OnInit(*Route)                              {}
func (PolicySupport) OnStart(*Route)                             {}
func (PolicySupport) OnStop(*Route)                              {}
func (PolicySupport) OnSuspend(*Route)                           {}
func (PolicySupport) OnResume(*Route)                            {}
func (PolicySupport) OnExchangeBegin(*Route, *exchange.Exchange) {}
func (PolicySupport) OnExchangeDone(*Route, *exchange.Exchange)  {}
