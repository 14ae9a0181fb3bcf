// Package component 定义组件与端点 SPI.
//
// 组件按 URI scheme 注册到引擎，负责从 URI 创建端点.
// 端点的能力通过可选接口表达：能生产、能消费、有生命周期、可暂停.
package component

import (
	"context"
	"strings"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/executor"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Context 组件可见的引擎视图.
type Context interface {
	exchange.Context
	// Logger 返回引擎日志记录器.
	Logger() logger.Logger
	// Endpoint 解析端点，同一规范化 URI 返回同一实例.
	Endpoint(uri string) (Endpoint, error)
	// Executor 返回命名工作池，不存在时按默认大小创建.
	Executor(name string) *executor.Pool
	// Lookup 查找注册的 bean.
	Lookup(name string) (any, bool)
}

// Component 端点工厂.
type Component interface {
	// CreateEndpoint 创建端点，并从 params 中删除已识别的参数.
	CreateEndpoint(uri, remaining string, params Parameters) (Endpoint, error)
}

// Endpoint 端点.
type Endpoint interface {
	URI() string
}

// Producer 向端点发送 Exchange.
type Producer interface {
	processor.Processor
	Endpoint() Endpoint
}

// Consumer 从端点接收消息并交给处理器.
type Consumer interface {
	Service
	Endpoint() Endpoint
}

// ProducerCapable 能创建生产者的端点.
type ProducerCapable interface {
	CreateProducer() (Producer, error)
}

// ConsumerCapable 能创建消费者的端点.
type ConsumerCapable interface {
	CreateConsumer(p processor.Processor) (Consumer, error)
}

// Service 有生命周期的对象.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Suspendable 可暂停的对象.
type Suspendable interface {
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// ContextAware 需要引擎视图的对象.
type ContextAware interface {
	SetContext(ctx Context)
}

// LenientProperties 接受未识别参数的端点.
type LenientProperties interface {
	LenientProperties() bool
}

// Capability 端点能力位.
type Capability uint8

const (
	// CanProduce 能创建生产者.
	CanProduce Capability = 1 << iota
	// CanConsume 能创建消费者.
	CanConsume
)

// Has 是否包含能力.
func (c Capability) Has(x Capability) bool {
	return c&x == x
}

func (c Capability) String() string {
	var parts []string
	if c.Has(CanProduce) {
		parts = append(parts, "produce")
	}
	if c.Has(CanConsume) {
		parts = append(parts, "consume")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Capabilities 返回端点能力.
func Capabilities(ep Endpoint) Capability {
	var c Capability
	if _, ok := ep.(ProducerCapable); ok {
		c |= CanProduce
	}
	if _, ok := ep.(ConsumerCapable); ok {
		c |= CanConsume
	}
	return c
}

// NewProducer 从端点创建生产者.
func NewProducer(ep Endpoint) (Producer, error) {
	pc, ok := ep.(ProducerCapable)
	if !ok {
		return nil, &ResolveEndpointError{URI: ep.URI(), Err: ErrNotProducer}
	}
	return pc.CreateProducer()
}

// NewConsumer 从端点创建消费者.
func NewConsumer(ep Endpoint, p processor.Processor) (Consumer, error) {
	cc, ok := ep.(ConsumerCapable)
	if !ok {
		return nil, &ResolveEndpointError{URI: ep.URI(), Err: ErrNotConsumer}
	}
	return cc.CreateConsumer(p)
}

// StartService 启动实现了 Service 的对象.
func StartService(ctx context.Context, v any) error {
	if s, ok := v.(Service); ok {
		return s.Start(ctx)
	}
	return nil
}

// StopService 停止实现了 Service 的对象.
func StopService(ctx context.Context, v any) error {
	if s, ok := v.(Service); ok {
		return s.Stop(ctx)
	}
	return nil
}

// IsLenient 端点是否接受未识别参数.
func IsLenient(ep Endpoint) bool {
	l, ok := ep.(LenientProperties)
	return ok && l.LenientProperties()
}

// CheckUnknown params 非空时返回 UnknownParameterError.
func CheckUnknown(uri string, params Parameters) error {
	if len(params) == 0 {
		return nil
	}
	return &UnknownParameterError{URI: uri, Keys: params.Keys()}
}

// EndpointBase 端点公共字段，供组件嵌入.
type EndpointBase struct {
	uri string
	ctx Context
}

// NewEndpointBase 创建端点公共字段.
func NewEndpointBase(uri string) EndpointBase {
	return EndpointBase{uri: uri}
}

// URI 返回端点 URI.
func (e *EndpointBase) URI() string {
	return e.uri
}

// SetContext 实现 ContextAware.
func (e *EndpointBase) SetContext(ctx Context) {
	e.ctx = ctx
}

// Context 返回引擎视图，可能为 nil.
func (e *EndpointBase) Context() Context {
	return e.ctx
}

// Logger 返回引擎日志记录器，无引擎时返回空实现.
func (e *EndpointBase) Logger() logger.Logger {
	if e.ctx == nil {
		return logger.NewNop()
	}
	return logger.OrNop(e.ctx.Logger())
}

// NewExchange 在端点上创建 Exchange.
func (e *EndpointBase) NewExchange(pattern exchange.Pattern) *exchange.Exchange {
	var ctx exchange.Context
	if e.ctx != nil {
		ctx = e.ctx
	}
	ex := exchange.NewWithPattern(ctx, pattern)
	ex.SetFromEndpoint(e.uri)
	return ex
}
