package route

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/errorhandler"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Resolver 把 URI 解析为端点，通常由引擎提供.
type Resolver interface {
	Endpoint(uri string) (component.Endpoint, error)
}

// step 处理步骤：处理器或目标端点 URI.
type step struct {
	uri  string
	proc processor.Processor
}

// Definition 路由定义，Build 时解析端点并组装处理管道.
//
//	route.From("timer:tick?period=1s").
//		RouteID("ticker").
//		Process(enrich).
//		To("log:ticks", "seda:out")
type Definition struct {
	id           string
	description  string
	from         []string
	steps        []step
	errorHandler errorhandler.ErrorHandler
	policies     []Policy
	autoStartup  bool
	startupOrder int
	shutdown     *ShutdownStrategy
}

// From 以输入端点 URI 开始定义路由.
func From(uris ...string) *Definition {
	return &Definition{from: uris, autoStartup: true}
}

// RouteID 设置路由 ID，未设置时构建时自动生成.
func (d *Definition) RouteID(id string) *Definition {
	d.id = id
	return d
}

// ID 返回已设置的路由 ID.
func (d *Definition) ID() string {
	return d.id
}

// Describe 设置描述.
func (d *Definition) Describe(desc string) *Definition {
	d.description = desc
	return d
}

// Process 追加处理器步骤.
func (d *Definition) Process(p processor.Processor) *Definition {
	d.steps = append(d.steps, step{proc: p})
	return d
}

// ProcessFunc 追加函数处理器步骤.
func (d *Definition) ProcessFunc(fn func(ctx context.Context, ex *exchange.Exchange) error) *Definition {
	return d.Process(processor.Func(fn))
}

// To 依次追加发送到各端点的步骤.
func (d *Definition) To(uris ...string) *Definition {
	for _, uri := range uris {
		d.steps = append(d.steps, step{uri: uri})
	}
	return d
}

// ErrorHandler 设置错误处理器，它包装每个步骤.
func (d *Definition) ErrorHandler(h errorhandler.ErrorHandler) *Definition {
	d.errorHandler = h
	return d
}

// RoutePolicy 追加路由策略.
func (d *Definition) RoutePolicy(policies ...Policy) *Definition {
	d.policies = append(d.policies, policies...)
	return d
}

// AutoStartup 设置是否随引擎自动启动.
func (d *Definition) AutoStartup(auto bool) *Definition {
	d.autoStartup = auto
	return d
}

// StartupOrder 设置启动顺序.
func (d *Definition) StartupOrder(order int) *Definition {
	d.startupOrder = order
	return d
}

// Shutdown 设置停止策略.
func (d *Definition) Shutdown(s ShutdownStrategy) *Definition {
	d.shutdown = &s
	return d
}

// Build 解析端点、创建生产者并组装路由.
//
// 实现 component.Service 的步骤与生产者随路由启停.
// opts 作为默认值先应用，定义中显式设置的项覆盖它们.
func (d *Definition) Build(res Resolver, opts ...Option) (*Route, error) {
	if res == nil {
		return nil, ErrNoEndpointResolver
	}
	if len(d.from) == 0 {
		return nil, ErrNoInputs
	}
	id := d.id
	if id == "" {
		id = "route-" + uuid.NewString()[:8]
	}

	inputs := make([]component.Endpoint, 0, len(d.from))
	for _, uri := range d.from {
		ep, err := res.Endpoint(uri)
		if err != nil {
			return nil, fmt.Errorf("route: 路由 %s 解析输入端点失败: %w", id, err)
		}
		inputs = append(inputs, ep)
	}

	var services []any
	procs := make([]processor.Processor, 0, len(d.steps))
	for _, s := range d.steps {
		p := s.proc
		if s.uri != "" {
			ep, err := res.Endpoint(s.uri)
			if err != nil {
				return nil, fmt.Errorf("route: 路由 %s 解析目标端点失败: %w", id, err)
			}
			producer, err := component.NewProducer(ep)
			if err != nil {
				return nil, fmt.Errorf("route: 路由 %s 创建生产者失败: %w", id, err)
			}
			p = &SendTo{uri: ep.URI(), producer: producer}
		}
		if _, ok := p.(component.Service); ok {
			services = append(services, p)
		}
		if d.errorHandler != nil {
			p = d.errorHandler.Wrap(p)
		}
		procs = append(procs, p)
	}

	base := []Option{
		WithDescription(d.description),
		WithPolicies(d.policies...),
		WithServices(services...),
		WithAutoStartup(d.autoStartup),
		WithStartupOrder(d.startupOrder),
	}
	if d.shutdown != nil {
		base = append(base, WithShutdownStrategy(*d.shutdown))
	}
	return New(id, inputs, processor.NewPipeline(procs...), append(slices.Clone(opts), base...)...)
}

// SendTo 发送到端点的步骤，记录目标端点到 ToEndpoint 属性.
type SendTo struct {
	uri      string
	producer component.Producer
}

// NewSendTo 创建发送步骤.
func NewSendTo(producer component.Producer) *SendTo {
	return &SendTo{uri: producer.Endpoint().URI(), producer: producer}
}

// URI 目标端点 URI.
func (s *SendTo) URI() string {
	return s.uri
}

// Process 实现 processor.Processor.
func (s *SendTo) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, s, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (s *SendTo) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	ex.SetProperty(exchange.PropertyToEndpoint, s.uri)
	return processor.InvokeAsync(ctx, s.producer, ex, done)
}

// Start 实现 component.Service.
func (s *SendTo) Start(ctx context.Context) error {
	return component.StartService(ctx, s.producer)
}

// Stop 实现 component.Service.
func (s *SendTo) Stop(ctx context.Context) error {
	return component.StopService(ctx, s.producer)
}
