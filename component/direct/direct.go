// Package direct 提供同步的引擎内端点.
//
// 生产者在调用方 goroutine 中直接调用同名消费者的处理器.
// 同一名称同一时刻只能有一个消费者.
//
//	from("direct:start") ... to("direct:start?block=true&timeout=5s")
package direct

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Scheme 组件 scheme.
const Scheme = "direct"

// 预定义错误.
var (
	// ErrNoConsumers 端点没有可用的消费者.
	ErrNoConsumers = errors.New("direct: 端点没有可用的消费者")

	// ErrConsumerExists 同名消费者已存在.
	ErrConsumerExists = errors.New("direct: 同名消费者已存在")
)

// Config 端点配置.
type Config struct {
	// Block 无消费者时是否等待.
	Block bool
	// Timeout 等待消费者的超时时间.
	Timeout time.Duration
}

// Component direct 组件，消费者注册表属于组件实例.
type Component struct {
	mu        sync.Mutex
	consumers map[string]*Consumer
	changed   chan struct{}
}

// New 创建 direct 组件.
func New() *Component {
	return &Component{
		consumers: make(map[string]*Consumer),
		changed:   make(chan struct{}),
	}
}

// CreateEndpoint 实现 component.Component.
func (c *Component) CreateEndpoint(uri, remaining string, params component.Parameters) (component.Endpoint, error) {
	if remaining == "" {
		return nil, fmt.Errorf("%w: direct 端点缺少名称", component.ErrInvalidURI)
	}
	cfg := Config{Block: true, Timeout: 30 * time.Second}
	err := component.NewBinder().
		Bool("block", &cfg.Block).
		Duration("timeout", &cfg.Timeout).
		Bind(params)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		EndpointBase: component.NewEndpointBase(uri),
		comp:         c,
		name:         remaining,
		cfg:          cfg,
	}, nil
}

func (c *Component) register(name string, consumer *Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.consumers[name]; ok && existing != consumer {
		return fmt.Errorf("%w: %s", ErrConsumerExists, name)
	}
	c.consumers[name] = consumer
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

func (c *Component) unregister(name string, consumer *Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumers[name] == consumer {
		delete(c.consumers, name)
	}
}

func (c *Component) lookup(name string) (*Consumer, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumers[name], c.changed
}

// awaitConsumer 按 block/timeout 配置等待消费者.
func (c *Component) awaitConsumer(ctx context.Context, name string, cfg Config) (*Consumer, error) {
	consumer, changed := c.lookup(name)
	if consumer != nil {
		return consumer, nil
	}
	if !cfg.Block || cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: direct:%s", ErrNoConsumers, name)
	}

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-changed:
			if consumer, changed = c.lookup(name); consumer != nil {
				return consumer, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: direct:%s 等待 %s 超时", ErrNoConsumers, name, cfg.Timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Endpoint direct 端点.
type Endpoint struct {
	component.EndpointBase
	comp *Component
	name string
	cfg  Config
}

// Name 返回端点名称.
func (e *Endpoint) Name() string {
	return e.name
}

// CreateProducer 实现 component.ProducerCapable.
func (e *Endpoint) CreateProducer() (component.Producer, error) {
	return &Producer{endpoint: e}, nil
}

// CreateConsumer 实现 component.ConsumerCapable.
func (e *Endpoint) CreateConsumer(p processor.Processor) (component.Consumer, error) {
	return &Consumer{endpoint: e, processor: p}, nil
}

// Producer direct 生产者.
type Producer struct {
	endpoint *Endpoint
}

// Endpoint 实现 component.Producer.
func (p *Producer) Endpoint() component.Endpoint {
	return p.endpoint
}

// Process 实现 processor.Processor.
func (p *Producer) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, p, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (p *Producer) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	consumer, err := p.endpoint.comp.awaitConsumer(ctx, p.endpoint.name, p.endpoint.cfg)
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	return processor.InvokeAsync(ctx, consumer.processor, ex, done)
}

// Consumer direct 消费者，暂停时从注册表中移除.
type Consumer struct {
	endpoint  *Endpoint
	processor processor.Processor
}

// Endpoint 实现 component.Consumer.
func (c *Consumer) Endpoint() component.Endpoint {
	return c.endpoint
}

// Start 实现 component.Service.
func (c *Consumer) Start(context.Context) error {
	return c.endpoint.comp.register(c.endpoint.name, c)
}

// Stop 实现 component.Service.
func (c *Consumer) Stop(context.Context) error {
	c.endpoint.comp.unregister(c.endpoint.name, c)
	return nil
}

// Suspend 实现 component.Suspendable.
func (c *Consumer) Suspend(ctx context.Context) error {
	return c.Stop(ctx)
}

// Resume 实现 component.Suspendable.
func (c *Consumer) Resume(ctx context.Context) error {
	return c.Start(ctx)
}
