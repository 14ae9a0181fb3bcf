// Package timer 提供按固定周期触发的消费端点.
//
//	timer:tick?period=5s&delay=1s&repeatCount=10
package timer

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
const Scheme = "timer"

// Config 端点配置.
type Config struct {
	// Period 触发周期.
	Period time.Duration
	// Delay 首次触发前的延迟.
	Delay time.Duration
	// RepeatCount 触发次数上限，0 表示不限.
	RepeatCount int64
	// Pattern 生成的 Exchange 模式.
	Pattern string
}

// Component timer 组件.
type Component struct{}

// New 创建 timer 组件.
func New() *Component {
	return &Component{}
}

// CreateEndpoint 实现 component.Component.
func (c *Component) CreateEndpoint(uri, remaining string, params component.Parameters) (component.Endpoint, error) {
	cfg := Config{Period: time.Second, Delay: time.Second, Pattern: "InOnly"}
	err := component.NewBinder().
		Duration("period", &cfg.Period).
		Duration("delay", &cfg.Delay).
		Int64("repeatCount", &cfg.RepeatCount).
		String("exchangePattern", &cfg.Pattern).
		Bind(params)
	if err != nil {
		return nil, err
	}
	if cfg.Period <= 0 {
		return nil, &component.InvalidParameterError{Key: "period", Value: cfg.Period, Err: errors.New("必须为正数")}
	}
	pattern, err := exchange.ParsePattern(cfg.Pattern)
	if err != nil {
		return nil, &component.InvalidParameterError{Key: "exchangePattern", Value: cfg.Pattern, Err: err}
	}

	return &Endpoint{
		EndpointBase: component.NewEndpointBase(uri),
		name:         remaining,
		cfg:          cfg,
		pattern:      pattern,
	}, nil
}

// Endpoint timer 端点，只能消费.
type Endpoint struct {
	component.EndpointBase
	name    string
	cfg     Config
	pattern exchange.Pattern
}

// CreateConsumer 实现 component.ConsumerCapable.
func (e *Endpoint) CreateConsumer(p processor.Processor) (component.Consumer, error) {
	return &Consumer{endpoint: e, processor: p}, nil
}

// Consumer timer 消费者，触发时同步处理，处理耗时超过周期时跳过错过的触发.
type Consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	paused  bool
	counter int64
}

// Endpoint 实现 component.Consumer.
func (c *Consumer) Endpoint() component.Endpoint {
	return c.endpoint
}

// Start 实现 component.Service.
func (c *Consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Stop 实现 component.Service.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suspend 暂停触发.
func (c *Consumer) Suspend(context.Context) error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

// Resume 恢复触发.
func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

// Counter 已触发次数.
func (c *Consumer) Counter() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

func (c *Consumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	cfg := c.endpoint.cfg

	if cfg.Delay > 0 {
		select {
		case <-time.After(cfg.Delay):
		case <-ctx.Done():
			return
		}
	}
	if !c.fire(ctx) {
		return
	}

	ticker := time.NewTicker(cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !c.fire(ctx) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// fire 触发一次，返回是否继续.
func (c *Consumer) fire(ctx context.Context) bool {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return true
	}
	c.counter++
	n := c.counter
	c.mu.Unlock()

	ex := c.endpoint.NewExchange(c.endpoint.pattern)
	ex.SetProperty(exchange.PropertyTimerName, c.endpoint.name)
	ex.SetProperty(exchange.PropertyTimerFiredTime, time.Now())
	ex.SetProperty(exchange.PropertyTimerCounter, n)

	processor.Invoke(ctx, c.processor, ex)
	if err := ex.Err(); err != nil && !errors.Is(err, context.Canceled) {
		c.endpoint.Logger().Warnf("[Timer] 处理失败: timer=%s, counter=%d, err=%v", c.endpoint.name, n, err)
	}

	limit := c.endpoint.cfg.RepeatCount
	return limit <= 0 || n < limit
}

// String 返回端点描述.
func (e *Endpoint) String() string {
	return fmt.Sprintf("timer:%s(period=%s)", e.name, e.cfg.Period)
}
