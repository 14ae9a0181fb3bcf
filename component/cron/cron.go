// Package cron 提供按 cron 表达式触发的消费端点.
//
// 表达式带秒字段，URI 中的空格写作 '+'：
//
//	cron:report?schedule=0+0/5+*+*+*+?
package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Scheme 组件 scheme.
const Scheme = "cron"

// ErrMissingSchedule 缺少 cron 表达式.
var ErrMissingSchedule = errors.New("cron: 缺少 schedule 参数")

var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config 端点配置.
type Config struct {
	// Schedule cron 表达式.
	Schedule string
	// Timezone 时区名称，为空时使用本地时区.
	Timezone string
}

// Component cron 组件.
type Component struct{}

// New 创建 cron 组件.
func New() *Component {
	return &Component{}
}

// CreateEndpoint 实现 component.Component.
func (c *Component) CreateEndpoint(uri, remaining string, params component.Parameters) (component.Endpoint, error) {
	var cfg Config
	err := component.NewBinder().
		String("schedule", &cfg.Schedule).
		String("timezone", &cfg.Timezone).
		Bind(params)
	if err != nil {
		return nil, err
	}
	if cfg.Schedule == "" {
		return nil, &component.InvalidParameterError{Key: "schedule", Err: ErrMissingSchedule}
	}

	loc := time.Local
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, &component.InvalidParameterError{Key: "timezone", Value: cfg.Timezone, Err: err}
		}
	}
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, &component.InvalidParameterError{Key: "schedule", Value: cfg.Schedule, Err: err}
	}

	return &Endpoint{
		EndpointBase: component.NewEndpointBase(uri),
		name:         remaining,
		cfg:          cfg,
		location:     loc,
	}, nil
}

// Endpoint cron 端点，只能消费.
type Endpoint struct {
	component.EndpointBase
	name     string
	cfg      Config
	location *time.Location
}

// CreateConsumer 实现 component.ConsumerCapable.
func (e *Endpoint) CreateConsumer(p processor.Processor) (component.Consumer, error) {
	return &Consumer{endpoint: e, processor: p}, nil
}

// Consumer cron 消费者，上一次触发未完成时跳过本次.
type Consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
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
	if c.cron != nil {
		return nil
	}

	cr := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(c.endpoint.location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := cr.AddFunc(c.endpoint.cfg.Schedule, c.fire); err != nil {
		return err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.cron = cr
	cr.Start()
	c.endpoint.Logger().Debugf("[Cron] 消费者启动: name=%s, schedule=%s", c.endpoint.name, c.endpoint.cfg.Schedule)
	return nil
}

// Stop 实现 component.Service，等待正在执行的触发完成.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cr, cancel := c.cron, c.cancel
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return nil
	}

	stopped := cr.Stop()
	select {
	case <-stopped.Done():
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
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

func (c *Consumer) fire() {
	c.mu.Lock()
	if c.paused || c.ctx == nil {
		c.mu.Unlock()
		return
	}
	c.counter++
	n, ctx := c.counter, c.ctx
	c.mu.Unlock()

	ex := c.endpoint.NewExchange(exchange.InOnly)
	ex.SetProperty(exchange.PropertyTimerName, c.endpoint.name)
	ex.SetProperty(exchange.PropertyTimerFiredTime, time.Now())
	ex.SetProperty(exchange.PropertyTimerCounter, n)

	processor.Invoke(ctx, c.processor, ex)
	if err := ex.Err(); err != nil {
		c.endpoint.Logger().Warnf("[Cron] 处理失败: name=%s, counter=%d, err=%v", c.endpoint.name, n, err)
	}
}
