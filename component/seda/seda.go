// Package seda 提供异步的引擎内队列端点.
//
// 生产者把 Exchange 的副本放入有界队列，消费者在自己的 goroutine 中处理.
// 同名端点共享同一个队列，队列容量以第一次创建时为准.
//
//	seda:orders?size=100&concurrentConsumers=4&blockWhenFull=true
package seda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Scheme 组件 scheme.
const Scheme = "seda"

// 预定义错误.
var (
	// ErrQueueFull 队列已满.
	ErrQueueFull = errors.New("seda: 队列已满")

	// ErrExchangeTimeout 等待消费者处理超时.
	ErrExchangeTimeout = errors.New("seda: 等待处理结果超时")

	// ErrInvalidWaitMode waitForTaskToComplete 取值无效.
	ErrInvalidWaitMode = errors.New("seda: waitForTaskToComplete 取值无效")
)

// WaitMode 生产者是否等待消费者处理完成.
type WaitMode string

// WaitMode 取值.
const (
	WaitIfReplyExpected WaitMode = "IfReplyExpected"
	WaitAlways          WaitMode = "Always"
	WaitNever           WaitMode = "Never"
)

// Config 端点配置.
type Config struct {
	// Size 队列容量.
	Size int
	// ConcurrentConsumers 每个消费者的并发 worker 数.
	ConcurrentConsumers int
	// BlockWhenFull 队列满时阻塞而不是失败.
	BlockWhenFull bool
	// OfferTimeout 阻塞入队的超时时间，0 表示一直等待.
	OfferTimeout time.Duration
	// Timeout 等待处理结果的超时时间，0 表示一直等待.
	Timeout time.Duration
	// WaitForTaskToComplete 等待模式.
	WaitForTaskToComplete WaitMode
}

// DefaultConfig 返回默认配置.
func DefaultConfig() Config {
	return Config{
		Size:                  1000,
		ConcurrentConsumers:   1,
		Timeout:               30 * time.Second,
		WaitForTaskToComplete: WaitIfReplyExpected,
	}
}

type item struct {
	ex       *exchange.Exchange
	complete func()
}

// Component seda 组件，队列属于组件实例.
type Component struct {
	mu     sync.Mutex
	queues map[string]chan *item
}

// New 创建 seda 组件.
func New() *Component {
	return &Component{queues: make(map[string]chan *item)}
}

// CreateEndpoint 实现 component.Component.
func (c *Component) CreateEndpoint(uri, remaining string, params component.Parameters) (component.Endpoint, error) {
	if remaining == "" {
		return nil, fmt.Errorf("%w: seda 端点缺少名称", component.ErrInvalidURI)
	}
	cfg := DefaultConfig()
	var wait string
	err := component.NewBinder().
		Int("size", &cfg.Size).
		Int("concurrentConsumers", &cfg.ConcurrentConsumers).
		Bool("blockWhenFull", &cfg.BlockWhenFull).
		Duration("offerTimeout", &cfg.OfferTimeout).
		Duration("timeout", &cfg.Timeout).
		String("waitForTaskToComplete", &wait).
		Bind(params)
	if err != nil {
		return nil, err
	}
	if wait != "" {
		mode, err := parseWaitMode(wait)
		if err != nil {
			return nil, &component.InvalidParameterError{Key: "waitForTaskToComplete", Value: wait, Err: err}
		}
		cfg.WaitForTaskToComplete = mode
	}
	if cfg.Size <= 0 {
		return nil, &component.InvalidParameterError{Key: "size", Value: cfg.Size, Err: errors.New("必须为正数")}
	}
	if cfg.ConcurrentConsumers <= 0 {
		cfg.ConcurrentConsumers = 1
	}

	return &Endpoint{
		EndpointBase: component.NewEndpointBase(uri),
		name:         remaining,
		cfg:          cfg,
		queue:        c.queue(remaining, cfg.Size),
	}, nil
}

func (c *Component) queue(name string, size int) chan *item {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[name]
	if !ok {
		q = make(chan *item, size)
		c.queues[name] = q
	}
	return q
}

func parseWaitMode(s string) (WaitMode, error) {
	for _, m := range []WaitMode{WaitIfReplyExpected, WaitAlways, WaitNever} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWaitMode, s)
}

// Endpoint seda 端点.
type Endpoint struct {
	component.EndpointBase
	name  string
	cfg   Config
	queue chan *item
}

// Config 返回端点配置.
func (e *Endpoint) Config() Config {
	return e.cfg
}

// QueueSize 当前排队数量.
func (e *Endpoint) QueueSize() int {
	return len(e.queue)
}

// CreateProducer 实现 component.ProducerCapable.
func (e *Endpoint) CreateProducer() (component.Producer, error) {
	return &Producer{endpoint: e}, nil
}

// CreateConsumer 实现 component.ConsumerCapable.
func (e *Endpoint) CreateConsumer(p processor.Processor) (component.Consumer, error) {
	return &Consumer{endpoint: e, processor: p}, nil
}

// Producer seda 生产者.
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
//
// 不等待时入队后立即完成；等待时在消费者处理完成后把结果复制回原 Exchange.
func (p *Producer) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	cfg := p.endpoint.cfg
	wait := cfg.WaitForTaskToComplete == WaitAlways ||
		(cfg.WaitForTaskToComplete == WaitIfReplyExpected && ex.Pattern() == exchange.InOut)

	cp := ex.Copy()
	if !wait {
		ex.HandoverCompletions(cp)
		if err := p.offer(ctx, &item{ex: cp}); err != nil {
			cp.HandoverCompletions(ex)
			ex.SetErr(err)
		}
		done(true)
		return true
	}

	guarded := processor.Once(done)
	var (
		mu       sync.Mutex
		finished bool
		timer    *time.Timer
	)
	finish := func(apply func()) {
		mu.Lock()
		if finished {
			mu.Unlock()
			return
		}
		finished = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		apply()
		guarded(false)
	}

	it := &item{ex: cp, complete: func() {
		finish(func() { ex.CopyResultsFrom(cp) })
	}}
	if err := p.offer(ctx, it); err != nil {
		ex.SetErr(err)
		guarded(true)
		return true
	}

	mu.Lock()
	if !finished && cfg.Timeout > 0 {
		timer = time.AfterFunc(cfg.Timeout, func() {
			finish(func() {
				ex.SetErr(fmt.Errorf("%w: %s 超过 %s", ErrExchangeTimeout, p.endpoint.URI(), cfg.Timeout))
			})
		})
	}
	mu.Unlock()
	return false
}

func (p *Producer) offer(ctx context.Context, it *item) error {
	q := p.endpoint.queue
	if !p.endpoint.cfg.BlockWhenFull {
		select {
		case q <- it:
			return nil
		default:
			return fmt.Errorf("%w: %s 容量 %d", ErrQueueFull, p.endpoint.URI(), cap(q))
		}
	}

	if t := p.endpoint.cfg.OfferTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	select {
	case q <- it:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s 入队超时", ErrQueueFull, p.endpoint.URI())
		}
		return ctx.Err()
	}
}

// Consumer seda 消费者.
type Consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	paused  bool
	resumed chan struct{}
}

// Endpoint 实现 component.Consumer.
func (c *Consumer) Endpoint() component.Endpoint {
	return c.endpoint
}

// Start 启动 worker.
func (c *Consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.paused = false
	c.resumed = make(chan struct{})
	for range c.endpoint.cfg.ConcurrentConsumers {
		c.wg.Add(1)
		go c.poll(ctx)
	}
	c.endpoint.Logger().Debugf("[Seda] 消费者启动: endpoint=%s, workers=%d",
		c.endpoint.URI(), c.endpoint.cfg.ConcurrentConsumers)
	return nil
}

// Stop 停止 worker 并等待正在处理的 Exchange 完成，未消费的消息留在队列中.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	if cancel != nil {
		cancel()
	}
	if c.paused {
		c.paused = false
		close(c.resumed)
	}
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suspend 暂停取消息.
func (c *Consumer) Suspend(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resumed = make(chan struct{})
	}
	return nil
}

// Resume 恢复取消息.
func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resumed)
	}
	return nil
}

func (c *Consumer) waitIfPaused(ctx context.Context) bool {
	c.mu.Lock()
	paused, resumed := c.paused, c.resumed
	c.mu.Unlock()
	if !paused {
		return true
	}
	select {
	case <-resumed:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) poll(ctx context.Context) {
	defer c.wg.Done()
	for {
		if !c.waitIfPaused(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case it := <-c.endpoint.queue:
			if !c.waitIfPaused(ctx) {
				c.requeue(it)
				return
			}
			c.handle(ctx, it)
		}
	}
}

// requeue 停止时把已取出但未处理的消息放回队列.
func (c *Consumer) requeue(it *item) {
	select {
	case c.endpoint.queue <- it:
	default:
		c.endpoint.Logger().Warnf("[Seda] 队列已满，丢弃未处理消息: endpoint=%s, exchange=%s",
			c.endpoint.URI(), it.ex.ID())
	}
}

func (c *Consumer) handle(ctx context.Context, it *item) {
	done := make(chan struct{})
	processor.InvokeAsync(ctx, c.processor, it.ex, func(bool) { close(done) })
	<-done
	if it.complete != nil {
		it.complete()
		return
	}
	// 不等待时完成回调已随副本转移，由消费者结束工作单元
	it.ex.Done()
	if err := it.ex.Err(); err != nil {
		c.endpoint.Logger().Warnf("[Seda] 消息处理失败: endpoint=%s, exchange=%s, err=%v",
			c.endpoint.URI(), it.ex.ID(), err)
	}
}
