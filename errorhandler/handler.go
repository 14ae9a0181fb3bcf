// Package errorhandler 提供路由步骤的错误处理器：重投递、异常策略与死信通道.
//
// 错误处理器以通道方式包装单个路由步骤，重投递只重试失败的步骤.
// 重投递延迟通过 time.AfterFunc 异步等待，ctx 取消时放弃等待并保留原异常.
package errorhandler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// ErrorHandler 错误处理器.
type ErrorHandler interface {
	// Wrap 包装单个路由步骤.
	Wrap(step processor.Processor) processor.Processor
}

// NoErrorHandler 不处理错误，异常直接向上传播.
type NoErrorHandler struct{}

// Wrap 实现 ErrorHandler.
func (NoErrorHandler) Wrap(step processor.Processor) processor.Processor {
	return step
}

// Option 错误处理器选项.
type Option func(*RedeliveryErrorHandler)

// WithRedeliveryPolicy 设置默认重投递策略.
func WithRedeliveryPolicy(p RedeliveryPolicy) Option {
	return func(h *RedeliveryErrorHandler) {
		h.policy = p
	}
}

// WithExceptionPolicies 追加异常策略，按声明顺序匹配第一个.
func WithExceptionPolicies(policies ...*ExceptionPolicy) Option {
	return func(h *RedeliveryErrorHandler) {
		h.exceptions = append(h.exceptions, policies...)
	}
}

// WithOnRedelivery 每次重投递前执行的处理器，异常策略的设置优先.
func WithOnRedelivery(p processor.Processor) Option {
	return func(h *RedeliveryErrorHandler) {
		h.onRedelivery = p
	}
}

// WithUseOriginalMessage 死信通道收到路由的原始消息.
func WithUseOriginalMessage() Option {
	return func(h *RedeliveryErrorHandler) {
		h.useOriginalMessage = true
	}
}

// WithLogger 设置日志.
func WithLogger(log logger.Logger) Option {
	return func(h *RedeliveryErrorHandler) {
		h.logger = log
	}
}

// WithRedeliveryListener 每次重投递时回调，attempt 从 1 开始.
func WithRedeliveryListener(fn func(ex *exchange.Exchange, attempt int)) Option {
	return func(h *RedeliveryErrorHandler) {
		h.listener = fn
	}
}

// RedeliveryErrorHandler 支持重投递的错误处理器.
//
// 默认处理器在耗尽后记录日志并保留异常；死信通道在耗尽后把 Exchange 交给死信处理器并视为已处理.
type RedeliveryErrorHandler struct {
	policy             RedeliveryPolicy
	exceptions         []*ExceptionPolicy
	deadLetter         processor.Processor
	onRedelivery       processor.Processor
	useOriginalMessage bool
	listener           func(*exchange.Exchange, int)
	logger             logger.Logger
}

// NewDefault 创建默认错误处理器.
func NewDefault(opts ...Option) (*RedeliveryErrorHandler, error) {
	return newHandler(nil, opts)
}

// NewDeadLetterChannel 创建死信通道错误处理器.
func NewDeadLetterChannel(deadLetter processor.Processor, opts ...Option) (*RedeliveryErrorHandler, error) {
	if deadLetter == nil {
		return nil, ErrNoDeadLetter
	}
	return newHandler(deadLetter, opts)
}

func newHandler(deadLetter processor.Processor, opts []Option) (*RedeliveryErrorHandler, error) {
	h := &RedeliveryErrorHandler{policy: DefaultRedeliveryPolicy(), deadLetter: deadLetter}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logger.OrNop(h.logger)
	if err := h.policy.Validate(); err != nil {
		return nil, err
	}
	for _, p := range h.exceptions {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Wrap 实现 ErrorHandler.
func (h *RedeliveryErrorHandler) Wrap(step processor.Processor) processor.Processor {
	return &channel{handler: h, step: step}
}

// exceptionPolicy 返回第一个匹配 err 的异常策略，匹配函数 panic 时返回该 panic.
func (h *RedeliveryErrorHandler) exceptionPolicy(err error) (*ExceptionPolicy, error) {
	for _, p := range h.exceptions {
		ok, panicErr := p.match(err)
		if panicErr != nil {
			return nil, panicErr
		}
		if ok {
			return p, nil
		}
	}
	return nil, nil
}

// channel 包装单个步骤的错误处理通道.
type channel struct {
	handler *RedeliveryErrorHandler
	step    processor.Processor
}

type attemptState struct {
	input   *exchange.Message
	counter int
	delay   time.Duration
}

func (c *channel) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, c, ex)
}

func (c *channel) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	st := &attemptState{input: ex.In().Copy()}
	if _, ok := ex.Property(exchange.PropertyOriginalMessage); !ok {
		ex.SetProperty(exchange.PropertyOriginalMessage, st.input.Copy())
	}
	return c.run(ctx, ex, st, done)
}

// run 同步完成的尝试在循环内继续，异步完成或延迟后的尝试在回调中继续.
func (c *channel) run(ctx context.Context, ex *exchange.Exchange, st *attemptState, done processor.Callback) bool {
	for {
		completed := processor.InvokeAsync(ctx, c.step, ex, func(doneSync bool) {
			if doneSync {
				return
			}
			c.continueAsync(ctx, ex, st, done)
		})
		if !completed {
			return false
		}
		delay, again := c.decide(ctx, ex, st)
		if !again {
			done(true)
			return true
		}
		if delay > 0 {
			c.schedule(ctx, ex, st, delay, done)
			return false
		}
		if !c.prepare(ctx, ex, st) {
			done(true)
			return true
		}
	}
}

func (c *channel) continueAsync(ctx context.Context, ex *exchange.Exchange, st *attemptState, done processor.Callback) {
	delay, again := c.decide(ctx, ex, st)
	if !again {
		done(false)
		return
	}
	if delay > 0 {
		c.schedule(ctx, ex, st, delay, done)
		return
	}
	if !c.prepare(ctx, ex, st) {
		done(false)
		return
	}
	c.run(ctx, ex, st, func(bool) { done(false) })
}

// schedule 延迟后重投递，ctx 先取消时保留原异常并结束.
func (c *channel) schedule(ctx context.Context, ex *exchange.Exchange, st *attemptState, delay time.Duration, done processor.Callback) {
	var (
		mu      sync.Mutex
		claimed atomic.Bool
		unwatch func() bool
		timer   *time.Timer
	)
	mu.Lock()
	defer mu.Unlock()
	timer = time.AfterFunc(delay, func() {
		mu.Lock()
		stop := unwatch
		mu.Unlock()
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		stop()
		if !c.prepare(ctx, ex, st) {
			done(false)
			return
		}
		c.run(ctx, ex, st, func(bool) { done(false) })
	})
	unwatch = context.AfterFunc(ctx, func() {
		mu.Lock()
		tm := timer
		mu.Unlock()
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		tm.Stop()
		done(false)
	})
}

// decide 判断是否重投递；不再重投递时完成耗尽处理.
func (c *channel) decide(ctx context.Context, ex *exchange.Exchange, st *attemptState) (time.Duration, bool) {
	if !ex.Failed() || ex.IsErrorHandled() {
		return 0, false
	}
	h := c.handler
	ep, panicErr := h.exceptionPolicy(ex.Err())
	if panicErr != nil {
		// 匹配函数出错时不再重投递，异常随 Exchange 返回.
		ex.SetErr(errors.Join(ex.Err(), panicErr))
		return 0, false
	}
	rp := h.policy
	if ep != nil && ep.redelivery != nil {
		rp = *ep.redelivery
	}

	next := st.counter + 1
	var again bool
	if ep != nil && ep.retryWhile != nil {
		again = retryWhile(ep.retryWhile, ex)
	} else {
		again = rp.ShouldRedeliver(next)
	}
	if ctx.Err() != nil {
		return 0, false
	}
	if !again {
		c.exhausted(ctx, ex, st)
		return 0, false
	}

	st.counter = next
	if d, ok := headerDelay(ex); ok {
		st.delay = d
	} else {
		st.delay = rp.NextDelay(st.delay, next)
	}
	h.logger.With(
		logger.ExchangeID(ex.ID()),
		logger.Int("attempt", next),
		logger.Duration("delay", st.delay),
		logger.Err(ex.Err()),
	).Debug("[ErrorHandler] 准备重投递")
	return st.delay, true
}

func retryWhile(p expression.Predicate, ex *exchange.Exchange) (ok bool) {
	err := processor.Safely(func() (err error) {
		ok, err = p.Matches(ex)
		return err
	})
	return err == nil && ok
}

func headerDelay(ex *exchange.Exchange) (time.Duration, bool) {
	v, ok := ex.In().Header(exchange.HeaderRedeliveryDelay)
	if !ok {
		return 0, false
	}
	if d, ok := v.(time.Duration); ok {
		return d, true
	}
	ms, err := cast.ToInt64E(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// prepare 恢复步骤输入并设置重投递头部，重投递回调 panic 时返回 false 并保留该异常.
func (c *channel) prepare(ctx context.Context, ex *exchange.Exchange, st *attemptState) bool {
	h := c.handler
	ep, _ := h.exceptionPolicy(ex.Err())
	rp := h.policy
	onRedelivery := h.onRedelivery
	if ep != nil {
		if ep.redelivery != nil {
			rp = *ep.redelivery
		}
		if ep.onRedelivery != nil {
			onRedelivery = ep.onRedelivery
		}
	}

	ex.ClearErr()
	ex.SetFault(false)
	ex.SetIn(st.input.Copy())
	ex.SetOut(nil)
	ex.In().SetHeader(exchange.HeaderRedelivered, true)
	ex.In().SetHeader(exchange.HeaderRedeliveryCounter, st.counter)
	ex.In().SetHeader(exchange.HeaderRedeliveryMaxCounter, rp.MaximumRedeliveries)
	if h.listener != nil {
		if err := processor.Safely(func() error {
			h.listener(ex, st.counter)
			return nil
		}); err != nil {
			ex.SetErr(err)
			return false
		}
	}
	if onRedelivery != nil {
		processor.Invoke(ctx, onRedelivery, ex)
	}
	return true
}

// exhausted 重投递结束后的处理：continued、死信通道或保留异常.
func (c *channel) exhausted(ctx context.Context, ex *exchange.Exchange, st *attemptState) {
	h := c.handler
	err := ex.Err()
	ep, _ := h.exceptionPolicy(err)

	ex.SetProperty(exchange.PropertyRedeliveryExhausted, st.counter > 0)
	if err != nil {
		ex.SetProperty(exchange.PropertyExceptionCaught, err)
	}
	if to, ok := ex.Property(exchange.PropertyToEndpoint); ok {
		ex.SetProperty(exchange.PropertyFailureEndpoint, to)
	}
	if id := ex.FromRouteID(); id != "" {
		ex.SetProperty(exchange.PropertyFailureRouteID, id)
	}

	log := h.logger.With(
		logger.ExchangeID(ex.ID()),
		logger.RouteID(ex.FromRouteID()),
		logger.Int("redeliveries", st.counter),
		logger.Err(err),
	)

	if ep != nil && ep.continued {
		ex.ClearErr()
		ex.SetFault(false)
		log.Debug("[ErrorHandler] 忽略异常并继续")
		return
	}

	if h.deadLetter == nil {
		if ep != nil && ep.handled {
			ex.ClearErr()
			ex.SetFault(false)
			ex.SetErrorHandled(true)
			log.Warn("[ErrorHandler] 异常已处理")
			return
		}
		log.Error("[ErrorHandler] 重投递耗尽")
		return
	}

	if h.useOriginalMessage || (ep != nil && ep.useOriginalMessage) {
		if orig, ok := ex.Property(exchange.PropertyOriginalMessage); ok {
			if m, ok := orig.(*exchange.Message); ok {
				ex.SetIn(m.Copy())
				ex.SetOut(nil)
			}
		}
	}
	ex.ClearErr()
	ex.SetFault(false)
	processor.Invoke(ctx, h.deadLetter, ex)
	if ex.Failed() {
		log.With(logger.Any("deadLetterError", ex.Err())).Error("[ErrorHandler] 死信通道处理失败")
		return
	}
	ex.SetErrorHandled(true)
	log.Warn("[ErrorHandler] 已转入死信通道")
}
