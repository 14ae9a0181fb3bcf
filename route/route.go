// Package route 实现路由及其生命周期状态机.
//
// 路由由一个或多个输入端点和一个处理器组成，状态转换:
//
//	Stopped -> Starting -> Started -> Suspending -> Suspended -> Starting -> Started
//	Started|Suspended|Failed -> Stopping -> Stopped
//	任意运行中状态 -> Failed -> Starting
//
// 生命周期操作串行执行；对当前状态无意义的操作为空操作，非法操作返回 *TransitionError.
package route

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Listener 状态变更回调，在生命周期操作内同步调用，不能再调用同一路由的生命周期方法.
type Listener func(r *Route, from, to Status)

type consumerState struct {
	consumer  component.Consumer
	started   bool
	suspended bool
}

// Route 路由.
type Route struct {
	id           string
	description  string
	inputs       []component.Endpoint
	processor    processor.Processor
	services     []any
	policies     []Policy
	shutdown     ShutdownStrategy
	autoStartup  bool
	startupOrder int
	log          logger.Logger

	opMu            sync.Mutex
	status          atomic.Value
	initialized     bool
	consumers       []*consumerState
	servicesStarted []any
	startedAt       atomic.Int64
	lastErr         atomic.Pointer[error]

	lmu       sync.RWMutex
	listeners []Listener

	inflight *inflightTracker
	stats    statsRecorder
}

// Option 路由选项.
type Option func(*Route)

// WithDescription 设置描述.
func WithDescription(desc string) Option {
	return func(r *Route) { r.description = desc }
}

// WithPolicies 追加路由策略.
func WithPolicies(policies ...Policy) Option {
	return func(r *Route) { r.policies = append(r.policies, policies...) }
}

// WithServices 追加随路由启停的服务，实现 component.Service 的对象会被启动和停止.
func WithServices(services ...any) Option {
	return func(r *Route) { r.services = append(r.services, services...) }
}

// WithShutdownStrategy 设置停止策略.
func WithShutdownStrategy(s ShutdownStrategy) Option {
	return func(r *Route) { r.shutdown = s }
}

// WithAutoStartup 设置引擎启动时是否自动启动，默认 true.
func WithAutoStartup(auto bool) Option {
	return func(r *Route) { r.autoStartup = auto }
}

// WithStartupOrder 设置启动顺序，数值小的先启动、后停止.
func WithStartupOrder(order int) Option {
	return func(r *Route) { r.startupOrder = order }
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(r *Route) { r.log = log }
}

// New 创建路由，初始状态为 Stopped.
func New(id string, inputs []component.Endpoint, proc processor.Processor, opts ...Option) (*Route, error) {
	if id == "" {
		return nil, ErrEmptyRouteID
	}
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if proc == nil {
		proc = processor.Nop
	}
	r := &Route{
		id:          id,
		inputs:      inputs,
		processor:   proc,
		shutdown:    DefaultShutdownStrategy(),
		autoStartup: true,
		inflight:    newInflightTracker(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrNop(r.log).With(logger.RouteID(id))
	r.status.Store(Stopped)
	return r, nil
}

// ID 返回路由 ID.
func (r *Route) ID() string { return r.id }

// Description 返回描述.
func (r *Route) Description() string { return r.description }

// Inputs 返回输入端点.
func (r *Route) Inputs() []component.Endpoint { return slices.Clone(r.inputs) }

// Processor 返回路由处理器.
func (r *Route) Processor() processor.Processor { return r.processor }

// AutoStartup 是否随引擎自动启动.
func (r *Route) AutoStartup() bool { return r.autoStartup }

// StartupOrder 启动顺序.
func (r *Route) StartupOrder() int { return r.startupOrder }

// ShutdownStrategy 返回停止策略.
func (r *Route) ShutdownStrategy() ShutdownStrategy { return r.shutdown }

// Status 返回当前状态.
func (r *Route) Status() Status {
	return r.status.Load().(Status)
}

// LastError 返回最近一次失败的原因.
func (r *Route) LastError() error {
	if p := r.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Inflight 未完成的 Exchange 数量.
func (r *Route) Inflight() int {
	return r.inflight.size()
}

// OnStatusChange 注册状态变更回调.
func (r *Route) OnStatusChange(l Listener) {
	r.lmu.Lock()
	r.listeners = append(r.listeners, l)
	r.lmu.Unlock()
}

// Stats 返回统计快照.
func (r *Route) Stats() Stats {
	st := r.stats.snapshot()
	st.RouteID = r.id
	st.Status = r.Status()
	if ns := r.startedAt.Load(); ns > 0 && st.Status.IsRunning() {
		st.Uptime = time.Since(time.Unix(0, ns))
	}
	if err := r.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (r *Route) transition(op string, to Status) error {
	from := r.Status()
	if !from.CanTransitionTo(to) {
		return &TransitionError{RouteID: r.id, Op: op, From: from, To: to}
	}
	r.status.Store(to)

	r.lmu.RLock()
	listeners := slices.Clone(r.listeners)
	r.lmu.RUnlock()
	for _, l := range listeners {
		l(r, from, to)
	}
	return nil
}

// Start 启动路由.
//
// Started 状态下为空操作，Suspended 状态下等同于 Resume.
func (r *Route) Start(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	switch r.Status() {
	case Started:
		return nil
	case Suspended:
		return r.resumeLocked(ctx)
	}
	if err := r.transition("start", Starting); err != nil {
		return err
	}
	if err := r.startLocked(ctx); err != nil {
		r.failLocked(ctx, err)
		return err
	}
	return nil
}

func (r *Route) startLocked(ctx context.Context) error {
	if !r.initialized {
		consumers := make([]*consumerState, 0, len(r.inputs))
		for _, ep := range r.inputs {
			c, err := component.NewConsumer(ep, r)
			if err != nil {
				return fmt.Errorf("route: 创建消费者失败: %w", err)
			}
			consumers = append(consumers, &consumerState{consumer: c})
		}
		r.consumers = consumers
		for _, p := range r.policies {
			p.OnInit(r)
		}
		r.initialized = true
	}

	for _, s := range r.services {
		if err := component.StartService(ctx, s); err != nil {
			return fmt.Errorf("route: 启动服务失败: %w", err)
		}
		r.servicesStarted = append(r.servicesStarted, s)
	}

	if !r.gateOpen() {
		r.log.Infof("[Route] 路由策略暂不允许启动消费者，路由挂起: id=%s", r.id)
		return r.transition("start", Suspended)
	}
	if err := r.startConsumers(ctx); err != nil {
		return err
	}
	for _, p := range r.policies {
		p.OnStart(r)
	}
	r.startedAt.Store(time.Now().UnixNano())
	r.log.Infof("[Route] 路由启动: id=%s, inputs=%d", r.id, len(r.inputs))
	return r.transition("start", Started)
}

func (r *Route) gateOpen() bool {
	for _, p := range r.policies {
		if g, ok := p.(ConsumerGate); ok && !g.AllowConsumers(r) {
			return false
		}
	}
	return true
}

func (r *Route) startConsumers(ctx context.Context) error {
	for _, cs := range r.consumers {
		switch {
		case !cs.started:
			if err := cs.consumer.Start(ctx); err != nil {
				return fmt.Errorf("route: 启动消费者 %s 失败: %w", cs.consumer.Endpoint().URI(), err)
			}
			cs.started = true
		case cs.suspended:
			if err := cs.consumer.(component.Suspendable).Resume(ctx); err != nil {
				return fmt.Errorf("route: 恢复消费者 %s 失败: %w", cs.consumer.Endpoint().URI(), err)
			}
		}
		cs.suspended = false
	}
	return nil
}

func (r *Route) stopConsumers(ctx context.Context) error {
	var errs []error
	for _, cs := range slices.Backward(r.consumers) {
		if !cs.started {
			continue
		}
		if err := cs.consumer.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		cs.started, cs.suspended = false, false
	}
	return errors.Join(errs...)
}

func (r *Route) stopServices(ctx context.Context) error {
	var errs []error
	for _, s := range slices.Backward(r.servicesStarted) {
		if err := component.StopService(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	r.servicesStarted = nil
	return errors.Join(errs...)
}

// Stop 按停止策略停止路由，Stopped 状态下为空操作.
//
// 超时后仍未完成的 Exchange 会被取消，返回值包含 ErrShutdownTimeout，路由仍进入 Stopped.
func (r *Route) Stop(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if r.Status() == Stopped {
		return nil
	}
	if err := r.transition("stop", Stopping); err != nil {
		return err
	}

	errs := []error{r.shutdownLocked(ctx), r.stopServices(ctx)}
	for _, p := range r.policies {
		p.OnStop(r)
	}
	r.startedAt.Store(0)
	if err := r.transition("stop", Stopped); err != nil {
		errs = append(errs, err)
	}
	r.log.Infof("[Route] 路由停止: id=%s", r.id)
	return errors.Join(errs...)
}

func (r *Route) shutdownLocked(ctx context.Context) error {
	tctx := ctx
	if r.shutdown.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.shutdown.Timeout)
		defer cancel()
	}

	if r.shutdown.Mode == ShutdownNow {
		if n := r.inflight.cancelAll(); n > 0 {
			r.log.Infof("[Route] 立即停止，取消未完成的 Exchange: id=%s, inflight=%d", r.id, n)
		}
	}

	err := r.stopConsumers(tctx)
	if r.inflight.wait(tctx) {
		return err
	}

	n := r.inflight.cancelAll()
	r.log.With(logger.Duration("timeout", r.shutdown.Timeout), logger.Int("inflight", n)).
		Warn("[Route] 停止超时，取消未完成的 Exchange")
	r.inflight.wait(ctx)
	return errors.Join(err, fmt.Errorf("%w: %s 仍有 %d 个 Exchange", ErrShutdownTimeout, r.id, n))
}

// Suspend 暂停路由：可暂停的消费者暂停，其余消费者停止.
func (r *Route) Suspend(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if r.Status() == Suspended {
		return nil
	}
	if err := r.transition("suspend", Suspending); err != nil {
		return err
	}
	for _, cs := range r.consumers {
		if !cs.started || cs.suspended {
			continue
		}
		var err error
		if s, ok := cs.consumer.(component.Suspendable); ok {
			err = s.Suspend(ctx)
			cs.suspended = err == nil
		} else {
			err = cs.consumer.Stop(ctx)
			cs.started = err != nil
		}
		if err != nil {
			err = fmt.Errorf("route: 暂停消费者 %s 失败: %w", cs.consumer.Endpoint().URI(), err)
			r.failLocked(ctx, err)
			return err
		}
	}
	for _, p := range r.policies {
		p.OnSuspend(r)
	}
	r.log.Infof("[Route] 路由暂停: id=%s", r.id)
	return r.transition("suspend", Suspended)
}

// Resume 恢复暂停的路由，不重新执行初始化；Started 状态下为空操作.
func (r *Route) Resume(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.resumeLocked(ctx)
}

func (r *Route) resumeLocked(ctx context.Context) error {
	switch r.Status() {
	case Started:
		return nil
	case Suspended:
	default:
		return &TransitionError{RouteID: r.id, Op: "resume", From: r.Status(), To: Started}
	}
	if !r.gateOpen() {
		return ErrConsumersGated
	}
	if err := r.transition("resume", Starting); err != nil {
		return err
	}
	if err := r.startConsumers(ctx); err != nil {
		r.failLocked(ctx, err)
		return err
	}
	for _, p := range r.policies {
		p.OnResume(r)
	}
	if r.startedAt.Load() == 0 {
		r.startedAt.Store(time.Now().UnixNano())
	}
	r.log.Infof("[Route] 路由恢复: id=%s", r.id)
	return r.transition("resume", Started)
}

// Restart 停止路由，等待 delay 后重新启动.
func (r *Route) Restart(ctx context.Context, delay time.Duration) error {
	if err := r.Stop(ctx); err != nil && !errors.Is(err, ErrShutdownTimeout) {
		return err
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.Start(ctx)
}

// Fail 将路由标记为失败并停止消费者与服务.
func (r *Route) Fail(ctx context.Context, cause error) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if !r.Status().CanTransitionTo(Failed) {
		return &TransitionError{RouteID: r.id, Op: "fail", From: r.Status(), To: Failed}
	}
	r.failLocked(ctx, cause)
	return nil
}

func (r *Route) failLocked(ctx context.Context, cause error) {
	if cause == nil {
		cause = errors.New("route: 未知原因")
	}
	r.lastErr.Store(&cause)
	r.log.With(logger.Err(cause)).Error("[Route] 路由失败")

	stopErr := errors.Join(r.stopConsumers(ctx), r.stopServices(ctx))
	if stopErr != nil {
		r.log.With(logger.Err(stopErr)).Warn("[Route] 失败后清理资源出错")
	}
	r.startedAt.Store(0)
	if err := r.transition("fail", Failed); err != nil {
		r.log.With(logger.Err(err)).Warn("[Route] 无法进入失败状态")
	}
}

// Process 实现 processor.Processor，消费者通过它把 Exchange 交给路由.
func (r *Route) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, r, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
//
// 首个处理 Exchange 的路由拥有其工作单元，处理结束后调用 ex.Done().
func (r *Route) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	owner := ex.FromRouteID() == ""
	if owner {
		ex.SetFromRouteID(r.id)
	}

	exCtx, cancel := context.WithCancel(ctx)
	exCtx = logger.ContextWithExchangeID(logger.ContextWithRouteID(exCtx, r.id), ex.ID())
	id := r.inflight.add(cancel)
	r.stats.begin()
	for _, p := range r.policies {
		p.OnExchangeBegin(r, ex)
	}
	var ends []func()
	for _, p := range r.policies {
		if sc, ok := p.(ExchangeScope); ok {
			var end func()
			exCtx, end = sc.ScopeExchange(exCtx, r, ex)
			if end != nil {
				ends = append(ends, end)
			}
		}
	}
	start := time.Now()

	return processor.InvokeAsync(exCtx, r.processor, ex, func(doneSync bool) {
		r.stats.done(ex, time.Since(start))
		for _, p := range r.policies {
			p.OnExchangeDone(r, ex)
		}
		for _, end := range slices.Backward(ends) {
			end()
		}
		if owner {
			ex.Done()
		}
		r.inflight.remove(id)
		cancel()
		done(doneSync)
	})
}
