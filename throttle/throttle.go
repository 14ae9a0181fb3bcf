// Package throttle 提供限制 Exchange 流量的处理器.
//
// rate 模式基于 golang.org/x/time/rate，等待通过 time.AfterFunc 完成，不阻塞 goroutine.
// concurrency 模式基于 golang.org/x/sync/semaphore，许可在后续处理完成后释放.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Option 限流器选项.
type Option func(*Throttler)

// OnThrottled 设置 Exchange 被延迟或拒绝时的回调.
func OnThrottled(fn func(ex *exchange.Exchange, rejected bool)) Option {
	return func(t *Throttler) {
		t.onThrottled = fn
	}
}

// Throttler 限流处理器.
//
// next 为受限流保护的后续处理器，为 nil 时只做限流.
type Throttler struct {
	cfg         Config
	next        processor.Processor
	limiter     *rate.Limiter
	sem         *semaphore.Weighted
	onThrottled func(*exchange.Exchange, bool)
}

// New 创建限流处理器.
func New(cfg Config, next processor.Processor, opts ...Option) (*Throttler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Throttler{cfg: cfg, next: next}
	switch cfg.Mode {
	case ModeRate:
		t.limiter = rate.NewLimiter(perPeriod(cfg.MaxRequests, cfg.Period), cfg.MaxRequests)
	case ModeConcurrency:
		t.sem = semaphore.NewWeighted(int64(cfg.MaxRequests))
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func perPeriod(n int, period time.Duration) rate.Limit {
	return rate.Limit(float64(n) / period.Seconds())
}

// Config 返回当前配置.
func (t *Throttler) Config() Config {
	return t.cfg
}

// SetMaxRequests 调整 rate 模式每个周期的最大请求数.
func (t *Throttler) SetMaxRequests(n int) {
	if t.limiter == nil || n <= 0 {
		return
	}
	t.limiter.SetLimit(perPeriod(n, t.cfg.Period))
	t.limiter.SetBurst(n)
}

// Process 实现 processor.Processor.
func (t *Throttler) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, t, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (t *Throttler) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	if t.sem != nil {
		return t.concurrent(ctx, ex, done)
	}
	return t.rated(ctx, ex, done)
}

func (t *Throttler) throttled(ex *exchange.Exchange, rejected bool) {
	if t.onThrottled != nil {
		t.onThrottled(ex, rejected)
	}
}

func (t *Throttler) reject(ex *exchange.Exchange, done processor.Callback) bool {
	t.throttled(ex, true)
	ex.SetErr(fmt.Errorf("%w: %s 模式最大 %d", ErrThrottled, t.cfg.Mode, t.cfg.MaxRequests))
	done(true)
	return true
}

func (t *Throttler) proceed(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	if t.next == nil {
		done(true)
		return true
	}
	return processor.InvokeAsync(ctx, t.next, ex, done)
}

func (t *Throttler) rated(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	r := t.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return t.proceed(ctx, ex, done)
	}
	if t.cfg.RejectExecution || delay == rate.InfDuration {
		r.Cancel()
		return t.reject(ex, done)
	}
	t.throttled(ex, false)

	once := processor.Once(done)
	var (
		mu      sync.Mutex
		claimed atomic.Bool
		unwatch func() bool
		timer   *time.Timer
	)
	// 定时器与 ctx 取消竞争，只有先到的一方继续.
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
		t.proceed(ctx, ex, func(bool) { once(false) })
	})
	unwatch = context.AfterFunc(ctx, func() {
		mu.Lock()
		tm := timer
		mu.Unlock()
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		tm.Stop()
		r.Cancel()
		ex.SetErr(ctx.Err())
		once(false)
	})
	return false
}

func (t *Throttler) concurrent(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	if t.sem.TryAcquire(1) {
		return t.proceed(ctx, ex, t.releasing(done))
	}
	if t.cfg.RejectExecution {
		return t.reject(ex, done)
	}
	t.throttled(ex, false)
	go func() {
		if err := t.sem.Acquire(ctx, 1); err != nil {
			ex.SetErr(err)
			done(false)
			return
		}
		release := t.releasing(done)
		t.proceed(ctx, ex, func(bool) { release(false) })
	}()
	return false
}

func (t *Throttler) releasing(done processor.Callback) processor.Callback {
	return func(doneSync bool) {
		t.sem.Release(1)
		done(doneSync)
	}
}
