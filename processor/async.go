package processor

import (
	"context"
	"sync/atomic"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// Once 包装回调，保证最多执行一次，重复调用被忽略.
func Once(done Callback) Callback {
	var called atomic.Bool
	return func(doneSync bool) {
		if called.CompareAndSwap(false, true) {
			done(doneSync)
		}
	}
}

// Future 异步处理结果.
type Future struct {
	ex        *exchange.Exchange
	done      chan struct{}
	completed atomic.Bool
	sync      atomic.Bool
}

// Submit 在当前 goroutine 开始处理，遇到异步边界时立即返回.
func Submit(ctx context.Context, p Processor, ex *exchange.Exchange) *Future {
	f := newFuture(ex)
	f.sync.Store(InvokeAsync(ctx, p, ex, f.complete))
	return f
}

// Go 在新的 goroutine 中处理.
func Go(ctx context.Context, p Processor, ex *exchange.Exchange) *Future {
	f := newFuture(ex)
	go func() {
		InvokeAsync(ctx, p, ex, f.complete)
	}()
	return f
}

func newFuture(ex *exchange.Exchange) *Future {
	return &Future{ex: ex, done: make(chan struct{})}
}

func (f *Future) complete(doneSync bool) {
	if f.completed.CompareAndSwap(false, true) {
		f.sync.Store(doneSync)
		close(f.done)
	}
}

// Done 处理完成时关闭.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Exchange 返回被处理的 Exchange，Done 之前不应访问.
func (f *Future) Exchange() *exchange.Exchange {
	return f.ex
}

// CompletedSync 是否在提交 goroutine 内同步完成.
func (f *Future) CompletedSync() bool {
	select {
	case <-f.done:
		return f.sync.Load()
	default:
		return false
	}
}

// Wait 等待完成并返回 Exchange 上的异常；ctx 取消时返回 ctx.Err().
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.ex.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
