// Package processor 定义处理器 SPI 与异步执行约定.
//
// 同步处理器实现 Processor；需要把工作交给其他 goroutine 的处理器实现
// AsyncProcessor：ProcessAsync 返回 true 表示已在调用方 goroutine 内完成并
// 调用了 done(true)，返回 false 表示稍后会在其他 goroutine 调用 done(false).
// 回调恰好调用一次.
package processor

import (
	"context"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// Processor 同步处理器.
//
// 返回的错误由调用方附加到 Exchange 的异常槽.
type Processor interface {
	Process(ctx context.Context, ex *exchange.Exchange) error
}

// Func 函数形式的处理器.
type Func func(ctx context.Context, ex *exchange.Exchange) error

// Process 实现 Processor.
func (f Func) Process(ctx context.Context, ex *exchange.Exchange) error {
	return f(ctx, ex)
}

// Callback 异步完成回调，doneSync 表示是否在调用方 goroutine 内完成.
type Callback func(doneSync bool)

// AsyncProcessor 异步处理器.
type AsyncProcessor interface {
	Processor
	ProcessAsync(ctx context.Context, ex *exchange.Exchange, done Callback) bool
}

// Interceptor 包装处理器.
type Interceptor func(next Processor) Processor

// Chain 将多个拦截器链接在一起，outer 位于最外层.
func Chain(outer Interceptor, others ...Interceptor) Interceptor {
	return func(next Processor) Processor {
		for i := len(others) - 1; i >= 0; i-- {
			next = others[i](next)
		}
		return outer(next)
	}
}

// Nop 不做任何处理.
var Nop Processor = Func(func(context.Context, *exchange.Exchange) error { return nil })

// Invoke 同步执行处理器，错误与 panic 都附加到 Exchange.
//
// 异步处理器会等待其完成.
func Invoke(ctx context.Context, p Processor, ex *exchange.Exchange) {
	if ap, ok := p.(AsyncProcessor); ok {
		done := make(chan struct{})
		if !InvokeAsync(ctx, ap, ex, func(bool) { close(done) }) {
			<-done
		}
		return
	}
	if err := Safely(func() error { return p.Process(ctx, ex) }); err != nil {
		ex.SetErr(err)
	}
}

// InvokeAsync 以异步约定执行任意处理器.
//
// 同步处理器在当前 goroutine 执行并返回 true.
// 处理器内的 panic 会转为 PanicError 附加到 Exchange，回调仍然会被调用.
func InvokeAsync(ctx context.Context, p Processor, ex *exchange.Exchange, done Callback) bool {
	ap, ok := p.(AsyncProcessor)
	if !ok {
		if err := Safely(func() error { return p.Process(ctx, ex) }); err != nil {
			ex.SetErr(err)
		}
		done(true)
		return true
	}

	guarded := Once(done)
	sync, panicked := true, false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				ex.SetErr(NewPanicError(r))
			}
		}()
		sync = ap.ProcessAsync(ctx, ex, guarded)
	}()
	if panicked {
		guarded(true)
		return true
	}
	return sync
}

// Await 执行处理器并阻塞到完成，返回 Exchange 上的异常.
func Await(ctx context.Context, p Processor, ex *exchange.Exchange) error {
	Invoke(ctx, p, ex)
	return ex.Err()
}

// ProcessAsyncAware 为异步处理器提供 Process 实现.
func ProcessAsyncAware(ctx context.Context, p AsyncProcessor, ex *exchange.Exchange) error {
	done := make(chan struct{})
	if !p.ProcessAsync(ctx, ex, Once(func(bool) { close(done) })) {
		<-done
	}
	return ex.Err()
}
