package loadbalancer

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// FailoverOption 故障转移选项.
type FailoverOption func(*Failover)

// MaximumFailoverAttempts 最大故障转移次数，-1 表示不限，0 表示不转移.
func MaximumFailoverAttempts(n int) FailoverOption {
	return func(f *Failover) {
		f.maxAttempts = n
	}
}

// RoundRobin 每个 Exchange 从上一个 Exchange 的下一个处理器开始，默认总是从第一个开始.
func RoundRobin() FailoverOption {
	return func(f *Failover) {
		f.roundRobin = true
	}
}

// FailoverOn 只有错误匹配任一目标（errors.Is）时才转移.
func FailoverOn(targets ...error) FailoverOption {
	return FailoverWhen(func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// FailoverWhen 只有谓词返回 true 时才转移.
func FailoverWhen(fn func(err error) bool) FailoverOption {
	return func(f *Failover) {
		f.shouldFailover = fn
	}
}

// Failover 处理失败时依次尝试下一个处理器.
//
// 转移前恢复原始 in 消息并清除异常；次数用尽或错误不匹配时保留最后一次的异常.
type Failover struct {
	processors     []processor.Processor
	maxAttempts    int
	roundRobin     bool
	shouldFailover func(error) bool
	counter        atomic.Uint64
}

// NewFailover 创建故障转移负载均衡器，默认最多转移 len(procs)-1 次.
func NewFailover(procs []processor.Processor, opts ...FailoverOption) *Failover {
	f := &Failover{processors: procs, maxAttempts: len(procs) - 1}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Processors 实现 LoadBalancer.
func (f *Failover) Processors() []processor.Processor {
	return f.processors
}

type failoverState struct {
	index    int
	attempts int
	original *exchange.Message
}

// Process 实现 processor.Processor.
func (f *Failover) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, f, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (f *Failover) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	if len(f.processors) == 0 {
		ex.SetErr(ErrNoProcessors)
		done(true)
		return true
	}
	st := &failoverState{original: ex.In().Copy()}
	if f.roundRobin {
		st.index = int((f.counter.Add(1) - 1) % uint64(len(f.processors)))
	}
	return f.run(ctx, ex, st, done)
}

// run 同步完成的尝试在循环内继续，异步完成的尝试在回调中继续.
func (f *Failover) run(ctx context.Context, ex *exchange.Exchange, st *failoverState, done processor.Callback) bool {
	for {
		ex.SetProperty(exchange.PropertyLoadBalancerTarget, st.index)
		completed := processor.InvokeAsync(ctx, f.processors[st.index], ex, func(doneSync bool) {
			if doneSync {
				return
			}
			if !f.prepareNext(ctx, ex, st) {
				done(false)
				return
			}
			f.run(ctx, ex, st, func(bool) { done(false) })
		})
		if !completed {
			return false
		}
		if !f.prepareNext(ctx, ex, st) {
			done(true)
			return true
		}
	}
}

// matches 调用转移谓词，谓词 panic 时把 panic 附加到 Exchange 并停止转移.
func (f *Failover) matches(ex *exchange.Exchange) (ok bool) {
	err := ex.Err()
	if panicErr := processor.Safely(func() error {
		ok = f.shouldFailover(err)
		return nil
	}); panicErr != nil {
		ex.SetErr(errors.Join(err, panicErr))
		return false
	}
	return ok
}

// prepareNext 判断是否继续转移，需要时恢复 Exchange 并移动到下一个处理器.
func (f *Failover) prepareNext(ctx context.Context, ex *exchange.Exchange, st *failoverState) bool {
	if !ex.Failed() || ex.IsErrorHandled() {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if f.shouldFailover != nil && !f.matches(ex) {
		return false
	}
	if f.maxAttempts >= 0 && st.attempts >= f.maxAttempts {
		return false
	}
	st.attempts++
	st.index = (st.index + 1) % len(f.processors)
	ex.ClearErr()
	ex.SetFault(false)
	ex.SetIn(st.original.Copy())
	ex.SetOut(nil)
	return true
}
