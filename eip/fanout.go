package eip

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/executor"
	"github.com/Tsukikage7/integration-kit/processor"
)

// FanOutOption 多播、分割与接收者列表的公共选项.
type FanOutOption func(*fanOut)

// WithAggregationStrategy 设置聚合策略.
func WithAggregationStrategy(s AggregationStrategy) FanOutOption {
	return func(f *fanOut) {
		f.strategy = s
	}
}

// Parallel 并行处理各个分支.
func Parallel() FanOutOption {
	return func(f *fanOut) {
		f.parallel = true
	}
}

// WithExecutor 在给定工作池中并行处理，隐含 Parallel.
func WithExecutor(pool *executor.Pool) FanOutOption {
	return func(f *fanOut) {
		f.pool = pool
		f.parallel = pool != nil
	}
}

// WithParallelLimit 未使用工作池时的最大并发数，隐含 Parallel.
func WithParallelLimit(n int) FanOutOption {
	return func(f *fanOut) {
		f.limit = n
		f.parallel = true
	}
}

// StopOnException 任一分支失败后不再处理后续分支.
func StopOnException() FanOutOption {
	return func(f *fanOut) {
		f.stopOnException = true
	}
}

// Streaming 并行时按完成顺序聚合，默认按分支顺序.
func Streaming() FanOutOption {
	return func(f *fanOut) {
		f.streaming = true
	}
}

// WithTimeout 并行处理的总超时，超时后只聚合已完成的分支.
func WithTimeout(d time.Duration) FanOutOption {
	return func(f *fanOut) {
		f.timeout = d
	}
}

type part struct {
	ex   *exchange.Exchange
	proc processor.Processor
}

// fanOut 分发各分支并用聚合策略归约结果.
type fanOut struct {
	strategy        AggregationStrategy
	parallel        bool
	pool            *executor.Pool
	limit           int
	stopOnException bool
	streaming       bool
	timeout         time.Duration
}

func newFanOut(def AggregationStrategy, opts []FanOutOption) fanOut {
	f := fanOut{strategy: def}
	for _, opt := range opts {
		opt(&f)
	}
	if f.strategy == nil {
		f.strategy = def
	}
	return f
}

// process 分发 parts. 分支异步完成或并行处理时返回 false，稍后在其他 goroutine 调用 done.
//
// 分支上注册的完成回调在归约时移交给 original，随 original 的工作单元一起结束.
func (f *fanOut) process(ctx context.Context, original *exchange.Exchange, parts []part, done processor.Callback) bool {
	if len(parts) == 0 {
		done(true)
		return true
	}
	if !f.parallel {
		return f.sequential(ctx, original, &reducer{strategy: f.strategy}, parts, done)
	}
	go func() {
		f.concurrent(ctx, original, parts)
		done(false)
	}()
	return false
}

// sequential 依次处理 parts，异步完成的分支在其回调中继续处理剩余分支.
func (f *fanOut) sequential(ctx context.Context, original *exchange.Exchange, r *reducer, parts []part, done processor.Callback) bool {
	for i, p := range parts {
		if err := ctx.Err(); err != nil {
			original.SetErr(err)
			break
		}
		rest := parts[i+1:]
		completedSync := processor.InvokeAsync(ctx, p.proc, p.ex, func(doneSync bool) {
			if doneSync {
				return
			}
			if f.collect(original, r, p.ex) {
				f.sequential(ctx, original, r, rest, func(bool) { done(false) })
				return
			}
			r.finish(original)
			done(false)
		})
		if !completedSync {
			return false
		}
		if !f.collect(original, r, p.ex) {
			break
		}
	}
	r.finish(original)
	done(true)
	return true
}

// collect 归约一个已完成的分支，返回是否继续处理后续分支.
func (f *fanOut) collect(original *exchange.Exchange, r *reducer, sub *exchange.Exchange) bool {
	sub.HandoverCompletions(original)
	if !r.add(sub) {
		return false
	}
	return !f.stopOnException || !failed(sub)
}

func (f *fanOut) concurrent(parent context.Context, original *exchange.Exchange, parts []part) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if f.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, f.timeout)
		defer cancelTimeout()
	}

	var (
		mu        sync.Mutex
		closed    bool
		completed = make([]bool, len(parts))
		r         = &reducer{strategy: f.strategy}
	)
	run := func(i int) {
		if ctx.Err() != nil {
			return
		}
		p := parts[i]
		processor.Invoke(ctx, p.proc, p.ex)

		mu.Lock()
		defer mu.Unlock()
		if closed {
			// 超时后完成的分支不再参与聚合，自行结束工作单元.
			p.ex.Done()
			return
		}
		completed[i] = true
		if f.streaming && !r.add(p.ex) {
			cancel()
		}
		if f.stopOnException && failed(p.ex) {
			cancel()
		}
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if f.pool != nil {
			var wg sync.WaitGroup
			for i := range parts {
				wg.Add(1)
				if err := f.pool.Submit(ctx, func() { defer wg.Done(); run(i) }); err != nil {
					wg.Done()
				}
			}
			wg.Wait()
			return
		}
		var g errgroup.Group
		if f.limit > 0 {
			g.SetLimit(f.limit)
		}
		for i := range parts {
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		// 超时后不再等待未完成的分支.
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			<-finished
		}
	}

	mu.Lock()
	defer mu.Unlock()
	closed = true
	for i, p := range parts {
		if completed[i] {
			p.ex.HandoverCompletions(original)
		}
	}
	if !f.streaming {
		for i, p := range parts {
			if completed[i] && !r.add(p.ex) {
				break
			}
		}
	}
	if err := parent.Err(); err != nil {
		original.SetErr(err)
	}
	r.finish(original)
}

func failed(ex *exchange.Exchange) bool {
	return ex.Failed() && !ex.IsErrorHandled()
}

// reducer 顺序调用聚合策略，记录第一个失败分支.
type reducer struct {
	strategy     AggregationStrategy
	result       *exchange.Exchange
	err          error
	count        int
	firstFailure *exchange.Exchange
}

func (r *reducer) add(sub *exchange.Exchange) bool {
	if r.err != nil {
		return false
	}
	if r.firstFailure == nil && failed(sub) {
		r.firstFailure = sub
	}
	res, err := aggregate(r.strategy, r.result, sub)
	if err != nil {
		r.err = err
		return false
	}
	r.result = res
	r.count++
	return true
}

// finish 把归约结果写回原始 Exchange.
func (r *reducer) finish(original *exchange.Exchange) {
	if r.err != nil {
		original.SetErr(r.err)
		return
	}
	if r.result != nil && r.result != original {
		original.CopyResultsFrom(r.result)
	}
	original.SetProperty(exchange.PropertyAggregatedSize, r.count)
	if r.firstFailure != nil && !original.Failed() {
		if err := r.firstFailure.Err(); err != nil {
			original.SetErr(err)
		} else {
			original.SetFault(true)
		}
	}
}
