package eip

import (
	"context"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/executor"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// WireTapOption 窃听选项.
type WireTapOption func(*WireTap)

// WithTapExecutor 在工作池中执行窃听.
func WithTapExecutor(pool *executor.Pool) WireTapOption {
	return func(w *WireTap) {
		w.pool = pool
	}
}

// WithTapPrepare 发送前修改副本.
func WithTapPrepare(p processor.Processor) WireTapOption {
	return func(w *WireTap) {
		w.prepare = p
	}
}

// WithTapLogger 设置日志记录器.
func WithTapLogger(log logger.Logger) WireTapOption {
	return func(w *WireTap) {
		w.logger = log
	}
}

// WireTap 把 Exchange 的副本异步发给目标，原 Exchange 立即继续.
type WireTap struct {
	target  processor.Processor
	pool    *executor.Pool
	prepare processor.Processor
	logger  logger.Logger
}

// NewWireTap 创建 WireTap.
func NewWireTap(target processor.Processor, opts ...WireTapOption) *WireTap {
	w := &WireTap{target: target}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logger.OrNop(w.logger)
	return w
}

// Process 实现 processor.Processor.
func (w *WireTap) Process(ctx context.Context, ex *exchange.Exchange) error {
	tap := ex.CorrelatedCopy()
	tap.SetPattern(exchange.InOnly)
	ctx = context.WithoutCancel(ctx)

	task := func() {
		if w.prepare != nil {
			processor.Invoke(ctx, w.prepare, tap)
		}
		if !tap.Failed() {
			processor.Invoke(ctx, w.target, tap)
		}
		if tap.Failed() {
			w.logger.With(
				logger.ExchangeID(tap.ID()),
				logger.Err(tap.Err()),
			).Warn("[WireTap] 窃听处理失败")
		}
		tap.Done()
	}
	if w.pool != nil {
		return w.pool.TrySubmit(task)
	}
	go task()
	return nil
}

// Enricher 调用资源处理器获取数据，再用聚合策略合并进原 Exchange.
//
// 默认策略用资源返回的消息替换原消息.
type Enricher struct {
	resource processor.Processor
	strategy AggregationStrategy
}

// NewEnricher 创建 Enricher，strategy 为 nil 时使用 UseLatest.
func NewEnricher(resource processor.Processor, strategy AggregationStrategy) *Enricher {
	if strategy == nil {
		strategy = UseLatest()
	}
	return &Enricher{resource: resource, strategy: strategy}
}

// Process 实现 processor.Processor.
func (e *Enricher) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, e, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (e *Enricher) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	resource := ex.CorrelatedCopy()
	resource.SetPattern(exchange.InOut)
	return processor.InvokeAsync(ctx, e.resource, resource, func(doneSync bool) {
		resource.HandoverCompletions(ex)
		if failed(resource) {
			if err := resource.Err(); err != nil {
				ex.SetErr(err)
			} else {
				ex.SetFault(true)
			}
			done(doneSync)
			return
		}
		resource.PrepareNext()
		result, err := aggregate(e.strategy, ex, resource)
		switch {
		case err != nil:
			ex.SetErr(err)
		case result != nil && result != ex:
			pattern := ex.Pattern()
			ex.CopyResultsFrom(result)
			ex.SetPattern(pattern)
		}
		done(doneSync)
	})
}
