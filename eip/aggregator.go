package eip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// 聚合完成原因.
const (
	CompletedBySize      = "size"
	CompletedByPredicate = "predicate"
	CompletedByTimeout   = "timeout"
	CompletedByForce     = "force"
)

// AggregatorOption 聚合器选项.
type AggregatorOption func(*Aggregator)

// CompletionSize 收到 n 条后完成.
func CompletionSize(n int) AggregatorOption {
	return func(a *Aggregator) {
		a.completionSize = n
	}
}

// CompletionTimeout 某个关联键 d 时间内没有新消息则完成.
func CompletionTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.completionTimeout = d
	}
}

// CompletionPredicate 聚合结果满足谓词时完成.
func CompletionPredicate(p expression.Predicate) AggregatorOption {
	return func(a *Aggregator) {
		a.completionPredicate = p
	}
}

// WithAggregatorLogger 设置日志记录器.
func WithAggregatorLogger(log logger.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = log
	}
}

type aggregation struct {
	result *exchange.Exchange
	size   int
	timer  *time.Timer
}

// Aggregator 有状态聚合器：按关联键合并 Exchange，满足完成条件后把结果交给输出处理器.
//
// 停止时强制完成所有未完成的聚合.
type Aggregator struct {
	correlation         expression.Expression
	strategy            AggregationStrategy
	output              processor.Processor
	completionSize      int
	completionTimeout   time.Duration
	completionPredicate expression.Predicate
	logger              logger.Logger

	mu      sync.Mutex
	pending map[string]*aggregation
	stopped bool
	wg      sync.WaitGroup
}

// NewAggregator 创建聚合器.
func NewAggregator(correlation expression.Expression, strategy AggregationStrategy, output processor.Processor, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		correlation: correlation,
		strategy:    strategy,
		output:      output,
		pending:     make(map[string]*aggregation),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logger.OrNop(a.logger)
	return a
}

// Start 实现 component.Service.
func (a *Aggregator) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = false
	return nil
}

// Stop 强制完成所有聚合并等待输出结束.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.ForceCompletion(ctx)
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}

// Pending 未完成的关联键数量.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Process 实现 processor.Processor.
//
// 输入 Exchange 在此结束，聚合结果由输出处理器继续处理.
func (a *Aggregator) Process(ctx context.Context, ex *exchange.Exchange) error {
	v, err := evaluate(a.correlation, ex)
	if err != nil {
		return err
	}
	if v == nil || v == "" {
		return ErrNoCorrelationKey
	}
	key := fmt.Sprint(v)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrAggregatorStopped
	}
	agg := a.pending[key]
	if agg == nil {
		agg = &aggregation{}
		a.pending[key] = agg
	}
	result, err := aggregate(a.strategy, agg.result, ex.Copy())
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if result == nil {
		result = ex.Copy()
	}
	agg.result = result
	agg.size++

	completedBy := ""
	switch {
	case a.completionSize > 0 && agg.size >= a.completionSize:
		completedBy = CompletedBySize
	case a.completionPredicate != nil:
		ok, err := matches(a.completionPredicate, result)
		if err != nil {
			a.mu.Unlock()
			return err
		}
		if ok {
			completedBy = CompletedByPredicate
		}
	}
	if completedBy != "" {
		a.removeLocked(key, agg)
		a.mu.Unlock()
		a.emit(ctx, key, agg, completedBy)
		return nil
	}
	if a.completionTimeout > 0 {
		if agg.timer != nil {
			agg.timer.Stop()
		}
		agg.timer = time.AfterFunc(a.completionTimeout, func() { a.timeout(key, agg) })
	}
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) removeLocked(key string, agg *aggregation) {
	if agg.timer != nil {
		agg.timer.Stop()
	}
	delete(a.pending, key)
	a.wg.Add(1)
}

func (a *Aggregator) timeout(key string, agg *aggregation) {
	a.mu.Lock()
	if a.pending[key] != agg {
		a.mu.Unlock()
		return
	}
	a.removeLocked(key, agg)
	a.mu.Unlock()
	a.emit(context.Background(), key, agg, CompletedByTimeout)
}

// ForceCompletion 立即完成所有未完成的聚合.
func (a *Aggregator) ForceCompletion(ctx context.Context) {
	a.mu.Lock()
	type entry struct {
		key string
		agg *aggregation
	}
	var entries []entry
	for key, agg := range a.pending {
		a.removeLocked(key, agg)
		entries = append(entries, entry{key, agg})
	}
	a.mu.Unlock()
	for _, e := range entries {
		a.emit(ctx, e.key, e.agg, CompletedByForce)
	}
}

// emit 调用方已为本次输出执行 wg.Add.
func (a *Aggregator) emit(ctx context.Context, key string, agg *aggregation, completedBy string) {
	defer a.wg.Done()
	out := agg.result
	out.SetProperty(exchange.PropertyAggregatedSize, agg.size)
	out.SetProperty(exchange.PropertyAggregatedCompletedBy, completedBy)
	out.SetProperty(exchange.PropertyAggregatedCorrelation, key)

	processor.Invoke(ctx, a.output, out)
	if out.Failed() && !out.IsErrorHandled() {
		a.logger.With(
			logger.String("correlationKey", key),
			logger.ExchangeID(out.ID()),
			logger.Err(out.Err()),
		).Error("[Aggregator] 聚合结果处理失败")
	}
	out.Done()
}
