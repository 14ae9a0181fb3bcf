// Package loadbalancer 提供在多个处理器之间分发 Exchange 的负载均衡器.
//
// 所有实现都是 processor.AsyncProcessor，选中的处理器下标写入 LoadBalancerTarget 属性.
package loadbalancer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/processor"
)

// LoadBalancer 负载均衡器.
type LoadBalancer interface {
	processor.AsyncProcessor
	// Processors 返回目标处理器.
	Processors() []processor.Processor
}

// selector 为一次处理选择目标下标.
type selector func(ex *exchange.Exchange) (int, error)

// balancer 单目标负载均衡器的公共实现.
type balancer struct {
	processors []processor.Processor
	selectFn   selector
}

// Processors 实现 LoadBalancer.
func (b *balancer) Processors() []processor.Processor {
	return b.processors
}

// Process 实现 processor.Processor.
func (b *balancer) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, b, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (b *balancer) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	if len(b.processors) == 0 {
		ex.SetErr(ErrNoProcessors)
		done(true)
		return true
	}
	var idx int
	err := processor.Safely(func() (err error) {
		idx, err = b.selectFn(ex)
		return err
	})
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	ex.SetProperty(exchange.PropertyLoadBalancerTarget, idx)
	return processor.InvokeAsync(ctx, b.processors[idx], ex, done)
}

// NewRoundRobin 依次轮询各处理器.
func NewRoundRobin(procs ...processor.Processor) LoadBalancer {
	var counter atomic.Uint64
	n := uint64(len(procs))
	return &balancer{processors: procs, selectFn: func(*exchange.Exchange) (int, error) {
		return int((counter.Add(1) - 1) % n), nil
	}}
}

// NewRandom 随机选择处理器.
func NewRandom(procs ...processor.Processor) LoadBalancer {
	n := len(procs)
	return &balancer{processors: procs, selectFn: func(*exchange.Exchange) (int, error) {
		return rand.IntN(n), nil
	}}
}

// WeightedOption 加权负载均衡选项.
type WeightedOption func(*weighted)

// WeightedRandom 按权重随机选择，默认为平滑加权轮询.
func WeightedRandom() WeightedOption {
	return func(w *weighted) {
		w.random = true
	}
}

type weighted struct {
	weights []int
	current []int
	total   int
	random  bool
	mu      sync.Mutex
}

// NewWeighted 按权重分发，weights 与 procs 一一对应且均为正数.
func NewWeighted(procs []processor.Processor, weights []int, opts ...WeightedOption) (LoadBalancer, error) {
	if len(weights) != len(procs) {
		return nil, fmt.Errorf("%w: %d 个权重对应 %d 个处理器", ErrInvalidWeights, len(weights), len(procs))
	}
	w := &weighted{weights: weights, current: make([]int, len(weights))}
	for _, weight := range weights {
		if weight <= 0 {
			return nil, fmt.Errorf("%w: 权重必须为正数", ErrInvalidWeights)
		}
		w.total += weight
	}
	for _, opt := range opts {
		opt(w)
	}
	return &balancer{processors: procs, selectFn: w.next}, nil
}

func (w *weighted) next(*exchange.Exchange) (int, error) {
	if w.random {
		r := rand.IntN(w.total)
		for i, weight := range w.weights {
			if r < weight {
				return i, nil
			}
			r -= weight
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	best := 0
	for i, weight := range w.weights {
		w.current[i] += weight
		if w.current[i] > w.current[best] {
			best = i
		}
	}
	w.current[best] -= w.total
	return best, nil
}

// Topic 将 Exchange 的副本依次发送给所有处理器，第一个失败写回原 Exchange.
type Topic struct {
	processors []processor.Processor
}

// NewTopic 创建 Topic 负载均衡器.
func NewTopic(procs ...processor.Processor) *Topic {
	return &Topic{processors: procs}
}

// Processors 实现 LoadBalancer.
func (t *Topic) Processors() []processor.Processor {
	return t.processors
}

// Process 实现 processor.Processor.
func (t *Topic) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, t, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (t *Topic) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	for i, p := range t.processors {
		cp := ex.CorrelatedCopy()
		cp.SetProperty(exchange.PropertyLoadBalancerTarget, i)
		processor.Invoke(ctx, p, cp)
		if cp.Failed() && !cp.IsErrorHandled() && !ex.Failed() {
			if err := cp.Err(); err != nil {
				ex.SetErr(err)
			} else {
				ex.SetFault(true)
			}
		}
	}
	done(true)
	return true
}

func evaluateKey(expr expression.Expression, ex *exchange.Exchange) (key string, err error) {
	err = processor.Safely(func() error {
		v, err := expr.Evaluate(ex)
		if err != nil || v == nil {
			return err
		}
		key = fmt.Sprint(v)
		return nil
	})
	return key, err
}
