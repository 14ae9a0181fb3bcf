package loadbalancer

import (
	"sync/atomic"

	"github.com/Tsukikage7/integration-kit/collections/lrucache"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/processor"
)

// DefaultStickyCapacity 粘性映射的默认容量.
const DefaultStickyCapacity = 1000

// StickyOption 粘性负载均衡选项.
type StickyOption func(*sticky)

// WithStickyCapacity 设置关联键映射的最大数量，超出时淘汰最久未使用的键.
func WithStickyCapacity(n int) StickyOption {
	return func(s *sticky) {
		s.capacity = n
	}
}

type sticky struct {
	correlation expression.Expression
	capacity    int
	targets     *lrucache.Cache[string, int]
	counter     atomic.Uint64
	n           int
}

// NewSticky 同一关联键的 Exchange 始终发往同一处理器.
//
// 新键按轮询分配目标，关联键写入 LoadBalancerStickyKey 属性；关联键为空时退化为轮询.
func NewSticky(correlation expression.Expression, procs []processor.Processor, opts ...StickyOption) LoadBalancer {
	s := &sticky{correlation: correlation, capacity: DefaultStickyCapacity, n: len(procs)}
	for _, opt := range opts {
		opt(s)
	}
	s.targets = lrucache.New[string, int](s.capacity)
	return &balancer{processors: procs, selectFn: s.next}
}

func (s *sticky) next(ex *exchange.Exchange) (int, error) {
	key, err := evaluateKey(s.correlation, ex)
	if err != nil {
		return 0, err
	}
	candidate := int((s.counter.Add(1) - 1) % uint64(s.n))
	if key == "" {
		return candidate, nil
	}
	ex.SetProperty(exchange.PropertyLoadBalancerStickyKey, key)
	idx, _ := s.targets.PutIfAbsent(key, candidate)
	return idx, nil
}
