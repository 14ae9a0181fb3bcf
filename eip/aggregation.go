package eip

import (
	"fmt"
	"strings"

	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// AggregationStrategy 将新 Exchange 合并到已有结果.
//
// 第一次调用时 old 为 nil. 返回 nil 表示保留原始 Exchange.
type AggregationStrategy interface {
	Aggregate(old, next *exchange.Exchange) (*exchange.Exchange, error)
}

// AggregationFunc 函数形式的聚合策略.
type AggregationFunc func(old, next *exchange.Exchange) (*exchange.Exchange, error)

// Aggregate 实现 AggregationStrategy.
func (f AggregationFunc) Aggregate(old, next *exchange.Exchange) (*exchange.Exchange, error) {
	return f(old, next)
}

// UseLatest 结果为最后一个 Exchange.
func UseLatest() AggregationStrategy {
	return AggregationFunc(func(_, next *exchange.Exchange) (*exchange.Exchange, error) {
		return next, nil
	})
}

// UseOriginal 保留原始 Exchange.
func UseOriginal() AggregationStrategy {
	return AggregationFunc(func(old, _ *exchange.Exchange) (*exchange.Exchange, error) {
		return old, nil
	})
}

// GroupedBodies 将各消息体收集为 []any.
func GroupedBodies() AggregationStrategy {
	return AggregationFunc(func(old, next *exchange.Exchange) (*exchange.Exchange, error) {
		if old == nil {
			old = next.Copy()
			old.Message().SetBody([]any{next.Message().Body()})
			return old, nil
		}
		bodies, _ := old.Message().Body().([]any)
		old.Message().SetBody(append(bodies, next.Message().Body()))
		return old, nil
	})
}

// GroupedExchanges 将各 Exchange 收集为 []*exchange.Exchange.
func GroupedExchanges() AggregationStrategy {
	return AggregationFunc(func(old, next *exchange.Exchange) (*exchange.Exchange, error) {
		if old == nil {
			old = next.Copy()
			old.Message().SetBody([]*exchange.Exchange{next})
			return old, nil
		}
		group, _ := old.Message().Body().([]*exchange.Exchange)
		old.Message().SetBody(append(group, next))
		return old, nil
	})
}

// StringJoin 将消息体转为字符串后以 sep 连接.
func StringJoin(sep string) AggregationStrategy {
	return AggregationFunc(func(old, next *exchange.Exchange) (*exchange.Exchange, error) {
		s, err := converter.To[string](next.TypeConverter(), next.Message().Body())
		if err != nil {
			return nil, err
		}
		if old == nil {
			old = next.Copy()
			old.Message().SetBody(s)
			return old, nil
		}
		prev, _ := old.Message().Body().(string)
		var b strings.Builder
		b.WriteString(prev)
		b.WriteString(sep)
		b.WriteString(s)
		old.Message().SetBody(b.String())
		return old, nil
	})
}

// aggregate 调用策略，panic 与错误统一包装为 ErrAggregation.
func aggregate(s AggregationStrategy, old, next *exchange.Exchange) (result *exchange.Exchange, err error) {
	err = processor.Safely(func() error {
		var aerr error
		result, aerr = s.Aggregate(old, next)
		return aerr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAggregation, err)
	}
	return result, nil
}
