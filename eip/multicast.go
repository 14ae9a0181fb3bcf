package eip

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Multicast 将 Exchange 的副本发送给每个处理器，默认以最后一个结果为准.
type Multicast struct {
	fanOut
	processors []processor.Processor
}

// NewMulticast 创建 Multicast.
func NewMulticast(procs []processor.Processor, opts ...FanOutOption) *Multicast {
	return &Multicast{fanOut: newFanOut(UseLatest(), opts), processors: procs}
}

// Process 实现 processor.Processor.
func (m *Multicast) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, m, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (m *Multicast) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	if len(m.processors) == 0 {
		ex.SetErr(ErrNoProcessors)
		done(true)
		return true
	}
	parts := make([]part, len(m.processors))
	for i, p := range m.processors {
		sub := ex.CorrelatedCopy()
		sub.SetProperty(exchange.PropertyMulticastIndex, i)
		sub.SetProperty(exchange.PropertyMulticastComplete, i == len(m.processors)-1)
		parts[i] = part{ex: sub, proc: p}
	}
	return m.process(ctx, ex, parts, done)
}

// Splitter 将表达式结果拆分为多条消息分别处理，默认保留原始 Exchange.
//
// 表达式结果为切片或数组时逐元素拆分，nil 不产生分支，其他值视为单个元素.
type Splitter struct {
	fanOut
	expr      expression.Expression
	processor processor.Processor
}

// NewSplitter 创建 Splitter.
func NewSplitter(expr expression.Expression, proc processor.Processor, opts ...FanOutOption) *Splitter {
	return &Splitter{fanOut: newFanOut(UseOriginal(), opts), expr: expr, processor: proc}
}

// Process 实现 processor.Processor.
func (s *Splitter) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, s, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (s *Splitter) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	v, err := evaluate(s.expr, ex)
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	items := splitValue(v)
	parts := make([]part, len(items))
	for i, item := range items {
		sub := ex.CorrelatedCopy()
		sub.SetIn(ex.Message().Copy())
		sub.SetOut(nil)
		sub.In().SetBody(item)
		sub.SetProperty(exchange.PropertySplitIndex, i)
		sub.SetProperty(exchange.PropertySplitSize, len(items))
		sub.SetProperty(exchange.PropertySplitComplete, i == len(items)-1)
		parts[i] = part{ex: sub, proc: s.processor}
	}
	return s.process(ctx, ex, parts, done)
}

func splitValue(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	case []byte, string:
		return []any{x}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items
	default:
		return []any{v}
	}
}

// Resolver 将端点 URI 解析为处理器.
type Resolver func(uri string) (processor.Processor, error)

// RecipientList 在运行时由表达式计算接收者，向每个接收者发送副本.
type RecipientList struct {
	fanOut
	expr          expression.Expression
	resolve       Resolver
	delimiter     string
	ignoreInvalid bool
}

// NewRecipientList 创建 RecipientList，表达式结果为以逗号分隔的字符串或字符串切片.
func NewRecipientList(expr expression.Expression, resolve Resolver, opts ...FanOutOption) *RecipientList {
	return &RecipientList{
		fanOut:    newFanOut(UseLatest(), opts),
		expr:      expr,
		resolve:   resolve,
		delimiter: ",",
	}
}

// Delimiter 设置分隔符.
func (r *RecipientList) Delimiter(sep string) *RecipientList {
	r.delimiter = sep
	return r
}

// IgnoreInvalidEndpoints 跳过无法解析的接收者.
func (r *RecipientList) IgnoreInvalidEndpoints() *RecipientList {
	r.ignoreInvalid = true
	return r
}

// Process 实现 processor.Processor.
func (r *RecipientList) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, r, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (r *RecipientList) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	parts, err := r.parts(ex)
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	return r.process(ctx, ex, parts, done)
}

func (r *RecipientList) parts(ex *exchange.Exchange) ([]part, error) {
	v, err := evaluate(r.expr, ex)
	if err != nil {
		return nil, err
	}
	var parts []part
	for _, uri := range r.recipients(v) {
		proc, err := r.resolve(uri)
		if err != nil {
			if r.ignoreInvalid {
				continue
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRecipient, uri, err)
		}
		sub := ex.CorrelatedCopy()
		sub.SetProperty(exchange.PropertyRecipientEndpoint, uri)
		parts = append(parts, part{ex: sub, proc: proc})
	}
	return parts, nil
}

func (r *RecipientList) recipients(v any) []string {
	var raw []string
	switch x := v.(type) {
	case nil:
	case string:
		raw = strings.Split(x, r.delimiter)
	case []string:
		raw = x
	default:
		for _, item := range splitValue(v) {
			raw = append(raw, fmt.Sprint(item))
		}
	}
	out := raw[:0:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
