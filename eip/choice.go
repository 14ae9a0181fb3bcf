// Package eip 实现路由中的企业集成模式：分支、过滤、多播、分割、接收者列表、
// 聚合、窃听、内容补充、延迟与断路器.
//
// 所有构件都实现 processor.AsyncProcessor 或 processor.Processor，可以直接
// 放入流水线. 用户提供的谓词、表达式与聚合策略中的 panic 会转为 Exchange 上的异常.
package eip

import (
	"context"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/processor"
)

// matches 求值谓词，panic 转为错误.
func matches(p expression.Predicate, ex *exchange.Exchange) (ok bool, err error) {
	err = processor.Safely(func() error {
		var merr error
		ok, merr = p.Matches(ex)
		return merr
	})
	return ok, err
}

// evaluate 求值表达式，panic 转为错误.
func evaluate(e expression.Expression, ex *exchange.Exchange) (v any, err error) {
	err = processor.Safely(func() error {
		var eerr error
		v, eerr = e.Evaluate(ex)
		return eerr
	})
	return v, err
}

type when struct {
	predicate expression.Predicate
	processor processor.Processor
}

// Choice 基于内容的路由：按顺序求值谓词，只执行第一个匹配的分支.
//
// 没有分支匹配时执行 otherwise，未设置 otherwise 则原样通过.
type Choice struct {
	whens     []when
	otherwise processor.Processor
}

// NewChoice 创建 Choice.
func NewChoice() *Choice {
	return &Choice{}
}

// When 追加分支.
func (c *Choice) When(p expression.Predicate, proc processor.Processor) *Choice {
	c.whens = append(c.whens, when{predicate: p, processor: proc})
	return c
}

// Otherwise 设置默认分支.
func (c *Choice) Otherwise(proc processor.Processor) *Choice {
	c.otherwise = proc
	return c
}

// Process 实现 processor.Processor.
func (c *Choice) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, c, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (c *Choice) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	target, err := c.selectBranch(ex)
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	if target == nil {
		done(true)
		return true
	}
	return processor.InvokeAsync(ctx, target, ex, done)
}

func (c *Choice) selectBranch(ex *exchange.Exchange) (processor.Processor, error) {
	for _, w := range c.whens {
		ok, err := matches(w.predicate, ex)
		if err != nil {
			return nil, err
		}
		if ok {
			return w.processor, nil
		}
	}
	return c.otherwise, nil
}

// Filter 只有谓词匹配的 Exchange 才交给处理器，结果记录在 FilterMatched 属性.
type Filter struct {
	predicate expression.Predicate
	processor processor.Processor
}

// NewFilter 创建 Filter.
func NewFilter(p expression.Predicate, proc processor.Processor) *Filter {
	return &Filter{predicate: p, processor: proc}
}

// Process 实现 processor.Processor.
func (f *Filter) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, f, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (f *Filter) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	ok, err := matches(f.predicate, ex)
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	ex.SetProperty(exchange.PropertyFilterMatched, ok)
	if !ok {
		done(true)
		return true
	}
	return processor.InvokeAsync(ctx, f.processor, ex, done)
}
