package processor

import (
	"context"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// Pipeline 按顺序执行处理器.
//
// Exchange 失败、被标记停止或异常已被处理时不再继续；
// 上一步产生的 out 消息作为下一步的 in 消息.
type Pipeline struct {
	steps []Processor
}

// NewPipeline 创建流水线.
func NewPipeline(steps ...Processor) *Pipeline {
	return &Pipeline{steps: steps}
}

// Steps 返回流水线中的处理器.
func (p *Pipeline) Steps() []Processor {
	return p.steps
}

// Process 实现 Processor.
func (p *Pipeline) Process(ctx context.Context, ex *exchange.Exchange) error {
	return ProcessAsyncAware(ctx, p, ex)
}

// ProcessAsync 实现 AsyncProcessor.
func (p *Pipeline) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done Callback) bool {
	return p.continueFrom(ctx, ex, 0, done)
}

func (p *Pipeline) continueFrom(ctx context.Context, ex *exchange.Exchange, start int, done Callback) bool {
	for i := start; i < len(p.steps); i++ {
		if !ex.ShouldContinue() {
			break
		}
		if err := ctx.Err(); err != nil {
			ex.SetErr(err)
			break
		}
		if i > 0 {
			ex.PrepareNext()
		}

		next := i + 1
		sync := InvokeAsync(ctx, p.steps[i], ex, func(doneSync bool) {
			if doneSync {
				return
			}
			p.continueFrom(ctx, ex, next, func(bool) { done(false) })
		})
		if !sync {
			return false
		}
	}

	done(true)
	return true
}
