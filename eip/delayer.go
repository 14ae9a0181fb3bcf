package eip

import (
	"context"
	"time"

	"github.com/spf13/cast"

	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Delayer 按表达式计算的时长延迟 Exchange.
//
// 表达式结果可以是 time.Duration、毫秒数或时间模式字符串.
// 异步模式通过定时器恢复；ctx 取消时立即以取消错误结束.
type Delayer struct {
	expr expression.Expression
	sync bool
}

// NewDelayer 创建异步 Delayer.
func NewDelayer(expr expression.Expression) *Delayer {
	return &Delayer{expr: expr}
}

// Synchronous 在调用方 goroutine 中阻塞等待.
func (d *Delayer) Synchronous() *Delayer {
	d.sync = true
	return d
}

// Process 实现 processor.Processor.
func (d *Delayer) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, d, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (d *Delayer) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	delay, err := d.delay(ex)
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	if delay <= 0 {
		done(true)
		return true
	}

	if d.sync {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			ex.SetErr(ctx.Err())
		}
		done(true)
		return true
	}

	once := processor.Once(done)
	t := time.AfterFunc(delay, func() { once(false) })
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				if t.Stop() {
					ex.SetErr(ctx.Err())
					once(false)
				}
			case <-time.After(delay):
			}
		}()
	}
	return false
}

func (d *Delayer) delay(ex *exchange.Exchange) (time.Duration, error) {
	v, err := evaluate(d.expr, ex)
	if err != nil || v == nil {
		return 0, err
	}
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case string:
		return converter.ParseTimePattern(x)
	}
	ms, err := cast.ToInt64E(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
