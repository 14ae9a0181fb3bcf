package errorhandler

import (
	"errors"

	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/processor"
)

// ExceptionPolicy 针对特定错误的处理策略.
type ExceptionPolicy struct {
	targets            []error
	matcher            func(error) bool
	redelivery         *RedeliveryPolicy
	retryWhile         expression.Predicate
	handled            bool
	continued          bool
	onRedelivery       processor.Processor
	useOriginalMessage bool
}

// OnException 匹配 errors.Is 任一目标的错误.
func OnException(targets ...error) *ExceptionPolicy {
	return &ExceptionPolicy{targets: targets}
}

// OnExceptionType 匹配 errors.As 能转换为 T 的错误.
func OnExceptionType[T error]() *ExceptionPolicy {
	return &ExceptionPolicy{matcher: func(err error) bool {
		var target T
		return errors.As(err, &target)
	}}
}

// OnExceptionFunc 使用自定义函数匹配错误.
func OnExceptionFunc(fn func(error) bool) *ExceptionPolicy {
	return &ExceptionPolicy{matcher: fn}
}

// Redelivery 使用独立的重投递策略.
func (p *ExceptionPolicy) Redelivery(rp RedeliveryPolicy) *ExceptionPolicy {
	p.redelivery = &rp
	return p
}

// RetryWhile 谓词为 true 时继续重投递，优先于重投递次数.
func (p *ExceptionPolicy) RetryWhile(pred expression.Predicate) *ExceptionPolicy {
	p.retryWhile = pred
	return p
}

// Handled 重投递耗尽后标记异常已处理，路由停止且调用方不再看到异常.
func (p *ExceptionPolicy) Handled() *ExceptionPolicy {
	p.handled = true
	return p
}

// Continued 重投递耗尽后忽略异常，路由继续向后处理.
func (p *ExceptionPolicy) Continued() *ExceptionPolicy {
	p.continued = true
	return p
}

// OnRedelivery 每次重投递前执行的处理器.
func (p *ExceptionPolicy) OnRedelivery(proc processor.Processor) *ExceptionPolicy {
	p.onRedelivery = proc
	return p
}

// UseOriginalMessage 耗尽后把路由收到的原始消息交给死信通道.
func (p *ExceptionPolicy) UseOriginalMessage() *ExceptionPolicy {
	p.useOriginalMessage = true
	return p
}

// Validate 验证策略.
func (p *ExceptionPolicy) Validate() error {
	if p.handled && p.continued {
		return ErrHandledAndContinued
	}
	if p.redelivery != nil {
		return p.redelivery.Validate()
	}
	return nil
}

// Matches 错误是否匹配该策略，匹配函数 panic 时视为不匹配.
func (p *ExceptionPolicy) Matches(err error) bool {
	ok, _ := p.match(err)
	return ok
}

// match 匹配错误，匹配函数中的 panic 以 PanicError 返回.
func (p *ExceptionPolicy) match(err error) (ok bool, panicErr error) {
	if err == nil {
		return false, nil
	}
	if p.matcher != nil {
		panicErr = processor.Safely(func() error {
			ok = p.matcher(err)
			return nil
		})
		if panicErr != nil || ok {
			return ok, panicErr
		}
	}
	for _, t := range p.targets {
		if errors.Is(err, t) {
			return true, nil
		}
	}
	return false, nil
}
