package errorhandler

import "errors"

// 预定义错误.
var (
	// ErrInvalidDelayPattern 延迟模式格式无效.
	ErrInvalidDelayPattern = errors.New("errorhandler: 延迟模式格式无效")

	// ErrHandledAndContinued 异常策略不能同时为 handled 与 continued.
	ErrHandledAndContinued = errors.New("errorhandler: handled 与 continued 不能同时设置")

	// ErrNoDeadLetter 死信通道未配置目标.
	ErrNoDeadLetter = errors.New("errorhandler: 死信通道目标不能为空")
)
