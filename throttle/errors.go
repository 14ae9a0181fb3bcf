package throttle

import "errors"

// 预定义错误.
var (
	// ErrThrottled 超出限制且配置为拒绝执行.
	ErrThrottled = errors.New("throttle: 超出流量限制")

	// ErrInvalidConfig 配置无效.
	ErrInvalidConfig = errors.New("throttle: 配置无效")
)
