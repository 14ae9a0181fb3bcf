package eip

import "errors"

// 预定义错误.
var (
	// ErrNoProcessors 未配置目标处理器.
	ErrNoProcessors = errors.New("eip: 目标处理器不能为空")

	// ErrAggregation 聚合策略失败.
	ErrAggregation = errors.New("eip: 聚合失败")

	// ErrNoCorrelationKey 关联键为空.
	ErrNoCorrelationKey = errors.New("eip: 关联键为空")

	// ErrInvalidRecipient 接收者无效.
	ErrInvalidRecipient = errors.New("eip: 接收者无效")

	// ErrCircuitOpen 断路器打开.
	ErrCircuitOpen = errors.New("eip: 断路器已打开")

	// ErrFault 处理结果为故障消息.
	ErrFault = errors.New("eip: 处理结果为故障")

	// ErrAggregatorStopped 聚合器已停止.
	ErrAggregatorStopped = errors.New("eip: 聚合器已停止")
)
