package loadbalancer

import "errors"

// 预定义错误.
var (
	// ErrNoProcessors 未配置目标处理器.
	ErrNoProcessors = errors.New("loadbalancer: 目标处理器不能为空")

	// ErrInvalidWeights 权重数量与处理器数量不一致或权重非法.
	ErrInvalidWeights = errors.New("loadbalancer: 权重配置无效")
)
