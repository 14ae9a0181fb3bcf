package idempotent

import "errors"

// 预定义错误.
var (
	// ErrEmptyKey 幂等键为空.
	ErrEmptyKey = errors.New("idempotent: 幂等键为空")
	// ErrNilRepository 仓库为空.
	ErrNilRepository = errors.New("idempotent: 仓库为空")
	// ErrNilClient 存储客户端为空.
	ErrNilClient = errors.New("idempotent: 存储客户端为空")
	// ErrEmptyProcessorName 处理器名称为空.
	ErrEmptyProcessorName = errors.New("idempotent: 处理器名称为空")
)
