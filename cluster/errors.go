package cluster

import "errors"

// 预定义错误.
var (
	// ErrNilStore 存储为空.
	ErrNilStore = errors.New("cluster: 存储不能为空")

	// ErrNilClient 客户端为空.
	ErrNilClient = errors.New("cluster: 客户端不能为空")

	// ErrEmptyNamespace 命名空间为空.
	ErrEmptyNamespace = errors.New("cluster: 命名空间不能为空")

	// ErrInvalidLease 租约配置无效.
	ErrInvalidLease = errors.New("cluster: 租约配置无效")

	// ErrNilView 视图为空.
	ErrNilView = errors.New("cluster: 视图不能为空")

	// ErrAlreadyStarted 视图已启动.
	ErrAlreadyStarted = errors.New("cluster: 视图已启动")
)
