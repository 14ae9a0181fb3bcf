package management

import "errors"

// 预定义错误.
var (
	// ErrNilController 路由控制器为空.
	ErrNilController = errors.New("management: 路由控制器为空")
	// ErrUnknownAction 未知的路由操作.
	ErrUnknownAction = errors.New("management: 未知的路由操作")
	// ErrAddrEmpty 监听地址为空.
	ErrAddrEmpty = errors.New("management: 监听地址为空")
)
