package engine

import (
	"errors"
	"fmt"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// 预定义错误.
var (
	// ErrDuplicateRouteID 路由 ID 重复.
	ErrDuplicateRouteID = errors.New("engine: 路由 ID 重复")
	// ErrNoSuchRoute 路由不存在.
	ErrNoSuchRoute = errors.New("engine: 路由不存在")
	// ErrNotStarted 引擎未启动.
	ErrNotStarted = errors.New("engine: 引擎未启动")
	// ErrAlreadyStarted 引擎已启动.
	ErrAlreadyStarted = errors.New("engine: 引擎已启动")
	// ErrStopped 引擎已停止，不能再使用.
	ErrStopped = errors.New("engine: 引擎已停止")
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("engine: 配置为空")
	// ErrInvalidConfig 配置无效.
	ErrInvalidConfig = errors.New("engine: 配置无效")
	// ErrNilDefinition 路由定义为空.
	ErrNilDefinition = errors.New("engine: 路由定义为空")
)

// ExecutionError 同步发送失败，包装 Exchange 上的异常.
type ExecutionError struct {
	Exchange *exchange.Exchange
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("engine: Exchange %s 处理失败: %v", e.Exchange.ID(), e.Err)
}

// Unwrap 返回原始异常.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// RouteError 与某条路由相关的错误.
type RouteError struct {
	RouteID string
	Err     error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("engine: 路由 %s: %v", e.RouteID, e.Err)
}

// Unwrap 返回原始错误.
func (e *RouteError) Unwrap() error {
	return e.Err
}
