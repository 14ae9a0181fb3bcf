package route

import (
	"errors"
	"fmt"
)

// 预定义错误.
var (
	// ErrEmptyRouteID 路由 ID 为空.
	ErrEmptyRouteID = errors.New("route: 路由 ID 为空")
	// ErrNoInputs 路由没有输入端点.
	ErrNoInputs = errors.New("route: 路由至少需要一个输入端点")
	// ErrIllegalTransition 非法状态转换.
	ErrIllegalTransition = errors.New("route: 非法状态转换")
	// ErrShutdownTimeout 停止路由超时，仍有未完成的 Exchange.
	ErrShutdownTimeout = errors.New("route: 停止超时")
	// ErrConsumersGated 路由策略暂不允许消费者运行.
	ErrConsumersGated = errors.New("route: 路由策略暂不允许启动消费者")
	// ErrRouteNotRunning 路由未运行.
	ErrRouteNotRunning = errors.New("route: 路由未运行")
	// ErrNoEndpointResolver 定义构建时缺少端点解析器.
	ErrNoEndpointResolver = errors.New("route: 端点解析器为空")
)

// TransitionError 非法状态转换错误.
type TransitionError struct {
	RouteID string
	Op      string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("route: 路由 %s 无法在 %s 状态执行 %s (目标状态 %s)", e.RouteID, e.From, e.Op, e.To)
}

// Is 使 errors.Is(err, ErrIllegalTransition) 成立.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
