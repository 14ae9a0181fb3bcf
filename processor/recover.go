package processor

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrPanic 用户回调发生 panic.
var ErrPanic = errors.New("processor: panic")

const stackSize = 64 * 1024

// PanicError 表示 panic 错误.
type PanicError struct {
	// Value 是 panic 的值.
	Value any
	// Stack 是堆栈信息.
	Stack []byte
}

// NewPanicError 捕获当前堆栈并创建 PanicError.
func NewPanicError(v any) *PanicError {
	stack := make([]byte, stackSize)
	n := runtime.Stack(stack, false)
	return &PanicError{Value: v, Stack: stack[:n]}
}

// Error 实现 error 接口.
func (e *PanicError) Error() string {
	return fmt.Sprintf("processor: panic: %v", e.Value)
}

// Unwrap 返回原始错误（如果 panic 值是 error）.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Is 匹配 ErrPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrPanic
}

// Safely 执行 fn，将 panic 转为 PanicError.
func Safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewPanicError(r)
		}
	}()
	return fn()
}
