package component

import (
	"errors"
	"fmt"
	"strings"
)

// 预定义错误.
var (
	// ErrNoSuchComponent 组件不存在.
	ErrNoSuchComponent = errors.New("component: 组件不存在")

	// ErrInvalidURI URI 格式错误.
	ErrInvalidURI = errors.New("component: URI 格式错误")

	// ErrInvalidParameter 参数值无效.
	ErrInvalidParameter = errors.New("component: 参数值无效")

	// ErrUnknownParameter 存在未识别的参数.
	ErrUnknownParameter = errors.New("component: 未识别的参数")

	// ErrNotProducer 端点不支持生产者.
	ErrNotProducer = errors.New("component: 端点不支持生产者")

	// ErrNotConsumer 端点不支持消费者.
	ErrNotConsumer = errors.New("component: 端点不支持消费者")

	// ErrDuplicateComponent 组件重复注册.
	ErrDuplicateComponent = errors.New("component: 组件重复注册")
)

// ResolveEndpointError 解析端点失败.
type ResolveEndpointError struct {
	URI string
	Err error
}

func (e *ResolveEndpointError) Error() string {
	return fmt.Sprintf("component: 解析端点失败 %s: %v", e.URI, e.Err)
}

// Unwrap 返回原因.
func (e *ResolveEndpointError) Unwrap() error {
	return e.Err
}

// InvalidParameterError 参数值无法转换为目标类型.
type InvalidParameterError struct {
	Key   string
	Value any
	Err   error
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("component: 参数 %s=%v 无效: %v", e.Key, e.Value, e.Err)
}

// Unwrap 返回原因.
func (e *InvalidParameterError) Unwrap() error {
	return e.Err
}

// Is 匹配 ErrInvalidParameter.
func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// UnknownParameterError 组件没有消费的参数.
type UnknownParameterError struct {
	URI  string
	Keys []string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("component: 端点 %s 存在未识别的参数: %s", e.URI, strings.Join(e.Keys, ", "))
}

// Is 匹配 ErrUnknownParameter.
func (e *UnknownParameterError) Is(target error) bool {
	return target == ErrUnknownParameter
}
