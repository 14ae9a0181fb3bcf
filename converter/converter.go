// Package converter 提供消息体与头部的类型转换注册表.
//
// 转换器按注册顺序匹配，第一个 (源类型, 目标类型) 命中的转换器生效；
// 没有类型化转换器命中时依次询问回退转换器，全部拒绝则返回 NoConversionError.
//
// 示例:
//
//	reg := converter.NewDefault()
//	n, err := converter.To[int](reg, "42")
package converter

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// 预定义错误.
var (
	// ErrNoTypeConversion 没有可用的类型转换器.
	ErrNoTypeConversion = errors.New("converter: 没有可用的类型转换器")
	// ErrTypeConversion 类型转换失败.
	ErrTypeConversion = errors.New("converter: 类型转换失败")
)

// NoConversionError 没有转换器能够处理的转换请求.
type NoConversionError struct {
	From reflect.Type
	To   reflect.Type
}

func (e *NoConversionError) Error() string {
	return fmt.Sprintf("converter: 没有可用的类型转换器: %v -> %v", e.From, e.To)
}

func (e *NoConversionError) Is(target error) bool {
	return target == ErrNoTypeConversion
}

// ConversionError 转换器命中但转换失败.
type ConversionError struct {
	From  reflect.Type
	To    reflect.Type
	Value any
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("converter: 类型转换失败: %v -> %v: %v", e.From, e.To, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrTypeConversion
}

// Func 类型化转换函数.
type Func func(value any) (any, error)

// FallbackFunc 回退转换函数，ok 为 false 表示不处理该转换.
type FallbackFunc func(to reflect.Type, value any) (result any, ok bool, err error)

type entry struct {
	from reflect.Type
	to   reflect.Type
	fn   Func
}

// Registry 类型转换注册表.
//
// 并发安全，注册与转换可以同时进行.
type Registry struct {
	mu        sync.RWMutex
	entries   []entry
	fallbacks []FallbackFunc
}

// New 创建空注册表.
func New() *Registry {
	return &Registry{}
}

// Register 注册 from -> to 的转换函数.
//
// from 为接口类型时，任何实现该接口的值都会命中.
func (r *Registry) Register(from, to reflect.Type, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{from: from, to: to, fn: fn})
}

// AddFallback 追加回退转换函数.
func (r *Registry) AddFallback(fn FallbackFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, fn)
}

// Size 返回已注册的类型化转换器数量.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Convert 将 value 转换为 to 类型.
func (r *Registry) Convert(to reflect.Type, value any) (any, error) {
	if value == nil {
		return reflect.Zero(to).Interface(), nil
	}

	from := reflect.TypeOf(value)
	if from.AssignableTo(to) {
		return value, nil
	}

	r.mu.RLock()
	var matched *entry
	for i := range r.entries {
		e := &r.entries[i]
		if e.to == to && matches(e.from, from) {
			matched = e
			break
		}
	}
	fallbacks := r.fallbacks
	r.mu.RUnlock()

	if matched != nil {
		out, err := matched.fn(value)
		if err != nil {
			return nil, &ConversionError{From: from, To: to, Value: value, Err: err}
		}
		return out, nil
	}

	for _, fb := range fallbacks {
		out, ok, err := fb(to, value)
		if err != nil {
			return nil, &ConversionError{From: from, To: to, Value: value, Err: err}
		}
		if ok {
			return out, nil
		}
	}

	return nil, &NoConversionError{From: from, To: to}
}

func matches(registered, actual reflect.Type) bool {
	if registered == actual {
		return true
	}
	return registered.Kind() == reflect.Interface && actual.Implements(registered)
}

// Register 以泛型方式注册 From -> To 的转换函数.
func Register[From, To any](r *Registry, fn func(From) (To, error)) {
	r.Register(TypeOf[From](), TypeOf[To](), func(v any) (any, error) {
		return fn(v.(From))
	})
}

// To 将 value 转换为 T.
func To[T any](r *Registry, value any) (T, error) {
	var zero T
	if v, ok := value.(T); ok {
		return v, nil
	}
	out, err := r.Convert(TypeOf[T](), value)
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	v, ok := out.(T)
	if !ok {
		return zero, &ConversionError{
			From:  reflect.TypeOf(value),
			To:    TypeOf[T](),
			Value: value,
			Err:   fmt.Errorf("转换器返回了意外的类型 %T", out),
		}
	}
	return v, nil
}

// TypeOf 返回 T 的 reflect.Type，接口类型也能正确取得.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
