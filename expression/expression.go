// Package expression 提供在 Exchange 上求值的表达式与谓词.
//
// 用于选择分支、关联键、幂等键、分割源等需要从消息中取值的地方.
package expression

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
)

// ErrNilExpression 表达式为空.
var ErrNilExpression = errors.New("expression: 表达式为空")

// Expression 在 Exchange 上求值.
type Expression interface {
	Evaluate(ex *exchange.Exchange) (any, error)
}

// Func 函数形式的表达式.
type Func func(ex *exchange.Exchange) (any, error)

// Evaluate 实现 Expression.
func (f Func) Evaluate(ex *exchange.Exchange) (any, error) {
	return f(ex)
}

// Body 当前消息体.
func Body() Expression {
	return Func(func(ex *exchange.Exchange) (any, error) {
		return ex.Message().Body(), nil
	})
}

// Header 当前消息头，不存在时为 nil.
func Header(name string) Expression {
	return Func(func(ex *exchange.Exchange) (any, error) {
		v, _ := ex.Message().Header(name)
		return v, nil
	})
}

// Property Exchange 属性，不存在时为 nil.
func Property(name string) Expression {
	return Func(func(ex *exchange.Exchange) (any, error) {
		v, _ := ex.Property(name)
		return v, nil
	})
}

// Constant 常量.
func Constant(v any) Expression {
	return Func(func(*exchange.Exchange) (any, error) {
		return v, nil
	})
}

// ExchangeID Exchange ID.
func ExchangeID() Expression {
	return Func(func(ex *exchange.Exchange) (any, error) {
		return ex.ID(), nil
	})
}

// MessageID 当前消息 ID.
func MessageID() Expression {
	return Func(func(ex *exchange.Exchange) (any, error) {
		return ex.Message().MessageID(), nil
	})
}

// Tokenize 将表达式的字符串结果按分隔符切分为 []string.
func Tokenize(expr Expression, sep string) Expression {
	return Func(func(ex *exchange.Exchange) (any, error) {
		v, err := expr.Evaluate(ex)
		if err != nil || v == nil {
			return nil, err
		}
		s, err := convert[string](ex, v)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return []string{}, nil
		}
		return strings.Split(s, sep), nil
	})
}

// Sprintf 按格式拼接多个表达式的结果.
func Sprintf(format string, exprs ...Expression) Expression {
	return Func(func(ex *exchange.Exchange) (any, error) {
		args := make([]any, len(exprs))
		for i, e := range exprs {
			v, err := e.Evaluate(ex)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return fmt.Sprintf(format, args...), nil
	})
}

// Evaluate 求值并将结果转换为 T.
func Evaluate[T any](expr Expression, ex *exchange.Exchange) (T, error) {
	var zero T
	if expr == nil {
		return zero, ErrNilExpression
	}
	v, err := expr.Evaluate(ex)
	if err != nil {
		return zero, err
	}
	return convert[T](ex, v)
}

func convert[T any](ex *exchange.Exchange, v any) (T, error) {
	return converter.To[T](ex.TypeConverter(), v)
}

// truthy 判断值是否为真：nil、false、空字符串、零值数字与空集合为假.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return !rv.IsZero()
	}
	return true
}
