package expression

import (
	"reflect"
	"strings"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// Predicate 在 Exchange 上判断真假.
type Predicate interface {
	Matches(ex *exchange.Exchange) (bool, error)
}

// PredicateFunc 函数形式的谓词.
type PredicateFunc func(ex *exchange.Exchange) (bool, error)

// Matches 实现 Predicate.
func (f PredicateFunc) Matches(ex *exchange.Exchange) (bool, error) {
	return f(ex)
}

// True 恒真.
func True() Predicate {
	return PredicateFunc(func(*exchange.Exchange) (bool, error) { return true, nil })
}

// False 恒假.
func False() Predicate {
	return PredicateFunc(func(*exchange.Exchange) (bool, error) { return false, nil })
}

// ToPredicate 将表达式结果按真值判断.
func ToPredicate(expr Expression) Predicate {
	return PredicateFunc(func(ex *exchange.Exchange) (bool, error) {
		v, err := expr.Evaluate(ex)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	})
}

// HasHeader 当前消息包含指定头.
func HasHeader(name string) Predicate {
	return PredicateFunc(func(ex *exchange.Exchange) (bool, error) {
		_, ok := ex.Message().Header(name)
		return ok, nil
	})
}

// HeaderEquals 当前消息头等于 value，必要时先做类型转换.
func HeaderEquals(name string, value any) Predicate {
	return Equals(Header(name), Constant(value))
}

// BodyContains 消息体的字符串形式包含 substr.
func BodyContains(substr string) Predicate {
	return PredicateFunc(func(ex *exchange.Exchange) (bool, error) {
		s, err := Evaluate[string](Body(), ex)
		if err != nil {
			return false, err
		}
		return strings.Contains(s, substr), nil
	})
}

// Equals 两个表达式的结果相等.
//
// 类型不同时将右值转换为左值的类型后再比较.
func Equals(left, right Expression) Predicate {
	return PredicateFunc(func(ex *exchange.Exchange) (bool, error) {
		l, err := left.Evaluate(ex)
		if err != nil {
			return false, err
		}
		r, err := right.Evaluate(ex)
		if err != nil {
			return false, err
		}
		if l == nil || r == nil {
			return l == nil && r == nil, nil
		}
		lt := reflect.TypeOf(l)
		if reflect.TypeOf(r) != lt {
			conv, err := ex.TypeConverter().Convert(lt, r)
			if err != nil {
				return false, nil
			}
			r = conv
		}
		if !lt.Comparable() {
			return reflect.DeepEqual(l, r), nil
		}
		return l == r, nil
	})
}

// And 全部为真；短路求值.
func And(preds ...Predicate) Predicate {
	return PredicateFunc(func(ex *exchange.Exchange) (bool, error) {
		for _, p := range preds {
			ok, err := p.Matches(ex)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// Or 任一为真；短路求值.
func Or(preds ...Predicate) Predicate {
	return PredicateFunc(func(ex *exchange.Exchange) (bool, error) {
		for _, p := range preds {
			ok, err := p.Matches(ex)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// Not 取反.
func Not(p Predicate) Predicate {
	return PredicateFunc(func(ex *exchange.Exchange) (bool, error) {
		ok, err := p.Matches(ex)
		return !ok && err == nil, err
	})
}
