package converter

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cast"
)

// NewDefault 创建带内置转换器的注册表.
//
// 内置转换:
//   - string <-> []byte
//   - io.Reader -> []byte / string，[]byte -> io.Reader
//   - string -> time.Duration（时间模式，见 ParseTimePattern）
//   - int / int64 -> time.Duration（按毫秒）
//   - 标量类型之间的回退转换（spf13/cast）
func NewDefault() *Registry {
	r := New()
	RegisterDefaults(r)
	return r
}

// RegisterDefaults 向注册表追加内置转换器.
func RegisterDefaults(r *Registry) {
	Register(r, func(s string) ([]byte, error) { return []byte(s), nil })
	Register(r, func(b []byte) (string, error) { return string(b), nil })
	Register(r, func(b []byte) (io.Reader, error) { return bytes.NewReader(b), nil })
	Register(r, func(s string) (io.Reader, error) { return bytes.NewReader([]byte(s)), nil })
	Register(r, func(rd io.Reader) ([]byte, error) { return io.ReadAll(rd) })
	Register(r, func(rd io.Reader) (string, error) {
		b, err := io.ReadAll(rd)
		return string(b), err
	})
	Register(r, ParseTimePattern)
	Register(r, func(ms int) (time.Duration, error) { return time.Duration(ms) * time.Millisecond, nil })
	Register(r, func(ms int64) (time.Duration, error) { return time.Duration(ms) * time.Millisecond, nil })
	Register(r, func(d time.Duration) (string, error) { return d.String(), nil })

	r.AddFallback(castFallback)
	r.AddFallback(stringerFallback)
}

// castTargets 回退转换支持的目标类型.
var castTargets = map[reflect.Type]func(any) (any, error){
	TypeOf[string]():         func(v any) (any, error) { return cast.ToStringE(v) },
	TypeOf[int]():            func(v any) (any, error) { return cast.ToIntE(v) },
	TypeOf[int32]():          func(v any) (any, error) { return cast.ToInt32E(v) },
	TypeOf[int64]():          func(v any) (any, error) { return cast.ToInt64E(v) },
	TypeOf[uint]():           func(v any) (any, error) { return cast.ToUintE(v) },
	TypeOf[uint32]():         func(v any) (any, error) { return cast.ToUint32E(v) },
	TypeOf[uint64]():         func(v any) (any, error) { return cast.ToUint64E(v) },
	TypeOf[float32]():        func(v any) (any, error) { return cast.ToFloat32E(v) },
	TypeOf[float64]():        func(v any) (any, error) { return cast.ToFloat64E(v) },
	TypeOf[bool]():           func(v any) (any, error) { return cast.ToBoolE(v) },
	TypeOf[time.Time]():      func(v any) (any, error) { return cast.ToTimeE(v) },
	TypeOf[[]string]():       func(v any) (any, error) { return cast.ToStringSliceE(v) },
	TypeOf[map[string]any](): func(v any) (any, error) { return cast.ToStringMapE(v) },
}

// castFallback 处理标量之间的转换；cast 无法处理时拒绝而不是报错.
func castFallback(to reflect.Type, value any) (any, bool, error) {
	fn, ok := castTargets[to]
	if !ok {
		return nil, false, nil
	}
	out, err := fn(value)
	if err != nil {
		return nil, false, nil
	}
	return out, true, nil
}

func stringerFallback(to reflect.Type, value any) (any, bool, error) {
	if to != TypeOf[string]() {
		return nil, false, nil
	}
	if s, ok := value.(fmt.Stringer); ok {
		return s.String(), true, nil
	}
	return nil, false, nil
}
