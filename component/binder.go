package component

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/Tsukikage7/integration-kit/converter"
)

// Binder 将参数绑定到组件的类型化配置.
//
// 每个组件显式声明参数名与目标字段，Bind 消费已识别的参数.
type Binder struct {
	keys    []string
	setters map[string]func(v any) error
}

// NewBinder 创建参数绑定器.
func NewBinder() *Binder {
	return &Binder{setters: make(map[string]func(v any) error)}
}

// Func 注册自定义 setter.
func (b *Binder) Func(key string, set func(v any) error) *Binder {
	if _, ok := b.setters[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.setters[key] = set
	return b
}

// String 绑定字符串参数.
func (b *Binder) String(key string, dst *string) *Binder {
	return b.Func(key, func(v any) error {
		s, err := cast.ToStringE(v)
		if err == nil {
			*dst = s
		}
		return err
	})
}

// Int 绑定整数参数.
func (b *Binder) Int(key string, dst *int) *Binder {
	return b.Func(key, func(v any) error {
		n, err := cast.ToIntE(v)
		if err == nil {
			*dst = n
		}
		return err
	})
}

// Int64 绑定 int64 参数.
func (b *Binder) Int64(key string, dst *int64) *Binder {
	return b.Func(key, func(v any) error {
		n, err := cast.ToInt64E(v)
		if err == nil {
			*dst = n
		}
		return err
	})
}

// Bool 绑定布尔参数.
func (b *Binder) Bool(key string, dst *bool) *Binder {
	return b.Func(key, func(v any) error {
		x, err := cast.ToBoolE(v)
		if err == nil {
			*dst = x
		}
		return err
	})
}

// Float64 绑定浮点参数.
func (b *Binder) Float64(key string, dst *float64) *Binder {
	return b.Func(key, func(v any) error {
		f, err := cast.ToFloat64E(v)
		if err == nil {
			*dst = f
		}
		return err
	})
}

// Duration 绑定时长参数：字符串按时间模式解析，纯数字按毫秒.
func (b *Binder) Duration(key string, dst *time.Duration) *Binder {
	return b.Func(key, func(v any) error {
		d, err := toDuration(v)
		if err == nil {
			*dst = d
		}
		return err
	})
}

// StringSlice 绑定逗号分隔的字符串列表.
func (b *Binder) StringSlice(key string, dst *[]string) *Binder {
	return b.Func(key, func(v any) error {
		if s, ok := v.(string); ok {
			var out []string
			for part := range strings.SplitSeq(s, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			*dst = out
			return nil
		}
		ss, err := cast.ToStringSliceE(v)
		if err == nil {
			*dst = ss
		}
		return err
	})
}

// Bind 绑定参数并删除已消费的键.
func (b *Binder) Bind(params Parameters) error {
	var errs []error
	for _, key := range b.keys {
		v, ok := params[key]
		if !ok {
			continue
		}
		delete(params, key)
		if err := b.setters[key](v); err != nil {
			errs = append(errs, &InvalidParameterError{Key: key, Value: v, Err: err})
		}
	}
	return errors.Join(errs...)
}

func toDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case string:
		return converter.ParseTimePattern(x)
	default:
		ms, err := cast.ToInt64E(v)
		if err != nil {
			return 0, err
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
}
