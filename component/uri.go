package component

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/spf13/cast"
)

// Parameters 端点参数，组件按键消费.
type Parameters map[string]any

// Keys 返回排序后的参数名.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// URI 端点 URI：scheme:remaining?k=v&....
type URI struct {
	Raw       string
	Scheme    string
	Remaining string
	Params    Parameters
}

// ParseURI 解析端点 URI，兼容 scheme://remaining 写法，参数值做百分号解码.
func ParseURI(raw string) (*URI, error) {
	raw = strings.TrimSpace(raw)
	idx := strings.Index(raw, ":")
	if idx <= 0 {
		return nil, fmt.Errorf("%w: %q 缺少 scheme", ErrInvalidURI, raw)
	}
	scheme := raw[:idx]
	if !validScheme(scheme) {
		return nil, fmt.Errorf("%w: %q scheme 非法", ErrInvalidURI, raw)
	}

	rest := strings.TrimPrefix(raw[idx+1:], "//")
	remaining, query, _ := strings.Cut(rest, "?")

	params := make(Parameters)
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, fmt.Errorf("%w: %q 参数解析失败: %v", ErrInvalidURI, raw, err)
		}
		for k, v := range values {
			if len(v) > 0 {
				params[k] = v[len(v)-1]
			}
		}
	}

	return &URI{Raw: raw, Scheme: scheme, Remaining: remaining, Params: params}, nil
}

// String 返回规范化形式.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteByte(':')
	b.WriteString(u.Remaining)
	for i, k := range u.Params.Keys() {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(cast.ToString(u.Params[k])))
	}
	return b.String()
}

// NormalizeURI 规范化 URI，参数按名称排序，使等价 URI 得到相同的键.
func NormalizeURI(raw string) (string, error) {
	u, err := ParseURI(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func validScheme(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '+' || r == '.'):
		default:
			return false
		}
	}
	return true
}
