package dataformat

import (
	"github.com/bytedance/sonic"

	"github.com/Tsukikage7/integration-kit/exchange"
)

var jsonAPI = sonic.ConfigStd

// JSON 基于 sonic 的 JSON 数据格式.
type JSON struct {
	decode func(data []byte) (any, error)
	indent bool
}

// JSONOption JSON 选项.
type JSONOption func(*JSON)

// WithIndent 输出缩进格式.
func WithIndent() JSONOption {
	return func(j *JSON) {
		j.indent = true
	}
}

// NewJSON 创建 JSON 数据格式，默认反序列化为 any.
func NewJSON(opts ...JSONOption) *JSON {
	j := &JSON{decode: decodeAs[any]}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// JSONOf 创建反序列化为 T 的 JSON 数据格式.
func JSONOf[T any](opts ...JSONOption) *JSON {
	j := NewJSON(opts...)
	j.decode = decodeAs[T]
	return j
}

func decodeAs[T any](data []byte) (any, error) {
	var v T
	if err := jsonAPI.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ContentType 实现 ContentTyper.
func (j *JSON) ContentType() string {
	return "application/json"
}

// Marshal 实现 DataFormat.
func (j *JSON) Marshal(_ *exchange.Exchange, body any) ([]byte, error) {
	if j.indent {
		return jsonAPI.MarshalIndent(body, "", "  ")
	}
	return jsonAPI.Marshal(body)
}

// Unmarshal 实现 DataFormat.
func (j *JSON) Unmarshal(_ *exchange.Exchange, data []byte) (any, error) {
	return j.decode(data)
}
