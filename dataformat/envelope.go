package dataformat

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// TypedValue 带类型标签的头部值，值统一编码为字符串以保证精确还原.
type TypedValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type envelope struct {
	Headers     map[string]TypedValue `json:"headers,omitempty"`
	ContentType string                `json:"contentType,omitempty"`
	Body        []byte                `json:"body"`
}

// Envelope 将消息头与消息体一起编码的数据格式.
//
// 消息体由内层数据格式编码，头部带类型标签，反序列化时还原为原始 Go 类型.
type Envelope struct {
	inner DataFormat
}

// NewEnvelope 创建信封数据格式.
func NewEnvelope(inner DataFormat) *Envelope {
	return &Envelope{inner: inner}
}

// ContentType 实现 ContentTyper.
func (e *Envelope) ContentType() string {
	return "application/vnd.integration-kit.envelope+json"
}

// Marshal 实现 DataFormat.
func (e *Envelope) Marshal(ex *exchange.Exchange, body any) ([]byte, error) {
	data, err := e.inner.Marshal(ex, body)
	if err != nil {
		return nil, err
	}
	env := envelope{Body: data}
	if ct, ok := e.inner.(ContentTyper); ok {
		env.ContentType = ct.ContentType()
	}
	if ex != nil && ex.Message().HasHeaders() {
		env.Headers = make(map[string]TypedValue, len(ex.Message().Headers()))
		for k, v := range ex.Message().Headers() {
			tv, err := EncodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("头部 %s: %w", k, err)
			}
			env.Headers[k] = tv
		}
	}
	return jsonAPI.Marshal(env)
}

// Unmarshal 实现 DataFormat，头部写回当前消息.
func (e *Envelope) Unmarshal(ex *exchange.Exchange, data []byte) (any, error) {
	var env envelope
	if err := jsonAPI.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	headers := make(map[string]any, len(env.Headers))
	for k, tv := range env.Headers {
		v, err := DecodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("头部 %s: %w", k, err)
		}
		headers[k] = v
	}
	body, err := e.inner.Unmarshal(ex, env.Body)
	if err != nil {
		return nil, err
	}
	if ex != nil {
		ex.Message().SetHeaders(headers)
	}
	return body, nil
}

// EncodeValue 编码带类型标签的值.
func EncodeValue(v any) (TypedValue, error) {
	switch x := v.(type) {
	case nil:
		return TypedValue{Type: "null"}, nil
	case string:
		return TypedValue{Type: "string", Value: x}, nil
	case bool:
		return TypedValue{Type: "bool", Value: strconv.FormatBool(x)}, nil
	case int:
		return TypedValue{Type: "int", Value: strconv.Itoa(x)}, nil
	case int8:
		return TypedValue{Type: "int8", Value: strconv.FormatInt(int64(x), 10)}, nil
	case int16:
		return TypedValue{Type: "int16", Value: strconv.FormatInt(int64(x), 10)}, nil
	case int32:
		return TypedValue{Type: "int32", Value: strconv.FormatInt(int64(x), 10)}, nil
	case int64:
		return TypedValue{Type: "int64", Value: strconv.FormatInt(x, 10)}, nil
	case uint:
		return TypedValue{Type: "uint", Value: strconv.FormatUint(uint64(x), 10)}, nil
	case uint8:
		return TypedValue{Type: "uint8", Value: strconv.FormatUint(uint64(x), 10)}, nil
	case uint16:
		return TypedValue{Type: "uint16", Value: strconv.FormatUint(uint64(x), 10)}, nil
	case uint32:
		return TypedValue{Type: "uint32", Value: strconv.FormatUint(uint64(x), 10)}, nil
	case uint64:
		return TypedValue{Type: "uint64", Value: strconv.FormatUint(x, 10)}, nil
	case float32:
		return TypedValue{Type: "float32", Value: strconv.FormatFloat(float64(x), 'g', -1, 32)}, nil
	case float64:
		return TypedValue{Type: "float64", Value: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case []byte:
		return TypedValue{Type: "bytes", Value: base64.StdEncoding.EncodeToString(x)}, nil
	case time.Time:
		return TypedValue{Type: "time", Value: x.Format(time.RFC3339Nano)}, nil
	case time.Duration:
		return TypedValue{Type: "duration", Value: x.String()}, nil
	default:
		return TypedValue{}, fmt.Errorf("%w: %T", ErrUnsupportedHeaderType, v)
	}
}

// DecodeValue 还原带类型标签的值.
func DecodeValue(tv TypedValue) (any, error) {
	s := tv.Value
	switch tv.Type {
	case "null":
		return nil, nil
	case "string":
		return s, nil
	case "bool":
		return strconv.ParseBool(s)
	case "int":
		return strconv.Atoi(s)
	case "int8":
		n, err := strconv.ParseInt(s, 10, 8)
		return int8(n), err
	case "int16":
		n, err := strconv.ParseInt(s, 10, 16)
		return int16(n), err
	case "int32":
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case "int64":
		return strconv.ParseInt(s, 10, 64)
	case "uint":
		n, err := strconv.ParseUint(s, 10, 0)
		return uint(n), err
	case "uint8":
		n, err := strconv.ParseUint(s, 10, 8)
		return uint8(n), err
	case "uint16":
		n, err := strconv.ParseUint(s, 10, 16)
		return uint16(n), err
	case "uint32":
		n, err := strconv.ParseUint(s, 10, 32)
		return uint32(n), err
	case "uint64":
		return strconv.ParseUint(s, 10, 64)
	case "float32":
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case "float64":
		return strconv.ParseFloat(s, 64)
	case "bytes":
		return base64.StdEncoding.DecodeString(s)
	case "time":
		return time.Parse(time.RFC3339Nano, s)
	case "duration":
		return time.ParseDuration(s)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHeaderType, tv.Type)
	}
}
