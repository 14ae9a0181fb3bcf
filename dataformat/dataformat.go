// Package dataformat 提供消息体的序列化与反序列化.
//
// DataFormat 在消息体与字节之间转换；Marshal / Unmarshal 把数据格式包装为处理器：
//
//	route.Process(dataformat.Marshal(dataformat.NewJSON()))
//	route.Process(dataformat.Unmarshal(dataformat.JSONOf[Order]()))
package dataformat

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// 预定义错误.
var (
	// ErrMarshal 序列化失败.
	ErrMarshal = errors.New("dataformat: 序列化失败")

	// ErrUnmarshal 反序列化失败.
	ErrUnmarshal = errors.New("dataformat: 反序列化失败")

	// ErrNotProtoMessage 消息体不是 proto.Message.
	ErrNotProtoMessage = errors.New("dataformat: 不是 proto.Message 类型")

	// ErrUnsupportedHeaderType 头部类型不支持.
	ErrUnsupportedHeaderType = errors.New("dataformat: 头部类型不支持")
)

// DataFormat 数据格式.
type DataFormat interface {
	// Marshal 将 body 序列化为字节.
	Marshal(ex *exchange.Exchange, body any) ([]byte, error)
	// Unmarshal 将字节反序列化为新的消息体.
	Unmarshal(ex *exchange.Exchange, data []byte) (any, error)
}

// ContentTyper 声明内容类型的数据格式.
type ContentTyper interface {
	ContentType() string
}

// Marshal 返回序列化消息体的处理器.
func Marshal(df DataFormat) processor.Processor {
	return processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		msg := ex.Message()
		data, err := df.Marshal(ex, msg.Body())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMarshal, err)
		}
		msg.SetBody(data)
		if ct, ok := df.(ContentTyper); ok {
			msg.SetHeader(exchange.HeaderContentType, ct.ContentType())
		}
		return nil
	})
}

// Unmarshal 返回反序列化消息体的处理器.
func Unmarshal(df DataFormat) processor.Processor {
	return processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		msg := ex.Message()
		data, err := converter.To[[]byte](ex.TypeConverter(), msg.Body())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnmarshal, err)
		}
		body, err := df.Unmarshal(ex, data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnmarshal, err)
		}
		msg.SetBody(body)
		return nil
	})
}
