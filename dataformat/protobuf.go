package dataformat

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// 默认 protobuf JSON 选项.
var (
	// ProtoJSONMarshalOptions 序列化选项，输出零值字段.
	ProtoJSONMarshalOptions = protojson.MarshalOptions{
		EmitUnpopulated: true,
	}

	// ProtoJSONUnmarshalOptions 反序列化选项，忽略未知字段.
	ProtoJSONUnmarshalOptions = protojson.UnmarshalOptions{
		DiscardUnknown: true,
	}
)

// ProtoEncoding protobuf 编码方式.
type ProtoEncoding string

// ProtoEncoding 取值.
const (
	ProtoBinary ProtoEncoding = "binary"
	ProtoJSON   ProtoEncoding = "json"
)

// Protobuf protobuf 数据格式.
type Protobuf struct {
	prototype proto.Message
	encoding  ProtoEncoding
}

// NewProtobuf 创建 protobuf 数据格式，prototype 决定反序列化的消息类型.
func NewProtobuf(prototype proto.Message, encoding ProtoEncoding) *Protobuf {
	if encoding == "" {
		encoding = ProtoBinary
	}
	return &Protobuf{prototype: prototype, encoding: encoding}
}

// ContentType 实现 ContentTyper.
func (p *Protobuf) ContentType() string {
	if p.encoding == ProtoJSON {
		return "application/json"
	}
	return "application/x-protobuf"
}

// Marshal 实现 DataFormat.
func (p *Protobuf) Marshal(_ *exchange.Exchange, body any) ([]byte, error) {
	m, ok := body.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, body)
	}
	if p.encoding == ProtoJSON {
		return ProtoJSONMarshalOptions.Marshal(m)
	}
	return proto.Marshal(m)
}

// Unmarshal 实现 DataFormat.
func (p *Protobuf) Unmarshal(_ *exchange.Exchange, data []byte) (any, error) {
	if p.prototype == nil {
		return nil, ErrNotProtoMessage
	}
	m := p.prototype.ProtoReflect().New().Interface()
	var err error
	if p.encoding == ProtoJSON {
		err = ProtoJSONUnmarshalOptions.Unmarshal(data, m)
	} else {
		err = proto.Unmarshal(data, m)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
