// Package dataformat 把数据格式暴露为端点.
//
//	dataformat:json:marshal
//	dataformat:envelope:unmarshal
//	dataformat:orderProto:unmarshal   // 引擎中以 orderProto 注册的 DataFormat
package dataformat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Tsukikage7/integration-kit/component"
	df "github.com/Tsukikage7/integration-kit/dataformat"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Scheme 组件 scheme.
const Scheme = "dataformat"

// ErrUnknownDataFormat 数据格式不存在.
var ErrUnknownDataFormat = errors.New("dataformat: 数据格式不存在")

// Component dataformat 组件.
type Component struct {
	formats map[string]df.DataFormat
}

// New 创建 dataformat 组件，内置 json 与 envelope.
func New() *Component {
	return &Component{formats: map[string]df.DataFormat{
		"json":     df.NewJSON(),
		"envelope": df.NewEnvelope(df.NewJSON()),
	}}
}

// Register 注册命名数据格式.
func (c *Component) Register(name string, format df.DataFormat) {
	c.formats[name] = format
}

// CreateEndpoint 实现 component.Component.
func (c *Component) CreateEndpoint(uri, remaining string, _ component.Parameters) (component.Endpoint, error) {
	name, op, ok := strings.Cut(remaining, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: 格式应为 dataformat:name:marshal|unmarshal", component.ErrInvalidURI)
	}
	switch op {
	case "marshal", "unmarshal":
	default:
		return nil, fmt.Errorf("%w: 未知操作 %q", component.ErrInvalidURI, op)
	}
	return &Endpoint{
		EndpointBase: component.NewEndpointBase(uri),
		comp:         c,
		name:         name,
		op:           op,
	}, nil
}

// Endpoint dataformat 端点.
type Endpoint struct {
	component.EndpointBase
	comp *Component
	name string
	op   string
}

func (e *Endpoint) resolve() (df.DataFormat, error) {
	if f, ok := e.comp.formats[e.name]; ok {
		return f, nil
	}
	if ctx := e.Context(); ctx != nil {
		if bean, ok := ctx.Lookup(e.name); ok {
			if f, ok := bean.(df.DataFormat); ok {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDataFormat, e.name)
}

// CreateProducer 实现 component.ProducerCapable.
func (e *Endpoint) CreateProducer() (component.Producer, error) {
	f, err := e.resolve()
	if err != nil {
		return nil, err
	}
	p := df.Marshal(f)
	if e.op == "unmarshal" {
		p = df.Unmarshal(f)
	}
	return &Producer{endpoint: e, delegate: p}, nil
}

// Producer dataformat 生产者.
type Producer struct {
	endpoint *Endpoint
	delegate processor.Processor
}

// Endpoint 实现 component.Producer.
func (p *Producer) Endpoint() component.Endpoint {
	return p.endpoint
}

// Process 实现 processor.Processor.
func (p *Producer) Process(ctx context.Context, ex *exchange.Exchange) error {
	return p.delegate.Process(ctx, ex)
}
