// Package exchange 定义在路由中流转的消息模型.
//
// Exchange 包装 in/out 两条 Message、异常槽、故障标记和 exchange 级属性.
// 同一时刻只有一个持有者，处理器之间按引用传递，不做并发修改.
package exchange

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tsukikage7/integration-kit/converter"
)

// Pattern 消息交换模式.
type Pattern int

const (
	// InOnly 单向.
	InOnly Pattern = iota
	// InOut 请求-应答.
	InOut
)

func (p Pattern) String() string {
	switch p {
	case InOut:
		return "InOut"
	default:
		return "InOnly"
	}
}

// ParsePattern 解析交换模式，大小写不敏感.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(s) {
	case "inonly", "":
		return InOnly, nil
	case "inout":
		return InOut, nil
	default:
		return InOnly, fmt.Errorf("exchange: 未知的交换模式 %q", s)
	}
}

// Context 是 Exchange 可见的引擎视图.
type Context interface {
	Name() string
	TypeConverter() *converter.Registry
}

var defaultConverter = sync.OnceValue(converter.NewDefault)

// Exchange 路由中的工作单元.
type Exchange struct {
	id           string
	pattern      Pattern
	in           *Message
	out          *Message
	fault        bool
	err          error
	properties   map[string]any
	ctx          Context
	fromEndpoint string
	fromRouteID  string
	created      time.Time

	routeStop    bool
	errorHandled bool

	completions []Synchronization
	done        bool
}

// New 创建 InOnly Exchange.
func New(ctx Context) *Exchange {
	return NewWithPattern(ctx, InOnly)
}

// NewWithPattern 创建指定模式的 Exchange.
func NewWithPattern(ctx Context, pattern Pattern) *Exchange {
	ex := &Exchange{
		id:         uuid.NewString(),
		pattern:    pattern,
		properties: make(map[string]any),
		ctx:        ctx,
		created:    time.Now(),
	}
	ex.in = NewMessage()
	ex.in.exchange = ex
	return ex
}

// ID 返回 Exchange ID.
func (e *Exchange) ID() string {
	return e.id
}

// Pattern 返回交换模式.
func (e *Exchange) Pattern() Pattern {
	return e.pattern
}

// SetPattern 设置交换模式.
func (e *Exchange) SetPattern(p Pattern) {
	e.pattern = p
}

// Context 返回所属引擎，可能为 nil.
func (e *Exchange) Context() Context {
	return e.ctx
}

// TypeConverter 返回引擎的转换注册表，未绑定引擎时使用内置注册表.
func (e *Exchange) TypeConverter() *converter.Registry {
	if e.ctx != nil {
		if reg := e.ctx.TypeConverter(); reg != nil {
			return reg
		}
	}
	return defaultConverter()
}

// Created 返回创建时间.
func (e *Exchange) Created() time.Time {
	return e.created
}

// In 返回 in 消息.
func (e *Exchange) In() *Message {
	return e.in
}

// SetIn 替换 in 消息.
func (e *Exchange) SetIn(m *Message) {
	if m == nil {
		m = NewMessage()
	}
	m.exchange = e
	e.in = m
}

// Out 返回 out 消息，不存在时创建.
func (e *Exchange) Out() *Message {
	if e.out == nil {
		e.out = NewMessage()
		e.out.exchange = e
	}
	return e.out
}

// HasOut 是否存在 out 消息.
func (e *Exchange) HasOut() bool {
	return e.out != nil
}

// SetOut 设置 out 消息，nil 表示清除.
func (e *Exchange) SetOut(m *Message) {
	if m != nil {
		m.exchange = e
	}
	e.out = m
}

// Message 返回当前消息：存在 out 时为 out，否则为 in.
func (e *Exchange) Message() *Message {
	if e.out != nil {
		return e.out
	}
	return e.in
}

// PrepareNext 为流水线下一步做准备：out 成为新的 in.
func (e *Exchange) PrepareNext() {
	if e.out != nil {
		e.in = e.out
		e.out = nil
	}
}

// IsFault 是否为故障消息.
func (e *Exchange) IsFault() bool {
	return e.fault
}

// SetFault 设置故障标记.
func (e *Exchange) SetFault(fault bool) {
	e.fault = fault
}

// Err 返回异常.
func (e *Exchange) Err() error {
	return e.err
}

// SetErr 设置异常；已存在异常时保持原值并返回 false.
func (e *Exchange) SetErr(err error) bool {
	if err == nil || e.err != nil {
		return false
	}
	e.err = err
	return true
}

// ReplaceErr 覆盖异常，供错误处理器使用.
func (e *Exchange) ReplaceErr(err error) {
	e.err = err
}

// ClearErr 清除异常，供错误处理器使用.
func (e *Exchange) ClearErr() {
	e.err = nil
}

// Failed 是否失败（存在异常或故障）.
func (e *Exchange) Failed() bool {
	return e.err != nil || e.fault
}

// Property 返回属性.
func (e *Exchange) Property(key string) (any, bool) {
	v, ok := e.properties[key]
	return v, ok
}

// SetProperty 设置属性.
func (e *Exchange) SetProperty(key string, value any) {
	e.properties[key] = value
}

// RemoveProperty 删除属性.
func (e *Exchange) RemoveProperty(key string) {
	delete(e.properties, key)
}

// Properties 返回属性映射本身.
func (e *Exchange) Properties() map[string]any {
	return e.properties
}

// FromEndpoint 返回起始端点 URI.
func (e *Exchange) FromEndpoint() string {
	return e.fromEndpoint
}

// SetFromEndpoint 设置起始端点 URI.
func (e *Exchange) SetFromEndpoint(uri string) {
	e.fromEndpoint = uri
}

// FromRouteID 返回起始路由 ID.
func (e *Exchange) FromRouteID() string {
	return e.fromRouteID
}

// SetFromRouteID 设置起始路由 ID.
func (e *Exchange) SetFromRouteID(id string) {
	e.fromRouteID = id
}

// SetRouteStop 标记停止继续路由.
func (e *Exchange) SetRouteStop(stop bool) {
	e.routeStop = stop
}

// IsRouteStop 是否已标记停止路由.
func (e *Exchange) IsRouteStop() bool {
	return e.routeStop
}

// SetErrorHandled 标记异常已被错误处理器处理.
func (e *Exchange) SetErrorHandled(handled bool) {
	e.errorHandled = handled
}

// IsErrorHandled 异常是否已被处理.
func (e *Exchange) IsErrorHandled() bool {
	return e.errorHandled
}

// IsRedelivered 是否为重投递.
func (e *Exchange) IsRedelivered() bool {
	v, ok := e.in.Header(HeaderRedelivered)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ShouldContinue 流水线是否应继续向前处理.
func (e *Exchange) ShouldContinue() bool {
	return !e.Failed() && !e.routeStop && !e.errorHandled
}

// Copy 复制 Exchange：ID 不变，头部与属性浅拷贝，消息体共享.
//
// 完成回调不随复制转移.
func (e *Exchange) Copy() *Exchange {
	cp := &Exchange{
		id:           e.id,
		pattern:      e.pattern,
		fault:        e.fault,
		err:          e.err,
		properties:   maps.Clone(e.properties),
		ctx:          e.ctx,
		fromEndpoint: e.fromEndpoint,
		fromRouteID:  e.fromRouteID,
		created:      e.created,
		routeStop:    e.routeStop,
		errorHandled: e.errorHandled,
	}
	cp.in = e.in.Copy()
	cp.in.exchange = cp
	if e.out != nil {
		cp.out = e.out.Copy()
		cp.out.exchange = cp
	}
	return cp
}

// CorrelatedCopy 复制并分配新 ID，关联 ID 属性指向原 Exchange.
func (e *Exchange) CorrelatedCopy() *Exchange {
	cp := e.Copy()
	cp.id = uuid.NewString()
	cp.properties[PropertyCorrelationID] = e.id
	return cp
}

// CopyResultsFrom 将 source 的消息与状态复制到当前 Exchange，ID 不变.
func (e *Exchange) CopyResultsFrom(source *Exchange) {
	if source == e {
		return
	}
	e.SetIn(source.in.Copy())
	if source.out != nil {
		e.SetOut(source.out.Copy())
	} else {
		e.out = nil
	}
	e.fault = source.fault
	e.err = source.err
	maps.Copy(e.properties, source.properties)
	if id, _ := e.properties[PropertyCorrelationID].(string); id == e.id {
		delete(e.properties, PropertyCorrelationID)
	}
	e.routeStop = source.routeStop
	e.errorHandled = source.errorHandled
}

func (e *Exchange) String() string {
	return fmt.Sprintf("Exchange[%s]", e.id)
}
