// Package event 提供引擎、路由与 Exchange 的事件通知.
package event

import (
	"time"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// Type 事件类型.
type Type string

// 事件类型.
const (
	EngineStarted Type = "EngineStarted"
	EngineStopped Type = "EngineStopped"

	RouteAdded     Type = "RouteAdded"
	RouteRemoved   Type = "RouteRemoved"
	RouteStarted   Type = "RouteStarted"
	RouteStopped   Type = "RouteStopped"
	RouteSuspended Type = "RouteSuspended"
	RouteResumed   Type = "RouteResumed"
	RouteFailed    Type = "RouteFailed"

	ExchangeCreated    Type = "ExchangeCreated"
	ExchangeCompleted  Type = "ExchangeCompleted"
	ExchangeFailed     Type = "ExchangeFailed"
	ExchangeRedelivery Type = "ExchangeRedelivery"
)

// Event 事件.
type Event struct {
	Type     Type
	Time     time.Time
	Engine   string
	RouteID  string
	Exchange *exchange.Exchange
	// Attempt 重投递次数，仅 ExchangeRedelivery 有值.
	Attempt int
	Err     error
}

// New 创建事件.
func New(t Type) Event {
	return Event{Type: t, Time: time.Now()}
}

// EventName 事件名称.
func (e Event) EventName() string { return string(e.Type) }
