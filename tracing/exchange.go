package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/route"
)

// InstrumentationName tracer 名称.
const InstrumentationName = "github.com/Tsukikage7/integration-kit"

// 属性键.
const (
	AttrRouteID      = attribute.Key("integration.route_id")
	AttrExchangeID   = attribute.Key("integration.exchange_id")
	AttrPattern      = attribute.Key("integration.pattern")
	AttrFromEndpoint = attribute.Key("integration.from_endpoint")
	AttrRedelivered  = attribute.Key("integration.redelivered")
)

// StartExchange 为路由中的 Exchange 开始 span，并把 trace/span ID 写入日志上下文.
//
// 返回的 end 根据 Exchange 的结果设置状态并结束 span.
func StartExchange(ctx context.Context, tracer trace.Tracer, routeID string, ex *exchange.Exchange) (context.Context, func()) {
	if tracer == nil {
		tracer = otel.Tracer(InstrumentationName)
	}
	ctx, span := tracer.Start(ctx, "route "+routeID,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			AttrRouteID.String(routeID),
			AttrExchangeID.String(ex.ID()),
			AttrPattern.String(ex.Pattern().String()),
			AttrFromEndpoint.String(ex.FromEndpoint()),
		),
	)
	if sc := span.SpanContext(); sc.IsValid() {
		ctx = logger.ContextWithTraceID(ctx, sc.TraceID().String())
		ctx = logger.ContextWithSpanID(ctx, sc.SpanID().String())
	}

	return ctx, func() {
		if ex.IsRedelivered() {
			span.SetAttributes(AttrRedelivered.Bool(true))
		}
		if err := ex.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if ex.IsFault() {
			span.SetStatus(codes.Error, "fault")
		}
		span.End()
	}
}

// Policy 路由策略，为每个 Exchange 创建 span.
type Policy struct {
	route.PolicySupport
	tracer trace.Tracer
}

// NewPolicy 创建追踪策略，tp 为 nil 时使用全局 TracerProvider.
func NewPolicy(tp trace.TracerProvider) *Policy {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Policy{tracer: tp.Tracer(InstrumentationName)}
}

// ScopeExchange 实现 route.ExchangeScope.
func (p *Policy) ScopeExchange(ctx context.Context, r *route.Route, ex *exchange.Exchange) (context.Context, func()) {
	return StartExchange(ctx, p.tracer, r.ID(), ex)
}
