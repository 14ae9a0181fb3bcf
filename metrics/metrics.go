// Package metrics 提供路由与 Exchange 的 Prometheus 指标.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/route"
)

// Exchange 结果标签.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeHandled   = "handled"
)

// Collector 路由指标收集器，使用独立的注册表.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	exchangesTotal   *prometheus.CounterVec
	redeliveries     *prometheus.CounterVec
	duplicates       *prometheus.CounterVec
	throttled        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	inflight         *prometheus.GaugeVec
	routeStatus      *prometheus.GaugeVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector 创建指标收集器.
func NewCollector(cfg *Config) (*Collector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg.ApplyDefaults()
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	c := &Collector{
		config:   cfg,
		registry: prometheus.NewRegistry(),
		exchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "exchanges_total",
			Help:      "Total number of exchanges processed by route and outcome",
		}, []string{"route", "outcome"}),
		redeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "redeliveries_total",
			Help:      "Total number of exchanges that were redelivered",
		}, []string{"route"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "idempotent_duplicates_total",
			Help:      "Total number of duplicate messages detected by idempotent consumers",
		}, []string{"route"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "throttled_total",
			Help:      "Total number of exchanges delayed or rejected by throttlers",
		}, []string{"route"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "exchange_duration_seconds",
			Help:      "Exchange processing duration in seconds",
			Buckets:   buckets,
		}, []string{"route"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "exchanges_inflight",
			Help:      "Number of exchanges currently being processed",
		}, []string{"route"}),
		routeStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "route_status",
			Help:      "Route status: 1 started, 2 suspended, -1 failed, 0 otherwise",
		}, []string{"route"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of management HTTP requests",
		}, []string{"path", "method", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Management HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}

	for _, col := range []prometheus.Collector{
		c.exchangesTotal, c.redeliveries, c.duplicates, c.throttled,
		c.exchangeDuration, c.inflight, c.routeStatus,
		c.httpRequestsTotal, c.httpRequestDuration,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRegisterMetric, err)
		}
	}
	return c, nil
}

// MustNewCollector 创建指标收集器，失败时 panic.
func MustNewCollector(cfg *Config) *Collector {
	c, err := NewCollector(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Registry 返回注册表.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 Prometheus 抓取端点.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Path 返回指标暴露路径.
func (c *Collector) Path() string {
	return c.config.Path
}

// RecordExchange 记录一次 Exchange 处理结果.
func (c *Collector) RecordExchange(routeID string, ex *exchange.Exchange, elapsed time.Duration) {
	outcome := OutcomeCompleted
	switch {
	case ex.Failed():
		outcome = OutcomeFailed
	case ex.IsErrorHandled():
		outcome = OutcomeHandled
	}
	c.exchangesTotal.WithLabelValues(routeID, outcome).Inc()
	c.exchangeDuration.WithLabelValues(routeID).Observe(elapsed.Seconds())
	if ex.IsRedelivered() {
		c.redeliveries.WithLabelValues(routeID).Inc()
	}
}

// RecordDuplicate 记录幂等消费者发现的重复消息.
func (c *Collector) RecordDuplicate(routeID string) {
	c.duplicates.WithLabelValues(routeID).Inc()
}

// RecordThrottled 记录被限流的 Exchange.
func (c *Collector) RecordThrottled(routeID string) {
	c.throttled.WithLabelValues(routeID).Inc()
}

// DuplicateListener 返回用于 idempotent.WithDuplicateListener 的回调.
func (c *Collector) DuplicateListener() func(ex *exchange.Exchange, key string) {
	return func(ex *exchange.Exchange, _ string) {
		c.RecordDuplicate(ex.FromRouteID())
	}
}

// ThrottledListener 返回用于 throttle.OnThrottled 的回调.
func (c *Collector) ThrottledListener() func(ex *exchange.Exchange, rejected bool) {
	return func(ex *exchange.Exchange, _ bool) {
		c.RecordThrottled(ex.FromRouteID())
	}
}

// WatchRoute 跟踪路由状态.
func (c *Collector) WatchRoute(r *route.Route) {
	c.routeStatus.WithLabelValues(r.ID()).Set(r.Status().Gauge())
	r.OnStatusChange(func(r *route.Route, _, to route.Status) {
		c.routeStatus.WithLabelValues(r.ID()).Set(to.Gauge())
	})
}

// ForgetRoute 删除路由的所有序列.
func (c *Collector) ForgetRoute(routeID string) {
	for _, outcome := range []string{OutcomeCompleted, OutcomeFailed, OutcomeHandled} {
		c.exchangesTotal.DeleteLabelValues(routeID, outcome)
	}
	c.redeliveries.DeleteLabelValues(routeID)
	c.duplicates.DeleteLabelValues(routeID)
	c.throttled.DeleteLabelValues(routeID)
	c.exchangeDuration.DeleteLabelValues(routeID)
	c.inflight.DeleteLabelValues(routeID)
	c.routeStatus.DeleteLabelValues(routeID)
}

// Policy 返回记录 Exchange 指标的路由策略.
func (c *Collector) Policy() route.Policy {
	return &policy{c: c}
}

type policy struct {
	route.PolicySupport
	c *Collector
}

// ScopeExchange 实现 route.ExchangeScope.
func (p *policy) ScopeExchange(ctx context.Context, r *route.Route, ex *exchange.Exchange) (context.Context, func()) {
	start := time.Now()
	gauge := p.c.inflight.WithLabelValues(r.ID())
	gauge.Inc()
	return ctx, func() {
		gauge.Dec()
		p.c.RecordExchange(r.ID(), ex, time.Since(start))
	}
}
