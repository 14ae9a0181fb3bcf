package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnlabeledPath 未指定 pattern 时使用的 path 标签.
const UnlabeledPath = "other"

// HTTPMiddleware 返回管理接口的指标中间件，记录请求数与耗时.
//
// path 标签固定为注册时的 pattern，请求中的路由 ID 不进入标签.
//
//	handler := metrics.HTTPMiddleware(collector, "/routes/{id}")(mux)
func HTTPMiddleware(collector *Collector, pattern string) func(http.Handler) http.Handler {
	if pattern == "" {
		pattern = UnlabeledPath
	}
	labels := prometheus.Labels{"path": pattern}
	requests := collector.httpRequestsTotal.MustCurryWith(labels)
	duration := collector.httpRequestDuration.MustCurryWith(labels)

	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerCounter(requests,
			promhttp.InstrumentHandlerDuration(duration, next))
	}
}
