// Package management 提供路由管理 HTTP 接口与 Prometheus 抓取端点.
//
//	GET  /routes                 所有路由的状态与统计
//	GET  /routes/{id}            单个路由
//	POST /routes/{id}/{action}   start、stop、suspend、resume、restart（?delay=5s）
//	GET  /metrics                Prometheus 指标
package management

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Tsukikage7/integration-kit/component/controlbus"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/metrics"
	"github.com/Tsukikage7/integration-kit/route"
)

// 支持的路由操作.
var actions = []string{"start", "stop", "suspend", "resume", "restart"}

// Option Handler 选项.
type Option func(*Handler)

// WithMetrics 暴露指标并统计管理接口请求.
func WithMetrics(c *metrics.Collector) Option {
	return func(h *Handler) { h.collector = c }
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// Handler 管理接口.
type Handler struct {
	ctrl      controlbus.RouteController
	collector *metrics.Collector
	log       logger.Logger
	mux       *http.ServeMux
}

// NewHandler 创建管理接口.
func NewHandler(ctrl controlbus.RouteController, opts ...Option) (*Handler, error) {
	if ctrl == nil {
		return nil, ErrNilController
	}
	h := &Handler{ctrl: ctrl, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logger.OrNop(h.log)

	h.handle("GET /routes", "/routes", h.listRoutes)
	h.handle("GET /routes/{id}", "/routes/{id}", h.getRoute)
	h.handle("POST /routes/{id}/{action}", "/routes/{id}/{action}", h.controlRoute)
	if h.collector != nil {
		h.mux.Handle("GET "+h.collector.Path(), h.collector.Handler())
	}
	return h, nil
}

func (h *Handler) handle(pattern, label string, fn http.HandlerFunc) {
	var handler http.Handler = fn
	if h.collector != nil {
		handler = metrics.HTTPMiddleware(h.collector, label)(handler)
	}
	h.mux.Handle(pattern, handler)
}

// ServeHTTP 实现 http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) listRoutes(w http.ResponseWriter, _ *http.Request) {
	ids := h.ctrl.RouteIDs()
	out := make([]route.Stats, 0, len(ids))
	for _, id := range ids {
		// 列表与统计之间路由可能已被删除
		if stats, err := h.ctrl.RouteStats(id); err == nil {
			out = append(out, stats)
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getRoute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.exists(id) {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("路由不存在: %s", id))
		return
	}
	stats, err := h.ctrl.RouteStats(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) controlRoute(w http.ResponseWriter, r *http.Request) {
	id, action := r.PathValue("id"), r.PathValue("action")
	if !slices.Contains(actions, action) {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", ErrUnknownAction, action))
		return
	}
	if !h.exists(id) {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("路由不存在: %s", id))
		return
	}

	ctx := r.Context()
	var err error
	switch action {
	case "start":
		err = h.ctrl.StartRoute(ctx, id)
	case "stop":
		err = h.ctrl.StopRoute(ctx, id)
	case "suspend":
		err = h.ctrl.SuspendRoute(ctx, id)
	case "resume":
		err = h.ctrl.ResumeRoute(ctx, id)
	case "restart":
		var delay time.Duration
		if v := r.URL.Query().Get("delay"); v != "" {
			if delay, err = time.ParseDuration(v); err != nil {
				h.writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		err = h.ctrl.RestartRoute(ctx, id, delay)
	}

	log := h.log.With(logger.RouteID(id), logger.String("action", action))
	if err != nil {
		log.With(logger.Err(err)).Warn("[Management] 路由操作失败")
	} else {
		log.Info("[Management] 路由操作")
	}
	switch {
	case errors.Is(err, route.ErrIllegalTransition):
		h.writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	stats, err := h.ctrl.RouteStats(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) exists(id string) bool {
	return slices.Contains(h.ctrl.RouteIDs(), id)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		h.log.With(logger.Err(err)).Error("[Management] 响应编码失败")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
