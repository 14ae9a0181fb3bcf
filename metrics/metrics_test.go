package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/component/direct"
	"github.com/Tsukikage7/integration-kit/errorhandler"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
	"github.com/Tsukikage7/integration-kit/route"
)

func TestNewCollector(t *testing.T) {
	_, err := NewCollector(nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	c, err := NewCollector(&Config{})
	require.NoError(t, err)
	assert.Equal(t, "/metrics", c.Path())
	assert.NotNil(t, c.Registry())

	assert.Panics(t, func() { MustNewCollector(nil) })
}

func TestCollectorsAreIsolated(t *testing.T) {
	// 每个收集器使用独立注册表，同名指标不冲突
	a := MustNewCollector(DefaultConfig())
	b := MustNewCollector(DefaultConfig())
	a.RecordThrottled("r")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.throttled.WithLabelValues("r")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.throttled.WithLabelValues("r")))
}

func TestRouteStatusGauge(t *testing.T) {
	c := MustNewCollector(DefaultConfig())
	ep, err := direct.New().CreateEndpoint("direct:a", "a", component.Parameters{})
	require.NoError(t, err)
	r, err := route.New("a", []component.Endpoint{ep}, nil)
	require.NoError(t, err)
	c.WatchRoute(r)

	ctx := context.Background()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.routeStatus.WithLabelValues("a")))
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.routeStatus.WithLabelValues("a")))
	require.NoError(t, r.Suspend(ctx))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.routeStatus.WithLabelValues("a")))
	require.NoError(t, r.Fail(ctx, errors.New("lost")))
	assert.Equal(t, -1.0, testutil.ToFloat64(c.routeStatus.WithLabelValues("a")))

	c.ForgetRoute("a")
	assert.Equal(t, 0, testutil.CollectAndCount(c.routeStatus))
}

func TestExchangeOutcomes(t *testing.T) {
	c := MustNewCollector(DefaultConfig())

	policy := errorhandler.DefaultRedeliveryPolicy()
	policy.MaximumRedeliveries = 1
	policy.RedeliveryDelay = 0
	h, err := errorhandler.NewDefault(errorhandler.WithRedeliveryPolicy(policy))
	require.NoError(t, err)

	ep, err := direct.New().CreateEndpoint("direct:in", "in", component.Parameters{})
	require.NoError(t, err)
	proc := h.Wrap(processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		if ex.In().Body() == "bad" {
			return errors.New("always")
		}
		return nil
	}))
	r, err := route.New("in", []component.Endpoint{ep}, proc, route.WithPolicies(c.Policy()))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer r.Stop(ctx)

	producer, err := ep.(component.ProducerCapable).CreateProducer()
	require.NoError(t, err)
	for _, body := range []string{"ok", "ok", "bad"} {
		ex := exchange.New(nil)
		ex.In().SetBody(body)
		_ = producer.Process(ctx, ex)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.exchangesTotal.WithLabelValues("in", OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.exchangesTotal.WithLabelValues("in", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.redeliveries.WithLabelValues("in")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inflight.WithLabelValues("in")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.exchangeDuration))
}

func TestListeners(t *testing.T) {
	c := MustNewCollector(DefaultConfig())
	ex := exchange.New(nil)
	ex.SetFromRouteID("orders")

	c.DuplicateListener()(ex, "k1")
	c.ThrottledListener()(ex, true)
	c.ThrottledListener()(ex, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicates.WithLabelValues("orders")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.throttled.WithLabelValues("orders")))
}

func TestHandlerExposesSeries(t *testing.T) {
	c := MustNewCollector(&Config{Namespace: "kit"})
	c.RecordDuplicate("r1")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `kit_idempotent_duplicates_total{route="r1"} 1`))
}

func TestHTTPMiddleware(t *testing.T) {
	c := MustNewCollector(DefaultConfig())
	handler := HTTPMiddleware(c, "/routes/{id}")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/routes/missing", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/routes/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("/routes/{id}", "get", "404")))

	plain := HTTPMiddleware(c, "")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	plain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues(UnlabeledPath, "post", "200")))
}
