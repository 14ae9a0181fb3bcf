package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Tsukikage7/integration-kit/cluster"
	"github.com/Tsukikage7/integration-kit/config"
	"github.com/Tsukikage7/integration-kit/event"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/metrics"
	"github.com/Tsukikage7/integration-kit/route"
)

const relayYAML = `
name: relay-engine
shutdown:
  timeout: 5s
routes:
  - id: relay
    from: ["direct:relay"]
    to: ["direct:sink"]
`

// ConfigTestSuite 配置驱动的引擎测试套件.
type ConfigTestSuite struct {
	suite.Suite
	ctx     context.Context
	engines []*Engine

	mu   sync.Mutex
	sink []any
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.engines = nil
	s.sink = nil
}

func (s *ConfigTestSuite) TearDownTest() {
	for _, e := range s.engines {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		s.NoError(e.Stop(ctx))
		cancel()
	}
}

func (s *ConfigTestSuite) load(data string) *Config {
	cfg, err := config.LoadFromBytes[Config]([]byte(data), "yaml", config.WithoutAutomaticEnv())
	s.Require().NoError(err)
	return cfg
}

// start 从配置创建引擎，添加 direct:sink 收集路由并启动.
func (s *ConfigTestSuite) start(cfg *Config, opts ...Option) *Engine {
	e, err := NewFromConfig(s.ctx, cfg, append([]Option{WithLogger(logger.NewNop())}, opts...)...)
	s.Require().NoError(err)
	s.engines = append(s.engines, e)
	s.Require().NoError(e.AddRoutes(s.ctx, route.From("direct:sink").RouteID("sink").
		ProcessFunc(func(_ context.Context, ex *exchange.Exchange) error {
			s.mu.Lock()
			s.sink = append(s.sink, ex.In().Body())
			s.mu.Unlock()
			return nil
		})))
	s.Require().NoError(e.Start(s.ctx))
	return e
}

func (s *ConfigTestSuite) received() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sink)
}

func (s *ConfigTestSuite) TestDefaults() {
	cfg := DefaultConfig()
	s.Equal("integration", cfg.Name)
	s.True(cfg.strict())
	s.Equal(route.ShutdownGraceful, cfg.Shutdown.Mode)
	s.Equal(45*time.Second, cfg.Shutdown.Timeout)
	s.Equal(10, cfg.Executor.Workers)
	s.Equal(1000, cfg.ProducerCacheSize)
	s.Equal(90*time.Second, cfg.shutdownTimeout(2))
}

func (s *ConfigTestSuite) TestValidate() {
	badPattern := &ErrorHandlerConfig{}
	badPattern.Redelivery.DelayPattern = "x:y"

	cases := map[string]*Config{
		"empty id":      {Routes: []RouteConfig{{From: []string{"direct:a"}}}},
		"no inputs":     {Routes: []RouteConfig{{ID: "a"}}},
		"duplicate id":  {Routes: []RouteConfig{{ID: "a", From: []string{"direct:a"}}, {ID: "a", From: []string{"direct:b"}}}},
		"clustered":     {Routes: []RouteConfig{{ID: "a", From: []string{"direct:a"}, Clustered: true}}},
		"shutdown mode": {Shutdown: route.ShutdownStrategy{Mode: "later"}},
		"delay pattern": {Routes: []RouteConfig{{ID: "a", From: []string{"direct:a"}, ErrorHandler: badPattern}}},
	}
	for name, cfg := range cases {
		cfg.ApplyDefaults()
		s.ErrorIs(cfg.Validate(), ErrInvalidConfig, name)
		_, err := New(cfg, WithLogger(logger.NewNop()))
		s.ErrorIs(err, ErrInvalidConfig, name)
	}
}

func (s *ConfigTestSuite) TestLoadFromYAML() {
	cfg := s.load(relayYAML)
	s.Equal("relay-engine", cfg.Name)
	s.Equal(5*time.Second, cfg.Shutdown.Timeout)
	s.Equal(route.ShutdownGraceful, cfg.Shutdown.Mode)
	s.Require().Len(cfg.Routes, 1)
	s.Equal([]string{"direct:relay"}, cfg.Routes[0].From)

	e := s.start(cfg)
	s.Equal("relay-engine", e.Name())
	s.Require().NoError(e.ProducerTemplate().SendBody(s.ctx, "direct:relay", "hello"))
	s.Equal([]any{"hello"}, s.received())
}

func (s *ConfigTestSuite) TestReloadRoutes() {
	e := s.start(s.load(relayYAML))
	relay, err := e.Route("relay")
	s.Require().NoError(err)

	// 相同配置不重建路由
	s.Require().NoError(e.ReloadRoutes(s.ctx, s.load(relayYAML)))
	same, err := e.Route("relay")
	s.Require().NoError(err)
	s.Same(relay, same)

	s.Require().NoError(e.ReloadRoutes(s.ctx, s.load(`
routes:
  - id: relay
    description: updated
    from: ["direct:relay"]
    to: ["direct:sink"]
  - id: extra
    from: ["direct:extra"]
    to: ["direct:sink"]
`)))
	updated, err := e.Route("relay")
	s.Require().NoError(err)
	s.NotSame(relay, updated)
	s.Equal("updated", updated.Description())
	s.Equal(route.Started, updated.Status())
	s.ElementsMatch([]string{"relay", "extra", "sink"}, e.RouteIDs())

	s.Require().NoError(e.ProducerTemplate().SendBody(s.ctx, "direct:extra", "x"))
	s.Equal([]any{"x"}, s.received())

	s.Require().NoError(e.ReloadRoutes(s.ctx, s.load(`
routes:
  - id: extra
    from: ["direct:extra"]
    to: ["direct:sink"]
`)))
	_, err = e.Route("relay")
	s.ErrorIs(err, ErrNoSuchRoute)
	// 代码添加的路由不受重新加载影响
	s.ElementsMatch([]string{"extra", "sink"}, e.RouteIDs())

	s.ErrorIs(e.ReloadRoutes(s.ctx, nil), ErrNilConfig)
}

func (s *ConfigTestSuite) TestWatchConfig() {
	path := filepath.Join(s.T().TempDir(), "engine.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(relayYAML), 0o600))

	e, err := New(nil, WithLogger(logger.NewNop()))
	s.Require().NoError(err)
	s.engines = append(s.engines, e)
	s.Require().NoError(e.Start(s.ctx))
	s.Require().NoError(e.WatchConfig(s.ctx, path, config.WithoutAutomaticEnv()))
	s.Equal([]string{"relay"}, e.RouteIDs())

	s.Require().NoError(os.WriteFile(path, []byte(strings.ReplaceAll(relayYAML, "id: relay", "id: renamed")), 0o600))
	s.Eventually(func() bool {
		ids := e.RouteIDs()
		return slices.Equal(ids, []string{"renamed"})
	}, 5*time.Second, 50*time.Millisecond)
}

func (s *ConfigTestSuite) TestDeadLetterChannelFromConfig() {
	cfg := s.load(`
routes:
  - id: guarded
    from: ["direct:guarded"]
    to: ["direct:explode"]
    error_handler:
      dead_letter_uri: direct:sink
      redelivery:
        maximum_redeliveries: 2
        redelivery_delay: 1ms
`)
	var redeliveries sync.Map
	e := s.start(cfg)
	e.Notifier().Subscribe(event.ExchangeRedelivery, func(_ context.Context, ev event.Event) error {
		redeliveries.Store(ev.Attempt, ev.RouteID)
		return nil
	})
	s.Require().NoError(e.AddRoutes(s.ctx, route.From("direct:explode").RouteID("explode").ProcessFunc(fail)))

	s.Require().NoError(e.ProducerTemplate().SendBody(s.ctx, "direct:guarded", "payload"))
	s.Equal([]any{"payload"}, s.received())

	for _, attempt := range []int{1, 2} {
		id, ok := redeliveries.Load(attempt)
		s.True(ok, attempt)
		s.Equal("guarded", id)
	}

	stats, err := e.RouteStats("guarded")
	s.Require().NoError(err)
	s.EqualValues(1, stats.FailuresHandled)
	s.EqualValues(1, stats.Redeliveries)
}

func (s *ConfigTestSuite) TestMetricsThroughEngine() {
	cfg := s.load(relayYAML)
	cfg.Metrics = &metrics.Config{Enabled: true, Namespace: "it"}
	e := s.start(cfg)
	s.Require().NotNil(e.Metrics())

	s.Require().NoError(e.ProducerTemplate().SendBody(s.ctx, "direct:relay", "x"))

	rec := scrape(e.Metrics())
	s.Contains(rec, `it_exchanges_total{outcome="completed",route="relay"} 1`)
	s.Contains(rec, `it_route_status{route="relay"} 1`)
	s.Contains(rec, `it_exchanges_inflight{route="relay"} 0`)

	s.Require().NoError(e.RemoveRoute(s.ctx, "relay"))
	s.NotContains(scrape(e.Metrics()), `route="relay"`)
}

func (s *ConfigTestSuite) TestTracingThroughEngine() {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(s.ctx)

	e := s.start(s.load(relayYAML), WithTracerProvider(tp))
	s.Require().NoError(e.ProducerTemplate().SendBody(s.ctx, "direct:relay", "x"))

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	s.Contains(names, "route relay")
	s.Contains(names, "route sink")
}

func (s *ConfigTestSuite) TestClusteredRoute() {
	cfg := s.load(relayYAML)
	cfg.Routes[0].Clustered = true
	cfg.Cluster = &ClusterConfig{Config: cluster.Config{
		LeaseTTL:      time.Second,
		RenewInterval: 100 * time.Millisecond,
	}}

	e := s.start(cfg)
	s.Require().NotNil(e.ClusterView())
	s.Require().NotNil(e.ClusterPolicy())
	s.Eventually(e.ClusterView().IsLeader, 5*time.Second, 20*time.Millisecond)
	s.Eventually(func() bool {
		st, err := e.RouteStatus("relay")
		return err == nil && st == route.Started
	}, 5*time.Second, 20*time.Millisecond)

	s.Require().NoError(e.ProducerTemplate().SendBody(s.ctx, "direct:relay", "leader"))
	s.Equal([]any{"leader"}, s.received())
}

func (s *ConfigTestSuite) TestClusteredRouteWithoutCluster() {
	e, err := New(nil, WithLogger(logger.NewNop()))
	s.Require().NoError(err)
	s.engines = append(s.engines, e)

	err = e.AddRouteConfigs(s.ctx, RouteConfig{ID: "c", From: []string{"direct:c"}, Clustered: true})
	s.ErrorIs(err, ErrInvalidConfig)
	var re *RouteError
	s.Require().ErrorAs(err, &re)
	s.Equal("c", re.RouteID)
}

func scrape(c *metrics.Collector) string {
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, c.Path(), nil))
	return rec.Body.String()
}
