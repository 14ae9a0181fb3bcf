package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/component/direct"
	"github.com/Tsukikage7/integration-kit/component/seda"
	"github.com/Tsukikage7/integration-kit/event"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/route"
)

var errBoom = errors.New("boom")

// EngineTestSuite 引擎测试套件.
type EngineTestSuite struct {
	suite.Suite
	ctx    context.Context
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	e, err := New(nil, WithLogger(logger.NewNop()))
	s.Require().NoError(err)
	s.engine = e
}

func (s *EngineTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.NoError(s.engine.Stop(ctx))
}

func upper(_ context.Context, ex *exchange.Exchange) error {
	body, _ := ex.In().Body().(string)
	ex.In().SetBody(strings.ToUpper(body))
	return nil
}

func fail(context.Context, *exchange.Exchange) error {
	return errBoom
}

func (s *EngineTestSuite) addStarted(defs ...*route.Definition) {
	s.Require().NoError(s.engine.AddRoutes(s.ctx, defs...))
	if !s.engine.Started() {
		s.Require().NoError(s.engine.Start(s.ctx))
	}
}

func (s *EngineTestSuite) TestEndpointIsSingletonPerNormalizedURI() {
	a, err := s.engine.Endpoint("seda:q?size=10&concurrentConsumers=2")
	s.Require().NoError(err)
	b, err := s.engine.Endpoint("seda:q?concurrentConsumers=2&size=10")
	s.Require().NoError(err)
	s.Same(a, b)
	s.Len(s.engine.Endpoints(), 1)

	ep, ok := a.(*seda.Endpoint)
	s.Require().True(ok)
	s.Same(s.engine, ep.Context())
}

func (s *EngineTestSuite) TestEndpointResolutionErrors() {
	_, err := s.engine.Endpoint("seda:q?bogus=1")
	s.ErrorIs(err, component.ErrUnknownParameter)

	_, err = s.engine.Endpoint("seda:q?size=abc")
	s.ErrorIs(err, component.ErrInvalidParameter)

	_, err = s.engine.Endpoint("nope:x")
	s.ErrorIs(err, component.ErrNoSuchComponent)
	var re *component.ResolveEndpointError
	s.Require().ErrorAs(err, &re)
	s.Equal("nope:x", re.URI)

	s.Empty(s.engine.Endpoints())
}

func (s *EngineTestSuite) TestLenientParameters() {
	strict := false
	e, err := New(&Config{StrictParameters: &strict}, WithLogger(logger.NewNop()))
	s.Require().NoError(err)
	defer e.Stop(s.ctx)

	_, err = e.Endpoint("seda:q?bogus=1")
	s.NoError(err)
}

func (s *EngineTestSuite) TestCustomComponent() {
	comp := direct.New()
	e, err := New(nil, WithLogger(logger.NewNop()), WithComponent("internal", comp))
	s.Require().NoError(err)
	defer e.Stop(s.ctx)

	got, err := e.Components().Lookup("internal")
	s.Require().NoError(err)
	s.Same(comp, got)

	_, err = e.Endpoint("internal:a")
	s.NoError(err)
}

func (s *EngineTestSuite) TestBeans() {
	s.engine.Bind("greeting", "hi")

	v, ok := LookupAs[string](s.engine, "greeting")
	s.True(ok)
	s.Equal("hi", v)

	_, ok = LookupAs[int](s.engine, "greeting")
	s.False(ok)
	_, ok = s.engine.Lookup("missing")
	s.False(ok)
}

func (s *EngineTestSuite) TestDuplicateRouteID() {
	err := s.engine.AddRoutes(s.ctx,
		route.From("direct:a").RouteID("dup").ProcessFunc(upper),
		route.From("direct:b").RouteID("dup").ProcessFunc(upper),
	)
	s.ErrorIs(err, ErrDuplicateRouteID)
	s.Empty(s.engine.RouteIDs())

	s.Require().NoError(s.engine.AddRoutes(s.ctx, route.From("direct:a").RouteID("dup").ProcessFunc(upper)))
	s.ErrorIs(s.engine.AddRoutes(s.ctx, route.From("direct:c").RouteID("dup")), ErrDuplicateRouteID)
}

func (s *EngineTestSuite) TestRequestReplyOverDirect() {
	s.addStarted(route.From("direct:upper").RouteID("upper").ProcessFunc(upper))

	reply, err := s.engine.ProducerTemplate().RequestBody(s.ctx, "direct:upper", "hello")
	s.Require().NoError(err)
	s.Equal("HELLO", reply)

	stats, err := s.engine.RouteStats("upper")
	s.Require().NoError(err)
	s.EqualValues(1, stats.ExchangesCompleted)
	s.Equal(route.Started, stats.Status)
}

func (s *EngineTestSuite) TestDirectWithoutConsumer() {
	s.Require().NoError(s.engine.Start(s.ctx))
	err := s.engine.ProducerTemplate().SendBody(s.ctx, "direct:nobody?block=false", "x")
	s.ErrorIs(err, direct.ErrNoConsumers)
}

func (s *EngineTestSuite) TestAsyncRouteOverSeda() {
	received := make(chan any, 1)
	s.addStarted(route.From("seda:work").RouteID("worker").ProcessFunc(func(_ context.Context, ex *exchange.Exchange) error {
		received <- ex.In().Body()
		return nil
	}))

	s.Require().NoError(s.engine.ProducerTemplate().SendBody(s.ctx, "seda:work", "job"))
	select {
	case body := <-received:
		s.Equal("job", body)
	case <-time.After(5 * time.Second):
		s.Fail("seda 消息未送达")
	}
}

func (s *EngineTestSuite) TestRouteChainsEndpoints() {
	var mu sync.Mutex
	var got []any
	s.addStarted(
		route.From("direct:in").RouteID("in").ProcessFunc(upper).To("direct:out"),
		route.From("direct:out").RouteID("out").ProcessFunc(func(_ context.Context, ex *exchange.Exchange) error {
			mu.Lock()
			got = append(got, ex.In().Body())
			mu.Unlock()
			return nil
		}),
	)

	s.Require().NoError(s.engine.ProducerTemplate().SendBody(s.ctx, "direct:in", "abc"))
	mu.Lock()
	defer mu.Unlock()
	s.Equal([]any{"ABC"}, got)
}

func (s *EngineTestSuite) TestTemplateFailure() {
	s.addStarted(route.From("direct:fail").RouteID("failing").ProcessFunc(fail))
	tpl := s.engine.ProducerTemplate()

	err := tpl.SendBody(s.ctx, "direct:fail", "x")
	s.ErrorIs(err, errBoom)
	var ee *ExecutionError
	s.Require().ErrorAs(err, &ee)
	s.NotNil(ee.Exchange)
	s.True(ee.Exchange.IsDone())

	_, err = tpl.RequestBody(s.ctx, "direct:fail", "x")
	s.ErrorIs(err, errBoom)

	stats, err := s.engine.RouteStats("failing")
	s.Require().NoError(err)
	s.EqualValues(2, stats.ExchangesFailed)
}

func (s *EngineTestSuite) TestTemplateCachesProducers() {
	s.addStarted(route.From("direct:upper").RouteID("upper").ProcessFunc(upper))
	tpl := s.engine.ProducerTemplate()

	for range 3 {
		_, err := tpl.RequestBody(s.ctx, "direct:upper", "x")
		s.Require().NoError(err)
	}
	s.Equal(1, tpl.CachedProducers())

	_, err := tpl.RequestBody(s.ctx, "nope:x", "x")
	s.ErrorIs(err, component.ErrNoSuchComponent)
	s.Equal(1, tpl.CachedProducers())
}

func (s *EngineTestSuite) TestAsyncSendBody() {
	s.addStarted(
		route.From("direct:fail").RouteID("failing").ProcessFunc(fail),
		route.From("direct:upper").RouteID("upper").ProcessFunc(upper),
	)
	tpl := s.engine.ProducerTemplate()

	ok := tpl.AsyncSendBody(s.ctx, "direct:upper", "x")
	s.NoError(ok.Wait(s.ctx))
	s.Equal("X", ok.Exchange().In().Body())

	failed := tpl.AsyncSendBody(s.ctx, "direct:fail", "x")
	s.ErrorIs(failed.Wait(s.ctx), errBoom)

	unresolved := tpl.AsyncSendBody(s.ctx, "nope:x", "x")
	s.True(unresolved.CompletedSync())
	s.ErrorIs(unresolved.Wait(s.ctx), component.ErrNoSuchComponent)
}

func (s *EngineTestSuite) TestControlBus() {
	s.addStarted(route.From("direct:upper").RouteID("upper").ProcessFunc(upper))
	tpl := s.engine.ProducerTemplate()

	status, err := tpl.RequestBody(s.ctx, "controlbus:route?routeId=upper&action=status", nil)
	s.Require().NoError(err)
	s.Equal("started", status)

	s.Require().NoError(tpl.SendBody(s.ctx, "controlbus:route?routeId=upper&action=suspend", nil))
	st, err := s.engine.RouteStatus("upper")
	s.Require().NoError(err)
	s.Equal(route.Suspended, st)

	s.Require().NoError(tpl.SendBody(s.ctx, "controlbus:route?routeId=upper&action=resume", nil))
	st, err = s.engine.RouteStatus("upper")
	s.Require().NoError(err)
	s.Equal(route.Started, st)
}

func (s *EngineTestSuite) TestRouteControls() {
	s.addStarted(route.From("direct:upper").RouteID("upper").ProcessFunc(upper))

	s.Require().NoError(s.engine.StopRoute(s.ctx, "upper"))
	st, _ := s.engine.RouteStatus("upper")
	s.Equal(route.Stopped, st)

	err := s.engine.ResumeRoute(s.ctx, "upper")
	s.ErrorIs(err, route.ErrIllegalTransition)
	var re *RouteError
	s.Require().ErrorAs(err, &re)
	s.Equal("upper", re.RouteID)

	s.Require().NoError(s.engine.StartRoute(s.ctx, "upper"))
	s.Require().NoError(s.engine.RestartRoute(s.ctx, "upper", 0))
	st, _ = s.engine.RouteStatus("upper")
	s.Equal(route.Started, st)

	s.ErrorIs(s.engine.StartRoute(s.ctx, "missing"), ErrNoSuchRoute)
	_, err = s.engine.RouteStats("missing")
	s.ErrorIs(err, ErrNoSuchRoute)
}

func (s *EngineTestSuite) TestRemoveRoute() {
	s.addStarted(route.From("direct:upper").RouteID("upper").ProcessFunc(upper))

	s.Require().NoError(s.engine.RemoveRoute(s.ctx, "upper"))
	s.Empty(s.engine.RouteIDs())
	_, err := s.engine.Route("upper")
	s.ErrorIs(err, ErrNoSuchRoute)
	s.ErrorIs(s.engine.RemoveRoute(s.ctx, "upper"), ErrNoSuchRoute)

	err = s.engine.ProducerTemplate().SendBody(s.ctx, "direct:upper?block=false", "x")
	s.ErrorIs(err, direct.ErrNoConsumers)
}

func (s *EngineTestSuite) TestLifecycleOrderAndEvents() {
	var mu sync.Mutex
	var events []string
	s.engine.Notifier().SubscribeAll(func(_ context.Context, ev event.Event) error {
		switch ev.Type {
		case event.ExchangeCreated, event.ExchangeCompleted, event.ExchangeFailed:
			return nil
		}
		mu.Lock()
		events = append(events, string(ev.Type)+":"+ev.RouteID)
		mu.Unlock()
		return nil
	})

	s.Require().NoError(s.engine.AddRoutes(s.ctx,
		route.From("direct:a").RouteID("a").StartupOrder(2).ProcessFunc(upper),
		route.From("direct:b").RouteID("b").StartupOrder(1).ProcessFunc(upper),
		route.From("direct:c").RouteID("c").AutoStartup(false).ProcessFunc(upper),
	))
	s.Equal([]string{"c", "b", "a"}, routeIDs(s.engine.Routes()))

	s.Require().NoError(s.engine.Start(s.ctx))
	s.True(s.engine.Started())
	s.NoError(s.engine.Start(s.ctx))

	st, _ := s.engine.RouteStatus("c")
	s.Equal(route.Stopped, st)

	s.Require().NoError(s.engine.Stop(s.ctx))
	s.NoError(s.engine.Stop(s.ctx))
	s.ErrorIs(s.engine.Start(s.ctx), ErrStopped)
	s.ErrorIs(s.engine.AddRoutes(s.ctx, route.From("direct:d").RouteID("d")), ErrStopped)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{
		"RouteAdded:a", "RouteAdded:b", "RouteAdded:c",
		"RouteStarted:b", "RouteStarted:a",
		"EngineStarted:",
		"RouteStopped:a", "RouteStopped:b",
		"EngineStopped:",
	}, events)
}

func (s *EngineTestSuite) TestRoutesAddedAfterStartAreStarted() {
	s.Require().NoError(s.engine.Start(s.ctx))
	s.Require().NoError(s.engine.AddRoutes(s.ctx, route.From("direct:late").RouteID("late").ProcessFunc(upper)))

	st, err := s.engine.RouteStatus("late")
	s.Require().NoError(err)
	s.Equal(route.Started, st)

	reply, err := s.engine.ProducerTemplate().RequestBody(s.ctx, "direct:late", "x")
	s.Require().NoError(err)
	s.Equal("X", reply)
}

func (s *EngineTestSuite) TestDefinitionShutdownOverridesDefault() {
	custom := route.ShutdownStrategy{Timeout: time.Second, Mode: route.ShutdownNow}
	s.Require().NoError(s.engine.AddRoutes(s.ctx,
		route.From("direct:a").RouteID("a").Shutdown(custom),
		route.From("direct:b").RouteID("b"),
	))

	a, _ := s.engine.Route("a")
	s.Equal(custom, a.ShutdownStrategy())
	b, _ := s.engine.Route("b")
	s.Equal(s.engine.Config().Shutdown, b.ShutdownStrategy())
}

func (s *EngineTestSuite) TestExecutors() {
	p := s.engine.Executor("custom")
	s.Require().NotNil(p)
	s.Same(p, s.engine.Executor("custom"))
	s.NotEmpty(s.engine.ExecutorStats())
}

func (s *EngineTestSuite) TestRunUntilContextDone() {
	cfg := DefaultConfig()
	cfg.Management.Addr = "127.0.0.1:0"
	e, err := New(cfg, WithLogger(logger.NewNop()))
	s.Require().NoError(err)
	s.Require().NoError(e.AddRoutes(s.ctx, route.From("direct:upper").RouteID("upper").ProcessFunc(upper)))

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	s.Eventually(e.Started, 5*time.Second, 10*time.Millisecond)
	reply, err := e.ProducerTemplate().RequestBody(s.ctx, "direct:upper", "run")
	s.Require().NoError(err)
	s.Equal("RUN", reply)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.Fail("Run 未返回")
	}
	s.False(e.Started())
	s.ErrorIs(e.Start(s.ctx), ErrStopped)
}

func routeIDs(routes []*route.Route) []string {
	ids := make([]string, 0, len(routes))
	for _, r := range routes {
		ids = append(ids, r.ID())
	}
	return ids
}
