package controlbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/executor"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/route"
)

var errNoRoute = errors.New("no such route")

// fakeEngine 记录控制调用的引擎视图.
type fakeEngine struct {
	mu     sync.Mutex
	calls  []string
	status map[string]route.Status
	pool   *executor.Pool
}

func (f *fakeEngine) Name() string                       { return "test" }
func (f *fakeEngine) TypeConverter() *converter.Registry { return converter.NewDefault() }
func (f *fakeEngine) Logger() logger.Logger              { return logger.NewNop() }
func (f *fakeEngine) Executor(string) *executor.Pool     { return f.pool }
func (f *fakeEngine) Lookup(string) (any, bool)          { return nil, false }

func (f *fakeEngine) Endpoint(string) (component.Endpoint, error) {
	return nil, component.ErrNoSuchComponent
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) StartRoute(_ context.Context, id string) error   { return f.record("start:" + id) }
func (f *fakeEngine) StopRoute(_ context.Context, id string) error    { return f.record("stop:" + id) }
func (f *fakeEngine) SuspendRoute(_ context.Context, id string) error { return f.record("suspend:" + id) }
func (f *fakeEngine) ResumeRoute(_ context.Context, id string) error  { return f.record("resume:" + id) }
func (f *fakeEngine) RestartRoute(_ context.Context, id string, d time.Duration) error {
	return f.record("restart:" + id + ":" + d.String())
}

func (f *fakeEngine) RouteStatus(id string) (route.Status, error) {
	st, ok := f.status[id]
	if !ok {
		return "", errNoRoute
	}
	return st, nil
}

func (f *fakeEngine) RouteStats(id string) (route.Stats, error) {
	st, err := f.RouteStatus(id)
	return route.Stats{RouteID: id, Status: st}, err
}

func (f *fakeEngine) RouteIDs() []string { return []string{"a", "b"} }

// ControlBusTestSuite controlbus 组件测试套件.
type ControlBusTestSuite struct {
	suite.Suite
	ctx    context.Context
	engine *fakeEngine
}

func TestControlBusSuite(t *testing.T) {
	suite.Run(t, new(ControlBusTestSuite))
}

func (s *ControlBusTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.engine = &fakeEngine{
		status: map[string]route.Status{"a": route.Started, "b": route.Suspended},
		pool:   executor.NewPool(Scheme, executor.WithWorkers(1)),
	}
}

func (s *ControlBusTestSuite) TearDownTest() {
	s.NoError(s.engine.pool.Shutdown(s.ctx))
}

func (s *ControlBusTestSuite) producer(params component.Parameters) component.Producer {
	ep, err := New().CreateEndpoint("controlbus:route", "route", params)
	s.Require().NoError(err)
	ep.(component.ContextAware).SetContext(s.engine)
	p, err := ep.(*Endpoint).CreateProducer()
	s.Require().NoError(err)
	return p
}

func (s *ControlBusTestSuite) TestActions() {
	for _, action := range []string{"start", "stop", "SUSPEND", "resume"} {
		ex := exchange.New(nil)
		s.NoError(s.producer(component.Parameters{"routeId": "a", "action": action}).Process(s.ctx, ex))
	}
	ex := exchange.New(nil)
	p := s.producer(component.Parameters{"routeId": "a", "action": "restart", "restartDelay": "2s"})
	s.NoError(p.Process(s.ctx, ex))

	s.Equal([]string{"start:a", "stop:a", "suspend:a", "resume:a", "restart:a:2s"}, s.engine.Calls())
}

func (s *ControlBusTestSuite) TestStatusAndStats() {
	ex := exchange.New(nil)
	s.NoError(s.producer(component.Parameters{"routeId": "b"}).Process(s.ctx, ex))
	s.Equal("suspended", ex.Message().Body())

	ex = exchange.New(nil)
	ex.In().SetHeader(HeaderRouteID, "a")
	s.NoError(s.producer(component.Parameters{"routeId": "b", "action": "stats"}).Process(s.ctx, ex))
	s.Equal(route.Stats{RouteID: "a", Status: route.Started}, ex.Message().Body())

	ex = exchange.New(nil)
	s.NoError(s.producer(component.Parameters{"action": "stats"}).Process(s.ctx, ex))
	s.Len(ex.Message().Body(), 2)

	ex = exchange.New(nil)
	s.ErrorIs(s.producer(component.Parameters{"routeId": "zz"}).Process(s.ctx, ex), errNoRoute)
}

func (s *ControlBusTestSuite) TestAsyncAction() {
	ex := exchange.New(nil)
	s.NoError(s.producer(component.Parameters{"routeId": "a", "action": "stop", "async": "true"}).Process(s.ctx, ex))
	s.Eventually(func() bool { return len(s.engine.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	s.Equal("stop:a", s.engine.Calls()[0])
}

func (s *ControlBusTestSuite) TestInvalidConfiguration() {
	_, err := New().CreateEndpoint("controlbus:language", "language", component.Parameters{})
	s.ErrorIs(err, component.ErrInvalidURI)

	_, err = New().CreateEndpoint("controlbus:route", "route", component.Parameters{"action": "explode"})
	s.ErrorIs(err, component.ErrInvalidParameter)
	s.ErrorIs(err, ErrUnknownAction)

	ex := exchange.New(nil)
	s.ErrorIs(s.producer(component.Parameters{"action": "start"}).Process(s.ctx, ex), ErrMissingRouteID)

	ep, err := New().CreateEndpoint("controlbus:route", "route", component.Parameters{})
	s.Require().NoError(err)
	_, err = ep.(*Endpoint).CreateProducer()
	s.ErrorIs(err, ErrNoController)
}
