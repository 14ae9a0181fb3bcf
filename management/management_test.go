package management

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/metrics"
	"github.com/Tsukikage7/integration-kit/route"
)

// fakeController 记录路由操作的控制器.
type fakeController struct {
	status map[string]route.Status
	calls  []string
	err    error
}

func (f *fakeController) op(action, id string, to route.Status) error {
	f.calls = append(f.calls, action+" "+id)
	if f.err != nil {
		return f.err
	}
	f.status[id] = to
	return nil
}

func (f *fakeController) StartRoute(_ context.Context, id string) error {
	return f.op("start", id, route.Started)
}

func (f *fakeController) StopRoute(_ context.Context, id string) error {
	return f.op("stop", id, route.Stopped)
}

func (f *fakeController) SuspendRoute(_ context.Context, id string) error {
	return f.op("suspend", id, route.Suspended)
}

func (f *fakeController) ResumeRoute(_ context.Context, id string) error {
	return f.op("resume", id, route.Started)
}

func (f *fakeController) RestartRoute(_ context.Context, id string, delay time.Duration) error {
	return f.op(fmt.Sprintf("restart(%s)", delay), id, route.Started)
}

func (f *fakeController) RouteStatus(id string) (route.Status, error) {
	return f.status[id], nil
}

func (f *fakeController) RouteStats(id string) (route.Stats, error) {
	return route.Stats{RouteID: id, Status: f.status[id]}, nil
}

func (f *fakeController) RouteIDs() []string {
	return []string{"a", "b"}
}

// ManagementTestSuite 管理接口测试套件.
type ManagementTestSuite struct {
	suite.Suite
	ctrl      *fakeController
	collector *metrics.Collector
	handler   *Handler
}

func TestManagementSuite(t *testing.T) {
	suite.Run(t, new(ManagementTestSuite))
}

func (s *ManagementTestSuite) SetupTest() {
	s.ctrl = &fakeController{status: map[string]route.Status{"a": route.Started, "b": route.Stopped}}
	s.collector = metrics.MustNewCollector(&metrics.Config{Namespace: "mgmt"})
	h, err := NewHandler(s.ctrl, WithMetrics(s.collector))
	s.Require().NoError(err)
	s.handler = h
}

func (s *ManagementTestSuite) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func (s *ManagementTestSuite) TestNilController() {
	_, err := NewHandler(nil)
	s.ErrorIs(err, ErrNilController)
}

func (s *ManagementTestSuite) TestListRoutes() {
	rec := s.do(http.MethodGet, "/routes")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("application/json", rec.Header().Get("Content-Type"))

	var stats []route.Stats
	s.Require().NoError(sonic.Unmarshal(rec.Body.Bytes(), &stats))
	s.Require().Len(stats, 2)
	s.Equal("a", stats[0].RouteID)
	s.Equal(route.Started, stats[0].Status)
}

func (s *ManagementTestSuite) TestGetRoute() {
	rec := s.do(http.MethodGet, "/routes/b")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"status":"stopped"`)

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/routes/missing").Code)
}

func (s *ManagementTestSuite) TestControlRoute() {
	rec := s.do(http.MethodPost, "/routes/b/start")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(route.Started, s.ctrl.status["b"])

	s.Equal(http.StatusOK, s.do(http.MethodPost, "/routes/a/restart?delay=2s").Code)
	s.Equal([]string{"start b", "restart(2s) a"}, s.ctrl.calls)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/routes/a/restart?delay=soon").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/routes/a/explode").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/routes/missing/stop").Code)
	s.Equal(http.StatusMethodNotAllowed, s.do(http.MethodGet, "/routes/a/stop").Code)
}

func (s *ManagementTestSuite) TestControlErrors() {
	s.ctrl.err = &route.TransitionError{RouteID: "b", Op: "suspend", From: route.Stopped, To: route.Suspending}
	rec := s.do(http.MethodPost, "/routes/b/suspend")
	s.Equal(http.StatusConflict, rec.Code)
	s.Contains(rec.Body.String(), `"error"`)

	s.ctrl.err = errors.New("broker down")
	s.Equal(http.StatusInternalServerError, s.do(http.MethodPost, "/routes/b/start").Code)
}

func (s *ManagementTestSuite) TestMetricsEndpoint() {
	s.do(http.MethodGet, "/routes/a")
	rec := s.do(http.MethodGet, "/metrics")
	s.Equal(http.StatusOK, rec.Code)
	s.True(strings.Contains(rec.Body.String(), `mgmt_http_requests_total{code="200",method="get",path="/routes/{id}"} 1`))
}

func (s *ManagementTestSuite) TestServerLifecycle() {
	_, err := NewServer("", s.handler)
	s.ErrorIs(err, ErrAddrEmpty)

	srv, err := NewServer("127.0.0.1:0", s.handler)
	s.Require().NoError(err)
	s.Equal("management", srv.Name())

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()
	s.Eventually(func() bool { return !strings.HasSuffix(srv.Addr(), ":0") }, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/routes")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	s.NoError(srv.Stop(context.Background()))
	s.NoError(<-done)
}
