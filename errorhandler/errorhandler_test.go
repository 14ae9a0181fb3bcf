package errorhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/processor"
)

// ErrorHandlerTestSuite 错误处理测试套件.
type ErrorHandlerTestSuite struct {
	suite.Suite
	ctx context.Context
}

func TestErrorHandlerSuite(t *testing.T) {
	suite.Run(t, new(ErrorHandlerTestSuite))
}

func (s *ErrorHandlerTestSuite) SetupTest() {
	s.ctx = context.Background()
}

var errBoom = errors.New("boom")

type codeError struct{ code int }

func (e *codeError) Error() string { return "code error" }

// flaky 前 failures 次调用失败.
func flaky(failures int, err error, calls *int) processor.Processor {
	return processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		*calls++
		ex.In().SetBody("mutated")
		if *calls <= failures {
			return err
		}
		return nil
	})
}

func noDelay(max int) RedeliveryPolicy {
	p := DefaultRedeliveryPolicy()
	p.MaximumRedeliveries = max
	p.RedeliveryDelay = 0
	return p
}

func (s *ErrorHandlerTestSuite) TestShouldRedeliver() {
	p := DefaultRedeliveryPolicy()
	s.False(p.ShouldRedeliver(1))

	p.MaximumRedeliveries = 3
	s.True(p.ShouldRedeliver(3))
	s.False(p.ShouldRedeliver(4))

	p.MaximumRedeliveries = -1
	s.True(p.ShouldRedeliver(1000))
}

func (s *ErrorHandlerTestSuite) TestNextDelay() {
	p := DefaultRedeliveryPolicy()
	s.Equal(time.Second, p.NextDelay(0, 1))
	s.Equal(time.Second, p.NextDelay(time.Second, 2))

	p.UseExponentialBackOff = true
	p.MaximumRedeliveryDelay = 5 * time.Second
	delay := time.Duration(0)
	var got []time.Duration
	for i := 1; i <= 5; i++ {
		delay = p.NextDelay(delay, i)
		got = append(got, delay)
	}
	s.Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
}

func (s *ErrorHandlerTestSuite) TestCollisionAvoidance() {
	p := DefaultRedeliveryPolicy()
	p.UseCollisionAvoidance = true
	for range 100 {
		d := p.NextDelay(0, 1)
		s.GreaterOrEqual(d, 850*time.Millisecond)
		s.LessOrEqual(d, 1150*time.Millisecond)
	}
}

func (s *ErrorHandlerTestSuite) TestDelayPattern() {
	p := DefaultRedeliveryPolicy()
	p.DelayPattern = "0:1000;5:5000"
	s.Equal(time.Second, p.NextDelay(0, 1))
	s.Equal(time.Second, p.NextDelay(0, 4))
	s.Equal(5*time.Second, p.NextDelay(0, 5))
	s.Equal(5*time.Second, p.NextDelay(0, 50))

	p.DelayPattern = "5:1000;10:5000"
	s.Equal(time.Duration(0), p.NextDelay(0, 2))
	s.Equal(time.Second, p.NextDelay(0, 7))

	p.DelayPattern = "5-1000"
	s.ErrorIs(p.Validate(), ErrInvalidDelayPattern)
	_, err := NewDefault(WithRedeliveryPolicy(p))
	s.ErrorIs(err, ErrInvalidDelayPattern)
}

func (s *ErrorHandlerTestSuite) TestRedeliveryRetriesOnlyFailingStep() {
	var attempts []int
	h, err := NewDefault(WithRedeliveryPolicy(noDelay(3)), WithRedeliveryListener(func(_ *exchange.Exchange, attempt int) {
		attempts = append(attempts, attempt)
	}))
	s.Require().NoError(err)

	var first, second int
	var inputs []any
	step1 := processor.Func(func(context.Context, *exchange.Exchange) error { first++; return nil })
	step2 := processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		inputs = append(inputs, ex.In().Body())
		return flaky(2, errBoom, &second).Process(s.ctx, ex)
	})
	pipeline := processor.NewPipeline(h.Wrap(step1), h.Wrap(step2))

	ex := exchange.New(nil)
	ex.In().SetBody("input")
	s.Require().NoError(pipeline.Process(s.ctx, ex))
	s.Equal(1, first)
	s.Equal(3, second)
	s.Equal([]int{1, 2}, attempts)
	s.Equal([]any{"input", "input", "input"}, inputs)
	s.True(ex.IsRedelivered())
	counter, _ := ex.In().Header(exchange.HeaderRedeliveryCounter)
	s.Equal(2, counter)
	maxCounter, _ := ex.In().Header(exchange.HeaderRedeliveryMaxCounter)
	s.Equal(3, maxCounter)
}

func (s *ErrorHandlerTestSuite) TestExhaustedKeepsOriginalError() {
	h, err := NewDefault(WithRedeliveryPolicy(noDelay(2)))
	s.Require().NoError(err)

	var calls int
	ex := exchange.New(nil)
	ex.SetFromRouteID("orders")
	ex.SetProperty(exchange.PropertyToEndpoint, "direct:pay")
	err = h.Wrap(flaky(10, errBoom, &calls)).Process(s.ctx, ex)
	s.ErrorIs(err, errBoom)
	s.Equal(3, calls)

	caught, _ := ex.Property(exchange.PropertyExceptionCaught)
	s.ErrorIs(caught.(error), errBoom)
	failedAt, _ := ex.Property(exchange.PropertyFailureEndpoint)
	s.Equal("direct:pay", failedAt)
	routeID, _ := ex.Property(exchange.PropertyFailureRouteID)
	s.Equal("orders", routeID)
	exhausted, _ := ex.Property(exchange.PropertyRedeliveryExhausted)
	s.Equal(true, exhausted)
}

func (s *ErrorHandlerTestSuite) TestExceptionPolicies() {
	fatal := errors.New("fatal")
	h, err := NewDefault(
		WithRedeliveryPolicy(noDelay(5)),
		WithExceptionPolicies(
			OnException(fatal).Redelivery(noDelay(0)).Handled(),
			OnExceptionType[*codeError]().Redelivery(noDelay(1)).Continued(),
		),
	)
	s.Require().NoError(err)

	var calls int
	ex := exchange.New(nil)
	s.NoError(h.Wrap(flaky(10, fatal, &calls)).Process(s.ctx, ex))
	s.Equal(1, calls)
	s.True(ex.IsErrorHandled())
	s.False(ex.ShouldContinue())

	calls = 0
	ex = exchange.New(nil)
	s.NoError(h.Wrap(flaky(10, &codeError{code: 7}, &calls)).Process(s.ctx, ex))
	s.Equal(2, calls)
	s.False(ex.IsErrorHandled())
	s.True(ex.ShouldContinue())

	calls = 0
	ex = exchange.New(nil)
	s.ErrorIs(h.Wrap(flaky(10, errBoom, &calls)).Process(s.ctx, ex), errBoom)
	s.Equal(6, calls)
}

func (s *ErrorHandlerTestSuite) TestHandledAndContinuedRejected() {
	_, err := NewDefault(WithExceptionPolicies(OnException(errBoom).Handled().Continued()))
	s.ErrorIs(err, ErrHandledAndContinued)
}

func (s *ErrorHandlerTestSuite) TestRetryWhileAndOnRedelivery() {
	var redelivered int
	h, err := NewDefault(WithExceptionPolicies(
		OnException(errBoom).
			RetryWhile(expression.PredicateFunc(func(ex *exchange.Exchange) (bool, error) {
				n, _ := ex.In().Header(exchange.HeaderRedeliveryCounter)
				count, _ := n.(int)
				return count < 4, nil
			})).
			Redelivery(noDelay(0)).
			OnRedelivery(processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
				redelivered++
				ex.In().SetHeader("note", "retrying")
				return nil
			})),
	))
	s.Require().NoError(err)

	var calls int
	ex := exchange.New(nil)
	s.ErrorIs(h.Wrap(flaky(100, errBoom, &calls)).Process(s.ctx, ex), errBoom)
	s.Equal(5, calls)
	s.Equal(4, redelivered)
	note, _ := ex.In().Header("note")
	s.Equal("retrying", note)
}

func (s *ErrorHandlerTestSuite) TestDeadLetterChannel() {
	_, err := NewDeadLetterChannel(nil)
	s.ErrorIs(err, ErrNoDeadLetter)

	var dead *exchange.Exchange
	dlc := processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		dead = ex
		return nil
	})
	h, err := NewDeadLetterChannel(dlc, WithRedeliveryPolicy(noDelay(1)), WithUseOriginalMessage())
	s.Require().NoError(err)

	var calls int
	ex := exchange.New(nil)
	ex.In().SetBody("original")
	s.NoError(h.Wrap(flaky(10, errBoom, &calls)).Process(s.ctx, ex))
	s.Equal(2, calls)
	s.Require().NotNil(dead)
	s.Equal("original", dead.In().Body())
	s.NoError(dead.Err())
	caught, _ := dead.Property(exchange.PropertyExceptionCaught)
	s.ErrorIs(caught.(error), errBoom)
	s.True(ex.IsErrorHandled())
}

func (s *ErrorHandlerTestSuite) TestDeadLetterFailureKeepsError() {
	dlcErr := errors.New("dlc down")
	h, err := NewDeadLetterChannel(processor.Throw(dlcErr))
	s.Require().NoError(err)

	var calls int
	ex := exchange.New(nil)
	s.ErrorIs(h.Wrap(flaky(10, errBoom, &calls)).Process(s.ctx, ex), dlcErr)
	s.False(ex.IsErrorHandled())
}

func (s *ErrorHandlerTestSuite) TestAsyncDelayedRedelivery() {
	p := DefaultRedeliveryPolicy()
	p.MaximumRedeliveries = 2
	p.RedeliveryDelay = 20 * time.Millisecond
	h, err := NewDefault(WithRedeliveryPolicy(p))
	s.Require().NoError(err)

	var calls int
	ex := exchange.New(nil)
	start := time.Now()
	f := processor.Submit(s.ctx, h.Wrap(flaky(2, errBoom, &calls)), ex)
	s.False(f.CompletedSync())
	s.Require().NoError(f.Wait(s.ctx))
	s.Equal(3, calls)
	s.GreaterOrEqual(time.Since(start), 40*time.Millisecond)
}

func (s *ErrorHandlerTestSuite) TestHeaderDelayOverride() {
	p := DefaultRedeliveryPolicy()
	p.MaximumRedeliveries = 1
	p.RedeliveryDelay = time.Hour
	h, err := NewDefault(WithRedeliveryPolicy(p))
	s.Require().NoError(err)

	var calls int
	ex := exchange.New(nil)
	ex.In().SetHeader(exchange.HeaderRedeliveryDelay, 5)
	s.NoError(h.Wrap(flaky(1, errBoom, &calls)).Process(s.ctx, ex))
	s.Equal(2, calls)
}

func (s *ErrorHandlerTestSuite) TestContextCancelAbortsDelay() {
	p := DefaultRedeliveryPolicy()
	p.MaximumRedeliveries = 5
	p.RedeliveryDelay = time.Hour
	h, err := NewDefault(WithRedeliveryPolicy(p))
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	var calls int
	ex := exchange.New(nil)
	f := processor.Submit(ctx, h.Wrap(flaky(10, errBoom, &calls)), ex)
	cancel()
	s.ErrorIs(f.Wait(s.ctx), errBoom)
	s.Equal(1, calls)
}

func (s *ErrorHandlerTestSuite) TestNoErrorHandler() {
	var calls int
	ex := exchange.New(nil)
	s.ErrorIs(NoErrorHandler{}.Wrap(flaky(1, errBoom, &calls)).Process(s.ctx, ex), errBoom)
	s.Equal(1, calls)
}

// offloaded 在其他 goroutine 中执行 inner.
type offloaded struct {
	inner processor.Processor
}

func (o offloaded) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, o, ex)
}

func (o offloaded) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	go func() {
		processor.Invoke(ctx, o.inner, ex)
		done(false)
	}()
	return false
}

func (s *ErrorHandlerTestSuite) TestMatcherPanicStopsRedelivery() {
	h, err := NewDefault(
		WithRedeliveryPolicy(noDelay(3)),
		WithExceptionPolicies(OnExceptionFunc(func(error) bool { panic("matcher exploded") })),
	)
	s.Require().NoError(err)

	for name, async := range map[string]bool{"sync": false, "async": true} {
		var calls int
		var step processor.Processor = flaky(10, errBoom, &calls)
		if async {
			step = offloaded{step}
		}
		err := processor.Submit(s.ctx, h.Wrap(step), exchange.New(nil)).Wait(s.ctx)
		s.ErrorIs(err, errBoom, name)
		s.ErrorIs(err, processor.ErrPanic, name)
		s.Equal(1, calls, name)
	}
	s.False(OnExceptionFunc(func(error) bool { panic("matcher exploded") }).Matches(errBoom))
}

func (s *ErrorHandlerTestSuite) TestListenerPanicStopsRedelivery() {
	h, err := NewDefault(
		WithRedeliveryPolicy(noDelay(3)),
		WithRedeliveryListener(func(*exchange.Exchange, int) { panic("listener exploded") }),
	)
	s.Require().NoError(err)

	for name, async := range map[string]bool{"sync": false, "async": true} {
		var calls int
		var step processor.Processor = flaky(10, errBoom, &calls)
		if async {
			step = offloaded{step}
		}
		err := processor.Submit(s.ctx, h.Wrap(step), exchange.New(nil)).Wait(s.ctx)
		s.ErrorIs(err, processor.ErrPanic, name)
		s.Equal(1, calls, name)
	}
}
