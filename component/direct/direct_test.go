package direct

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// DirectTestSuite direct 组件测试套件.
type DirectTestSuite struct {
	suite.Suite
	ctx  context.Context
	comp *Component
}

func TestDirectSuite(t *testing.T) {
	suite.Run(t, new(DirectTestSuite))
}

func (s *DirectTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.comp = New()
}

func (s *DirectTestSuite) endpoint(name string, params component.Parameters) *Endpoint {
	ep, err := s.comp.CreateEndpoint("direct:"+name, name, params)
	s.Require().NoError(err)
	s.Empty(params)
	return ep.(*Endpoint)
}

func (s *DirectTestSuite) TestProducerInvokesConsumer() {
	ep := s.endpoint("start", component.Parameters{})
	consumer, err := ep.CreateConsumer(processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		ex.Message().SetBody("handled")
		return nil
	}))
	s.Require().NoError(err)
	s.Require().NoError(consumer.Start(s.ctx))
	defer consumer.Stop(s.ctx)

	producer, err := ep.CreateProducer()
	s.Require().NoError(err)

	ex := exchange.New(nil)
	s.NoError(producer.Process(s.ctx, ex))
	s.Equal("handled", ex.Message().Body())
}

func (s *DirectTestSuite) TestNoConsumerNonBlocking() {
	ep := s.endpoint("none", component.Parameters{"block": "false"})
	producer, _ := ep.CreateProducer()

	err := producer.Process(s.ctx, exchange.New(nil))
	s.ErrorIs(err, ErrNoConsumers)
}

func (s *DirectTestSuite) TestBlockTimeout() {
	ep := s.endpoint("late", component.Parameters{"timeout": "20"})
	producer, _ := ep.CreateProducer()

	start := time.Now()
	err := producer.Process(s.ctx, exchange.New(nil))
	s.ErrorIs(err, ErrNoConsumers)
	s.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
}

func (s *DirectTestSuite) TestBlockUntilConsumerArrives() {
	ep := s.endpoint("wait", component.Parameters{"timeout": "2s"})
	producer, _ := ep.CreateProducer()
	consumer, _ := ep.CreateConsumer(processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		ex.SetProperty("seen", true)
		return nil
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = consumer.Start(s.ctx)
	}()
	defer consumer.Stop(s.ctx)

	ex := exchange.New(nil)
	s.NoError(producer.Process(s.ctx, ex))
	v, _ := ex.Property("seen")
	s.Equal(true, v)
}

func (s *DirectTestSuite) TestDuplicateConsumer() {
	ep := s.endpoint("dup", component.Parameters{})
	a, _ := ep.CreateConsumer(processor.Nop)
	b, _ := ep.CreateConsumer(processor.Nop)

	s.NoError(a.Start(s.ctx))
	s.ErrorIs(b.Start(s.ctx), ErrConsumerExists)
	s.NoError(a.Stop(s.ctx))
	s.NoError(b.Start(s.ctx))
}

func (s *DirectTestSuite) TestSuspendedConsumerIsUnavailable() {
	ep := s.endpoint("pause", component.Parameters{"block": "false"})
	consumer, _ := ep.CreateConsumer(processor.Nop)
	s.Require().NoError(consumer.Start(s.ctx))

	susp := consumer.(component.Suspendable)
	s.NoError(susp.Suspend(s.ctx))

	producer, _ := ep.CreateProducer()
	s.ErrorIs(producer.Process(s.ctx, exchange.New(nil)), ErrNoConsumers)

	s.NoError(susp.Resume(s.ctx))
	s.NoError(producer.Process(s.ctx, exchange.New(nil)))
}

func (s *DirectTestSuite) TestInvalidParameter() {
	_, err := s.comp.CreateEndpoint("direct:x", "x", component.Parameters{"block": "maybe"})
	s.ErrorIs(err, component.ErrInvalidParameter)

	_, err = s.comp.CreateEndpoint("direct:", "", component.Parameters{})
	s.ErrorIs(err, component.ErrInvalidURI)
}
