package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

type fakeAck struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (f *fakeAck) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAck) Nack(tag uint64, _ bool, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAck) snapshot() (acked, nacked []uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.acked...), append([]uint64(nil), f.nacked...)
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	bound      []string
	published  []amqp.Publishing
	keys       []string
	deliveries chan amqp.Delivery
	consumes   int
	publishErr error
	closed     bool
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, "exchange:"+name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, "queue:"+name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchangeName string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = append(f.bound, name+"<-"+exchangeName+":"+key)
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumes++
	f.deliveries = make(chan amqp.Delivery, 8)
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		err := f.publishErr
		f.publishErr = nil
		return err
	}
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeChannel) Cancel(string, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliveries != nil {
		close(f.deliveries)
		f.deliveries = nil
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.deliveries != nil {
		close(f.deliveries)
		f.deliveries = nil
	}
	return nil
}

func (f *fakeChannel) deliver(d amqp.Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries <- d
}

type fakeConn struct {
	ch     *fakeChannel
	notify chan *amqp.Error
}

func (f *fakeConn) Channel() (Channel, error) { return f.ch, nil }

func (f *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.notify = receiver
	return receiver
}

func (f *fakeConn) Close() error {
	if f.notify != nil {
		close(f.notify)
		f.notify = nil
	}
	return nil
}

// RabbitMQTestSuite rabbitmq 组件测试套件.
type RabbitMQTestSuite struct {
	suite.Suite
	ctx   context.Context
	ch    *fakeChannel
	dials int
	comp  *Component
}

func TestRabbitMQSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQTestSuite))
}

func (s *RabbitMQTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.ch = &fakeChannel{}
	s.dials = 0
	s.comp = New(WithURL("amqp://localhost"), WithDialer(func(string) (Connection, error) {
		s.dials++
		return &fakeConn{ch: s.ch}, nil
	}))
}

func (s *RabbitMQTestSuite) endpoint(remaining string, params component.Parameters) *Endpoint {
	ep, err := s.comp.CreateEndpoint("rabbitmq:"+remaining, remaining, params)
	s.Require().NoError(err)
	return ep.(*Endpoint)
}

func (s *RabbitMQTestSuite) TestCreateEndpointValidation() {
	_, err := New().CreateEndpoint("rabbitmq:x", "x", component.Parameters{})
	s.ErrorIs(err, ErrNoURL)

	_, err = s.comp.CreateEndpoint("rabbitmq:x", "x", component.Parameters{"exchangeType": "broadcast"})
	s.ErrorIs(err, component.ErrInvalidParameter)

	ep := s.endpoint(DefaultExchange, component.Parameters{})
	s.Empty(ep.ExchangeName())

	_, err = ep.CreateConsumer(processor.Nop)
	s.ErrorIs(err, ErrNoQueue)
}

func (s *RabbitMQTestSuite) TestProducerPublishes() {
	ep := s.endpoint("orders", component.Parameters{"exchangeType": "topic", "routingKey": "order.created"})
	p, _ := ep.CreateProducer()
	s.ErrorIs(p.Process(s.ctx, exchange.New(nil)), ErrProducerNotStarted)

	s.Require().NoError(component.StartService(s.ctx, p))
	defer component.StopService(s.ctx, p)
	s.Equal([]string{"exchange:orders:topic"}, s.ch.declared)

	ex := exchange.New(nil)
	ex.In().SetBody("hello")
	ex.In().SetHeader(exchange.HeaderContentType, "text/plain")
	ex.In().SetHeader("tenant", "acme")
	ex.In().SetHeader("attempt", 3)
	ex.In().SetHeader("duration", 2*time.Second)
	s.Require().NoError(p.Process(s.ctx, ex))

	ex2 := exchange.New(nil)
	ex2.In().SetBody([]byte("x"))
	ex2.In().SetHeader(HeaderRoutingKey, "order.cancelled")
	s.Require().NoError(p.Process(s.ctx, ex2))

	s.Require().Len(s.ch.published, 2)
	pub := s.ch.published[0]
	s.Equal([]byte("hello"), pub.Body)
	s.Equal("text/plain", pub.ContentType)
	s.Equal(amqp.Persistent, pub.DeliveryMode)
	s.Equal(ex.In().MessageID(), pub.MessageId)
	s.Equal("acme", pub.Headers["tenant"])
	s.Equal(3, pub.Headers["attempt"])
	s.Equal("2s", pub.Headers["duration"])
	s.Equal([]string{"order.created", "order.cancelled"}, s.ch.keys)
	s.NotContains(s.ch.published[1].Headers, HeaderRoutingKey)
}

func (s *RabbitMQTestSuite) TestProducerReconnectsOnClosedChannel() {
	p, _ := s.endpoint("orders", component.Parameters{}).CreateProducer()
	s.Require().NoError(component.StartService(s.ctx, p))
	defer component.StopService(s.ctx, p)

	s.ch.publishErr = amqp.ErrClosed
	ex := exchange.New(nil)
	ex.In().SetBody("x")
	s.Require().NoError(p.Process(s.ctx, ex))
	s.Equal(2, s.dials)
	s.Len(s.ch.published, 1)

	s.ch.publishErr = errors.New("boom")
	s.ErrorIs(p.Process(s.ctx, ex), ErrSendMessage)
}

func (s *RabbitMQTestSuite) TestFromDelivery() {
	ex := exchange.New(nil)
	fromDelivery(ex, amqp.Delivery{
		Headers:       amqp.Table{"tenant": "acme"},
		Exchange:      "orders",
		RoutingKey:    "order.created",
		DeliveryTag:   7,
		Redelivered:   true,
		MessageId:     "m-1",
		CorrelationId: "c-1",
		ContentType:   "application/json",
		Body:          []byte(`{}`),
	})
	in := ex.In()
	s.Equal("m-1", in.MessageID())
	s.Equal([]byte(`{}`), in.Body())
	for k, want := range map[string]any{
		"tenant":                   "acme",
		HeaderRoutingKey:           "order.created",
		HeaderDeliveryTag:          uint64(7),
		HeaderRedelivered:          true,
		exchange.HeaderContentType: "application/json",
	} {
		got, _ := in.Header(k)
		s.Equal(want, got, k)
	}
	corr, _ := ex.Property(exchange.PropertyCorrelationID)
	s.Equal("c-1", corr)
}

func (s *RabbitMQTestSuite) TestConsumerAcksAndNacks() {
	ep := s.endpoint("orders", component.Parameters{"queue": "order-events", "routingKey": "order.*"})
	processed := make(chan string, 2)
	c, err := ep.CreateConsumer(processor.Func(func(_ context.Context, ex *exchange.Exchange) error {
		body, _ := ex.In().Body().([]byte)
		processed <- string(body)
		if string(body) == "bad" {
			return errors.New("rejected")
		}
		return nil
	}))
	s.Require().NoError(err)
	s.Require().NoError(c.Start(s.ctx))
	s.Equal([]string{"exchange:orders:direct", "queue:order-events"}, s.ch.declared)
	s.Equal([]string{"order-events<-orders:order.*"}, s.ch.bound)

	ack := &fakeAck{}
	s.ch.deliver(amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("good")})
	s.ch.deliver(amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("bad")})
	for range 2 {
		select {
		case <-processed:
		case <-time.After(2 * time.Second):
			s.FailNow("消息未被处理")
		}
	}

	s.Require().NoError(c.Stop(s.ctx))
	acked, nacked := ack.snapshot()
	s.Equal([]uint64{1}, acked)
	s.Equal([]uint64{2}, nacked)
	s.True(s.ch.closed)
}

func (s *RabbitMQTestSuite) TestConsumerSuspendResume() {
	ep := s.endpoint("orders", component.Parameters{"queue": "q"})
	c, _ := ep.CreateConsumer(processor.Nop)
	s.Require().NoError(c.Start(s.ctx))
	defer c.Stop(s.ctx)

	sus := c.(component.Suspendable)
	s.Require().NoError(sus.Suspend(s.ctx))
	s.ch.mu.Lock()
	s.Nil(s.ch.deliveries)
	s.ch.mu.Unlock()

	s.Require().NoError(sus.Resume(s.ctx))
	s.ch.mu.Lock()
	s.Equal(2, s.ch.consumes)
	s.ch.mu.Unlock()
}
