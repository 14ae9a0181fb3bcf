package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Consumer rabbitmq 消费者.
//
// 连接异常断开后按指数退避重连；Suspend 取消订阅，Resume 重新订阅.
type Consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu        sync.Mutex
	conn      Connection
	ch        Channel
	tag       string
	suspended bool
	stopped   chan struct{}
	wg        sync.WaitGroup
}

// Endpoint 实现 component.Consumer.
func (c *Consumer) Endpoint() component.Endpoint {
	return c.endpoint
}

// Start 建立连接、声明拓扑并开始订阅.
func (c *Consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	c.tag = "integration-kit-" + uuid.NewString()
	c.stopped = make(chan struct{})
	if err := c.connect(); err != nil {
		return err
	}
	c.endpoint.Logger().With(
		logger.String("queue", c.endpoint.cfg.Queue),
		logger.String("exchange", c.endpoint.exchangeName),
	).Debug("[RabbitMQ] 消费者启动")
	return nil
}

// connect 调用方持有锁.
func (c *Consumer) connect() error {
	conn, err := c.endpoint.comp.dial(c.endpoint.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateClient, err)
	}
	ch, err := c.endpoint.setupChannel(conn, true)
	if err != nil {
		_ = conn.Close()
		return err
	}
	c.conn, c.ch = conn, ch
	if !c.suspended {
		if err := c.consume(); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			c.conn, c.ch = nil, nil
			return err
		}
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.wg.Add(1)
	go c.watch(closed)
	return nil
}

// consume 调用方持有锁.
func (c *Consumer) consume() error {
	cfg := c.endpoint.cfg
	deliveries, err := c.ch.Consume(cfg.Queue, c.tag, cfg.AutoAck, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: 订阅队列失败: %w", ErrSetupChannel, err)
	}
	c.wg.Add(1)
	go c.loop(deliveries)
	return nil
}

// Stop 关闭连接并等待正在处理的消息完成.
func (c *Consumer) Stop(context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	close(c.stopped)
	_ = c.ch.Close()
	err := c.conn.Close()
	c.conn, c.ch = nil, nil
	c.mu.Unlock()

	c.wg.Wait()
	return err
}

// Suspend 取消订阅，连接保持.
func (c *Consumer) Suspend(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended {
		return nil
	}
	c.suspended = true
	if c.ch != nil {
		return c.ch.Cancel(c.tag, false)
	}
	return nil
}

// Resume 重新订阅.
func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.suspended {
		return nil
	}
	c.suspended = false
	if c.ch != nil {
		return c.consume()
	}
	return nil
}

func (c *Consumer) loop(deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for d := range deliveries {
		c.handle(d)
	}
}

func (c *Consumer) watch(closed <-chan *amqp.Error) {
	defer c.wg.Done()
	select {
	case <-c.stopped:
		return
	case err, ok := <-closed:
		if !ok || err == nil {
			return
		}
		c.endpoint.Logger().With(logger.Any("reason", err)).Warn("[RabbitMQ] 连接断开，开始重连")
	}
	c.reconnect()
}

func (c *Consumer) reconnect() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.endpoint.cfg.ReconnectDelay
	bo.MaxInterval = time.Minute

	for attempt := 1; ; attempt++ {
		select {
		case <-c.stopped:
			return
		case <-time.After(bo.NextBackOff()):
		}

		c.mu.Lock()
		select {
		case <-c.stopped:
			c.mu.Unlock()
			return
		default:
		}
		err := c.connect()
		c.mu.Unlock()
		if err == nil {
			c.endpoint.Logger().Info("[RabbitMQ] 重连成功")
			return
		}
		c.endpoint.Logger().With(
			logger.Int("attempt", attempt),
			logger.Err(err),
		).Error("[RabbitMQ] 重连失败")
	}
}

func (c *Consumer) handle(d amqp.Delivery) {
	ex := c.endpoint.NewExchange(exchange.InOnly)
	fromDelivery(ex, d)
	defer ex.Done()

	processor.Invoke(context.Background(), c.processor, ex)

	failed := ex.Failed() && !ex.IsErrorHandled()
	if failed {
		c.endpoint.Logger().With(
			logger.String("queue", c.endpoint.cfg.Queue),
			logger.ExchangeID(ex.ID()),
			logger.Err(ex.Err()),
		).Error("[RabbitMQ] 消息处理失败")
	}
	if c.endpoint.cfg.AutoAck {
		return
	}

	var err error
	if failed {
		err = d.Nack(false, c.endpoint.cfg.RequeueOnFailure)
	} else {
		err = d.Ack(false)
	}
	if err != nil {
		c.endpoint.Logger().With(logger.Err(err)).Error("[RabbitMQ] 确认消息失败")
	}
}
