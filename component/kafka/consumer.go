package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v5"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Consumer kafka 消费者.
//
// 每条消息创建一个 InOnly Exchange，处理完成后标记并提交偏移量.
// 消费循环出错时按指数退避重连.
type Consumer struct {
	endpoint  *Endpoint
	processor processor.Processor

	mu     sync.Mutex
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Endpoint 实现 component.Consumer.
func (c *Consumer) Endpoint() component.Endpoint {
	return c.endpoint
}

// Start 加入消费者组并启动消费循环.
func (c *Consumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group != nil {
		return nil
	}
	cfg := c.endpoint.cfg
	group, err := c.endpoint.comp.newConsumerGroup(cfg.Brokers, cfg.GroupID, c.endpoint.consumerConfig())
	if err != nil {
		return errors.Join(ErrCreateConsumer, err)
	}
	c.group = group

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go c.consumeLoop(ctx, group)
	go c.watchErrors(ctx, group)

	c.endpoint.Logger().With(
		logger.Any("brokers", cfg.Brokers),
		logger.String("groupID", cfg.GroupID),
		logger.String("topic", c.endpoint.topic),
	).Debug("[Kafka] 消费者启动")
	return nil
}

// Stop 停止消费并离开消费者组.
func (c *Consumer) Stop(context.Context) error {
	c.mu.Lock()
	group, cancel := c.group, c.cancel
	c.group, c.cancel = nil, nil
	c.mu.Unlock()
	if group == nil {
		return nil
	}
	cancel()
	err := group.Close()
	c.wg.Wait()
	return err
}

// Suspend 暂停拉取所有分区.
func (c *Consumer) Suspend(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group != nil {
		c.group.PauseAll()
	}
	return nil
}

// Resume 恢复拉取所有分区.
func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group != nil {
		c.group.ResumeAll()
	}
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, group sarama.ConsumerGroup) {
	defer c.wg.Done()
	defer c.recoverPanic("消费循环")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = c.endpoint.cfg.ReconnectBackoffMax

	topics := []string{c.endpoint.topic}
	for {
		err := group.Consume(ctx, topics, c)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			bo.Reset()
			continue
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		delay := bo.NextBackOff()
		c.endpoint.Logger().With(
			logger.Err(err),
			logger.Duration("retryIn", delay),
		).Error("[Kafka] 消费失败")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Consumer) watchErrors(ctx context.Context, group sarama.ConsumerGroup) {
	defer c.wg.Done()
	defer c.recoverPanic("错误监听")
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-group.Errors():
			if !ok {
				return
			}
			c.endpoint.Logger().With(logger.Err(err)).Error("[Kafka] 消费者组错误")
		}
	}
}

func (c *Consumer) recoverPanic(where string) {
	if r := recover(); r != nil {
		c.endpoint.Logger().With(
			logger.Any("panic", r),
			logger.String("where", where),
		).Error("[Kafka] 消费者 panic")
	}
}

// Setup 实现 sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 实现 sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 实现 sarama.ConsumerGroupHandler.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(session, m); err != nil {
				return err
			}
		}
	}
}

// handle 处理单条消息；breakOnFirstError 时失败消息不提交并返回错误.
func (c *Consumer) handle(session sarama.ConsumerGroupSession, m *sarama.ConsumerMessage) error {
	ex := c.endpoint.NewExchange(exchange.InOnly)
	fromConsumerMessage(ex, m)

	ctx, span := startConsumerSpan(session.Context(), m)
	processor.Invoke(ctx, c.processor, ex)
	endSpan(span, ex.Err())
	defer ex.Done()

	if ex.Failed() && !ex.IsErrorHandled() {
		c.endpoint.Logger().With(
			logger.String("topic", m.Topic),
			logger.String("offset", formatOffset(m.Partition, m.Offset)),
			logger.ExchangeID(ex.ID()),
			logger.Err(ex.Err()),
		).Error("[Kafka] 消息处理失败")
		if c.endpoint.cfg.BreakOnFirstError {
			if err := ex.Err(); err != nil {
				return err
			}
			return ErrProcessingFailed
		}
	}
	session.MarkMessage(m, "")
	session.Commit()
	return nil
}
