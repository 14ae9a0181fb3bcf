package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/IBM/sarama"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
)

// Producer kafka 生产者.
//
// 发送成功后在当前消息上写入 kafka.PARTITION 与 kafka.OFFSET.
type Producer struct {
	endpoint *Endpoint

	mu       sync.RWMutex
	producer sarama.SyncProducer
}

// Endpoint 实现 component.Producer.
func (p *Producer) Endpoint() component.Endpoint {
	return p.endpoint
}

// Start 建立连接.
func (p *Producer) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producer != nil {
		return nil
	}
	sp, err := p.endpoint.comp.newProducer(p.endpoint.cfg.Brokers, p.endpoint.producerConfig())
	if err != nil {
		return errors.Join(ErrCreateProducer, err)
	}
	p.producer = sp
	p.endpoint.Logger().With(
		logger.Any("brokers", p.endpoint.cfg.Brokers),
		logger.String("topic", p.endpoint.topic),
	).Debug("[Kafka] 生产者启动")
	return nil
}

// Stop 关闭连接.
func (p *Producer) Stop(context.Context) error {
	p.mu.Lock()
	sp := p.producer
	p.producer = nil
	p.mu.Unlock()
	if sp == nil {
		return nil
	}
	return sp.Close()
}

// Process 实现 processor.Processor.
func (p *Producer) Process(ctx context.Context, ex *exchange.Exchange) error {
	p.mu.RLock()
	sp := p.producer
	p.mu.RUnlock()
	if sp == nil {
		return ErrProducerNotStarted
	}

	pm, err := toProducerMessage(ex, p.endpoint.topic, p.endpoint.cfg.Key)
	if err != nil {
		return err
	}
	_, span := startProducerSpan(ctx, pm)
	partition, offset, err := sp.SendMessage(pm)
	if err != nil {
		endSpan(span, err)
		p.endpoint.Logger().With(
			logger.String("topic", pm.Topic),
			logger.Err(err),
		).Error("[Kafka] 消息发送失败")
		return errors.Join(ErrSendMessage, err)
	}
	endSpan(span, nil)

	msg := ex.Message()
	msg.SetHeader(HeaderTopic, pm.Topic)
	msg.SetHeader(HeaderPartition, partition)
	msg.SetHeader(HeaderOffset, offset)
	return nil
}
