package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
)

// Producer rabbitmq 生产者.
//
// 路由键取 rabbitmq.ROUTING_KEY 头，缺省使用端点 routingKey.
// 通道已关闭时重新建立一次连接后重试.
type Producer struct {
	endpoint *Endpoint

	mu   sync.Mutex
	conn Connection
	ch   Channel
}

// Endpoint 实现 component.Producer.
func (p *Producer) Endpoint() component.Endpoint {
	return p.endpoint
}

// Start 建立连接并声明交换机.
func (p *Producer) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}
	return p.connect()
}

func (p *Producer) connect() error {
	conn, err := p.endpoint.comp.dial(p.endpoint.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateClient, err)
	}
	ch, err := p.endpoint.setupChannel(conn, false)
	if err != nil {
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	p.endpoint.Logger().With(logger.String("exchange", p.endpoint.exchangeName)).Debug("[RabbitMQ] 生产者启动")
	return nil
}

func (p *Producer) closeLocked() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.conn, p.ch = nil, nil
	return errors.Join(errs...)
}

// Stop 关闭通道与连接.
func (p *Producer) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

// Process 实现 processor.Processor.
func (p *Producer) Process(ctx context.Context, ex *exchange.Exchange) error {
	pub, err := toPublishing(ex, p.endpoint.cfg.Persistent)
	if err != nil {
		return err
	}
	key := p.endpoint.cfg.RoutingKey
	if v, ok := ex.Message().Header(HeaderRoutingKey); ok {
		if s, _ := v.(string); s != "" {
			key = s
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrProducerNotStarted
	}
	err = p.publish(ctx, key, pub)
	if errors.Is(err, amqp.ErrClosed) {
		p.endpoint.Logger().Warn("[RabbitMQ] 通道已关闭，重新连接")
		_ = p.closeLocked()
		if err = p.connect(); err == nil {
			err = p.publish(ctx, key, pub)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendMessage, err)
	}
	return nil
}

func (p *Producer) publish(ctx context.Context, key string, pub amqp.Publishing) error {
	return p.ch.PublishWithContext(ctx, p.endpoint.exchangeName, key, p.endpoint.cfg.Mandatory, false, pub)
}
