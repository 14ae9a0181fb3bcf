// Package kafka 提供基于 IBM/sarama 的 Kafka 端点.
//
// 生产者使用同步生产者发送当前消息，消费者以消费者组方式消费并在处理完成后手动提交偏移量.
// 创建端点不会建立连接，连接在生产者或消费者 Start 时建立.
//
//	kafka:orders?brokers=localhost:9092&groupId=order-service&autoOffsetReset=earliest
package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Scheme 组件 scheme.
const Scheme = "kafka"

// Config 端点配置.
type Config struct {
	// Brokers broker 地址列表.
	Brokers []string
	// GroupID 消费者组 ID，消费者必填.
	GroupID string
	// ClientID 客户端标识.
	ClientID string
	// AutoOffsetReset 无已提交偏移量时的起始位置：earliest 或 latest.
	AutoOffsetReset string
	// Key 固定消息键，可被 kafka.KEY 头覆盖.
	Key string
	// BreakOnFirstError 处理失败时不提交偏移量并结束本轮会话，消息会被重新消费.
	BreakOnFirstError bool
	// ReconnectBackoffMax 消费循环重连的最大退避时间.
	ReconnectBackoffMax time.Duration
}

// DefaultConfig 返回默认配置.
func DefaultConfig() Config {
	return Config{
		ClientID:            "integration-kit",
		AutoOffsetReset:     "latest",
		ReconnectBackoffMax: 30 * time.Second,
	}
}

// ProducerFactory 创建同步生产者.
type ProducerFactory func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error)

// ConsumerGroupFactory 创建消费者组.
type ConsumerGroupFactory func(brokers []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error)

// Option 组件选项.
type Option func(*Component)

// WithBrokers 设置组件级默认 broker，端点未配置 brokers 时使用.
func WithBrokers(brokers ...string) Option {
	return func(c *Component) {
		c.brokers = brokers
	}
}

// WithProducerFactory 替换生产者工厂.
func WithProducerFactory(f ProducerFactory) Option {
	return func(c *Component) {
		c.newProducer = f
	}
}

// WithConsumerGroupFactory 替换消费者组工厂.
func WithConsumerGroupFactory(f ConsumerGroupFactory) Option {
	return func(c *Component) {
		c.newConsumerGroup = f
	}
}

// Component kafka 组件.
type Component struct {
	brokers          []string
	newProducer      ProducerFactory
	newConsumerGroup ConsumerGroupFactory
}

// New 创建 kafka 组件.
func New(opts ...Option) *Component {
	c := &Component{
		newProducer:      sarama.NewSyncProducer,
		newConsumerGroup: sarama.NewConsumerGroup,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateEndpoint 实现 component.Component.
func (c *Component) CreateEndpoint(uri, remaining string, params component.Parameters) (component.Endpoint, error) {
	if remaining == "" {
		return nil, &component.ResolveEndpointError{URI: uri, Err: ErrEmptyTopic}
	}
	cfg := DefaultConfig()
	cfg.Brokers = c.brokers
	err := component.NewBinder().
		StringSlice("brokers", &cfg.Brokers).
		String("groupId", &cfg.GroupID).
		String("clientId", &cfg.ClientID).
		String("autoOffsetReset", &cfg.AutoOffsetReset).
		String("key", &cfg.Key).
		Bool("breakOnFirstError", &cfg.BreakOnFirstError).
		Duration("reconnectBackoffMax", &cfg.ReconnectBackoffMax).
		Bind(params)
	if err != nil {
		return nil, err
	}
	if len(cfg.Brokers) == 0 {
		return nil, &component.ResolveEndpointError{URI: uri, Err: ErrNoBrokers}
	}
	cfg.AutoOffsetReset = strings.ToLower(cfg.AutoOffsetReset)
	if cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest" {
		return nil, &component.InvalidParameterError{Key: "autoOffsetReset", Value: cfg.AutoOffsetReset, Err: ErrInvalidOffsetReset}
	}

	return &Endpoint{
		EndpointBase: component.NewEndpointBase(uri),
		comp:         c,
		topic:        remaining,
		cfg:          cfg,
	}, nil
}

// Endpoint kafka 端点，路径部分为主题.
type Endpoint struct {
	component.EndpointBase
	comp  *Component
	topic string
	cfg   Config
}

// Topic 返回主题.
func (e *Endpoint) Topic() string {
	return e.topic
}

// Config 返回端点配置.
func (e *Endpoint) Config() Config {
	return e.cfg
}

// CreateProducer 实现 component.ProducerCapable.
func (e *Endpoint) CreateProducer() (component.Producer, error) {
	return &Producer{endpoint: e}, nil
}

// CreateConsumer 实现 component.ConsumerCapable.
func (e *Endpoint) CreateConsumer(p processor.Processor) (component.Consumer, error) {
	if e.cfg.GroupID == "" {
		return nil, &component.ResolveEndpointError{URI: e.URI(), Err: ErrEmptyGroupID}
	}
	return &Consumer{endpoint: e, processor: p}, nil
}

// producerConfig 生产者配置：幂等写入，等待所有副本确认.
func (e *Endpoint) producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = e.cfg.ClientID
	cfg.Version = sarama.V3_8_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// consumerConfig 消费者配置：关闭自动提交，处理完成后手动提交.
func (e *Endpoint) consumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = e.cfg.ClientID
	cfg.Version = sarama.V3_8_0_0
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if e.cfg.AutoOffsetReset == "earliest" {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	return cfg
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("kafka[%s]", e.topic)
}
