package kafka

import "errors"

// 预定义错误.
var (
	// ErrNoBrokers 未配置 broker 地址.
	ErrNoBrokers = errors.New("kafka: broker 地址不能为空")

	// ErrEmptyTopic 主题为空.
	ErrEmptyTopic = errors.New("kafka: 主题不能为空")

	// ErrEmptyGroupID 消费者组 ID 为空.
	ErrEmptyGroupID = errors.New("kafka: 消费者组ID不能为空")

	// ErrCreateProducer 创建生产者失败.
	ErrCreateProducer = errors.New("kafka: 创建生产者失败")

	// ErrCreateConsumer 创建消费者失败.
	ErrCreateConsumer = errors.New("kafka: 创建消费者失败")

	// ErrSendMessage 发送消息失败.
	ErrSendMessage = errors.New("kafka: 发送消息失败")

	// ErrProducerNotStarted 生产者未启动.
	ErrProducerNotStarted = errors.New("kafka: 生产者未启动")

	// ErrProcessingFailed 消息处理失败.
	ErrProcessingFailed = errors.New("kafka: 消息处理失败")

	// ErrInvalidOffsetReset autoOffsetReset 取值无效.
	ErrInvalidOffsetReset = errors.New("kafka: autoOffsetReset 只能为 earliest 或 latest")
)
