package rabbitmq

import "errors"

// 预定义错误.
var (
	// ErrNoURL 未配置连接地址.
	ErrNoURL = errors.New("rabbitmq: 连接地址不能为空")

	// ErrNoQueue 消费者未配置队列.
	ErrNoQueue = errors.New("rabbitmq: 消费者需要配置队列")

	// ErrInvalidExchangeType 交换机类型无效.
	ErrInvalidExchangeType = errors.New("rabbitmq: 交换机类型无效")

	// ErrCreateClient 建立连接失败.
	ErrCreateClient = errors.New("rabbitmq: 建立连接失败")

	// ErrSetupChannel 初始化通道失败.
	ErrSetupChannel = errors.New("rabbitmq: 初始化通道失败")

	// ErrSendMessage 发送消息失败.
	ErrSendMessage = errors.New("rabbitmq: 发送消息失败")

	// ErrProducerNotStarted 生产者未启动.
	ErrProducerNotStarted = errors.New("rabbitmq: 生产者未启动")
)
