package rabbitmq

import (
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
)

// 消息头名.
const (
	HeaderExchange    = "rabbitmq.EXCHANGE"
	HeaderRoutingKey  = "rabbitmq.ROUTING_KEY"
	HeaderDeliveryTag = "rabbitmq.DELIVERY_TAG"
	HeaderRedelivered = "rabbitmq.REDELIVERED"
	HeaderMessageID   = "rabbitmq.MESSAGE_ID"

	headerPrefix = "rabbitmq."
)

// toPublishing 将当前消息转换为 AMQP 消息.
//
// AMQP 表不支持的头部值先转换为字符串，无法转换的忽略.
func toPublishing(ex *exchange.Exchange, persistent bool) (amqp.Publishing, error) {
	msg := ex.Message()
	reg := ex.TypeConverter()

	body, err := converter.To[[]byte](reg, msg.Body())
	if err != nil {
		return amqp.Publishing{}, err
	}
	pub := amqp.Publishing{
		Body:      body,
		MessageId: msg.MessageID(),
		Timestamp: time.Now(),
	}
	if persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	if id, ok := ex.Property(exchange.PropertyCorrelationID); ok {
		pub.CorrelationId, _ = id.(string)
	}

	for k, v := range msg.Headers() {
		switch {
		case k == exchange.HeaderContentType:
			pub.ContentType, _ = v.(string)
			continue
		case strings.HasPrefix(k, headerPrefix), v == nil:
			continue
		}
		if pub.Headers == nil {
			pub.Headers = make(amqp.Table)
		}
		if tableValue(v) {
			pub.Headers[k] = v
		} else if s, err := converter.To[string](reg, v); err == nil {
			pub.Headers[k] = s
		}
	}
	return pub, nil
}

func tableValue(v any) bool {
	switch v.(type) {
	case bool, int8, int16, int32, int64, int, float32, float64, string, []byte, time.Time:
		return true
	}
	return false
}

// fromDelivery 将投递写入 Exchange 的 in 消息.
func fromDelivery(ex *exchange.Exchange, d amqp.Delivery) {
	in := ex.In()
	for k, v := range d.Headers {
		in.SetHeader(k, v)
	}
	in.SetHeader(HeaderExchange, d.Exchange)
	in.SetHeader(HeaderRoutingKey, d.RoutingKey)
	in.SetHeader(HeaderDeliveryTag, d.DeliveryTag)
	in.SetHeader(HeaderRedelivered, d.Redelivered)
	if d.MessageId != "" {
		in.SetHeader(HeaderMessageID, d.MessageId)
		in.SetMessageID(d.MessageId)
	}
	if d.ContentType != "" {
		in.SetHeader(exchange.HeaderContentType, d.ContentType)
	}
	if d.CorrelationId != "" {
		ex.SetProperty(exchange.PropertyCorrelationID, d.CorrelationId)
	}
	in.SetBody(d.Body)
}
