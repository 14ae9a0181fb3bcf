package kafka

import (
	"context"
	"strconv"
	"strings"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
)

// 消息头名.
const (
	HeaderTopic         = "kafka.TOPIC"
	HeaderPartition     = "kafka.PARTITION"
	HeaderOffset        = "kafka.OFFSET"
	HeaderKey           = "kafka.KEY"
	HeaderTimestamp     = "kafka.TIMESTAMP"
	HeaderOverrideTopic = "kafka.OVERRIDE_TOPIC"

	headerPrefix = "kafka."
)

const tracerName = "github.com/Tsukikage7/integration-kit/component/kafka"

// toProducerMessage 将当前消息转换为 sarama 消息.
//
// 以 kafka. 开头的头部不发送；值无法转换为字符串的头部被忽略.
func toProducerMessage(ex *exchange.Exchange, topic, key string) (*sarama.ProducerMessage, error) {
	msg := ex.Message()
	reg := ex.TypeConverter()

	if override, ok := msg.RemoveHeader(HeaderOverrideTopic); ok {
		if s, _ := override.(string); s != "" {
			topic = s
		}
	}
	if v, ok := msg.Header(HeaderKey); ok {
		if s, err := converter.To[string](reg, v); err == nil {
			key = s
		}
	}

	value, err := converter.To[[]byte](reg, msg.Body())
	if err != nil {
		return nil, err
	}

	pm := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		pm.Key = sarama.StringEncoder(key)
	}
	for k, v := range msg.Headers() {
		if strings.HasPrefix(k, headerPrefix) || v == nil {
			continue
		}
		s, err := converter.To[string](reg, v)
		if err != nil {
			continue
		}
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(s)})
	}
	return pm, nil
}

// fromConsumerMessage 将 sarama 消息写入 Exchange 的 in 消息.
func fromConsumerMessage(ex *exchange.Exchange, m *sarama.ConsumerMessage) {
	in := ex.In()
	for _, h := range m.Headers {
		if h == nil {
			continue
		}
		in.SetHeader(string(h.Key), string(h.Value))
	}
	in.SetHeader(HeaderTopic, m.Topic)
	in.SetHeader(HeaderPartition, m.Partition)
	in.SetHeader(HeaderOffset, m.Offset)
	if len(m.Key) > 0 {
		in.SetHeader(HeaderKey, string(m.Key))
	}
	if !m.Timestamp.IsZero() {
		in.SetHeader(HeaderTimestamp, m.Timestamp)
	}
	in.SetBody(m.Value)
}

// headerCarrier 以 sarama 头部实现 propagation.TextMapCarrier.
type headerCarrier struct {
	headers *[]sarama.RecordHeader
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if string(h.Key) == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}

// consumerHeaders 将消费消息头转为可传播的切片.
func consumerHeaders(m *sarama.ConsumerMessage) []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, len(m.Headers))
	for _, h := range m.Headers {
		if h != nil {
			headers = append(headers, *h)
		}
	}
	return headers
}

func startProducerSpan(ctx context.Context, pm *sarama.ProducerMessage) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "kafka.produce",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", pm.Topic),
			attribute.String("messaging.operation", "publish"),
		),
	)
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &pm.Headers})
	return ctx, span
}

func startConsumerSpan(ctx context.Context, m *sarama.ConsumerMessage) (context.Context, trace.Span) {
	headers := consumerHeaders(m)
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &headers})
	return otel.Tracer(tracerName).Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", m.Topic),
			attribute.String("messaging.operation", "receive"),
			attribute.Int64("messaging.kafka.partition", int64(m.Partition)),
			attribute.Int64("messaging.kafka.offset", m.Offset),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func formatOffset(partition int32, offset int64) string {
	return strconv.Itoa(int(partition)) + "/" + strconv.FormatInt(offset, 10)
}
