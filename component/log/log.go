// Package log 提供输出 Exchange 内容的日志端点.
//
//	log:orders?level=info&showHeaders=true&showProperties=false
//	log:throughput?groupSize=100
package log

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
)

// Scheme 组件 scheme.
const Scheme = "log"

// Config 端点配置.
type Config struct {
	// Level 日志级别：debug、info、warn、error.
	Level string
	// ShowBody 输出消息体.
	ShowBody bool
	// ShowHeaders 输出消息头.
	ShowHeaders bool
	// ShowProperties 输出 Exchange 属性.
	ShowProperties bool
	// ShowPattern 输出交换模式.
	ShowPattern bool
	// MaxChars 消息体最大输出字符数，0 表示不限制.
	MaxChars int
	// GroupSize 大于 0 时只按批次输出吞吐量.
	GroupSize int
}

// Component log 组件.
type Component struct {
	logger logger.Logger
}

// New 创建 log 组件，log 为 nil 时使用引擎日志记录器.
func New(log logger.Logger) *Component {
	return &Component{logger: log}
}

// CreateEndpoint 实现 component.Component.
func (c *Component) CreateEndpoint(uri, remaining string, params component.Parameters) (component.Endpoint, error) {
	cfg := Config{Level: "info", ShowBody: true, ShowPattern: true, MaxChars: 1000}
	err := component.NewBinder().
		String("level", &cfg.Level).
		Bool("showBody", &cfg.ShowBody).
		Bool("showHeaders", &cfg.ShowHeaders).
		Bool("showProperties", &cfg.ShowProperties).
		Bool("showPattern", &cfg.ShowPattern).
		Int("maxChars", &cfg.MaxChars).
		Int("groupSize", &cfg.GroupSize).
		Bind(params)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
		cfg.Level = strings.ToLower(cfg.Level)
	default:
		return nil, &component.InvalidParameterError{Key: "level", Value: cfg.Level, Err: fmt.Errorf("未知的日志级别")}
	}

	return &Endpoint{
		EndpointBase: component.NewEndpointBase(uri),
		comp:         c,
		name:         remaining,
		cfg:          cfg,
	}, nil
}

// Endpoint log 端点.
type Endpoint struct {
	component.EndpointBase
	comp *Component
	name string
	cfg  Config
}

// CreateProducer 实现 component.ProducerCapable.
func (e *Endpoint) CreateProducer() (component.Producer, error) {
	log := e.comp.logger
	if log == nil {
		log = e.Logger()
	}
	return &Producer{endpoint: e, logger: log}, nil
}

// Producer log 生产者.
type Producer struct {
	endpoint *Endpoint
	logger   logger.Logger

	mu    sync.Mutex
	count int64
}

// Endpoint 实现 component.Producer.
func (p *Producer) Endpoint() component.Endpoint {
	return p.endpoint
}

// Process 实现 processor.Processor.
func (p *Producer) Process(ctx context.Context, ex *exchange.Exchange) error {
	cfg := p.endpoint.cfg
	if cfg.GroupSize > 0 {
		p.mu.Lock()
		p.count++
		n := p.count
		p.mu.Unlock()
		if n%int64(cfg.GroupSize) == 0 {
			p.write(ctx, fmt.Sprintf("[%s] 已收到 %d 条消息", p.endpoint.name, n))
		}
		return nil
	}
	p.write(ctx, fmt.Sprintf("[%s] %s", p.endpoint.name, Format(ex, cfg)))
	return nil
}

func (p *Producer) write(ctx context.Context, msg string) {
	l := p.logger.WithContext(ctx)
	switch p.endpoint.cfg.Level {
	case "debug":
		l.Debug(msg)
	case "warn":
		l.Warn(msg)
	case "error":
		l.Error(msg)
	default:
		l.Info(msg)
	}
}

// Format 按配置格式化 Exchange.
func Format(ex *exchange.Exchange, cfg Config) string {
	var parts []string
	if cfg.ShowPattern {
		parts = append(parts, "Pattern: "+ex.Pattern().String())
	}
	msg := ex.Message()
	if cfg.ShowProperties {
		parts = append(parts, "Properties: "+formatMap(ex.Properties()))
	}
	if cfg.ShowHeaders {
		parts = append(parts, "Headers: "+formatMap(msg.Headers()))
	}
	if cfg.ShowBody {
		body := formatBody(msg.Body())
		if cfg.MaxChars > 0 && len(body) > cfg.MaxChars {
			body = body[:cfg.MaxChars] + "..."
		}
		parts = append(parts, "Body: "+body)
	}
	return "Exchange[" + strings.Join(parts, ", ") + "]"
}

func formatBody(body any) string {
	switch b := body.(type) {
	case nil:
		return "[Body is null]"
	case []byte:
		return string(b)
	default:
		return fmt.Sprint(b)
	}
}

func formatMap(m map[string]any) string {
	keys := slices.Sorted(maps.Keys(m))
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, m[k])
	}
	b.WriteByte('}')
	return b.String()
}
