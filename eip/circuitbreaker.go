package eip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/processor"
)

// CircuitBreakerConfig 断路器配置.
type CircuitBreakerConfig struct {
	// Name 断路器名称.
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	// FailureThreshold 连续失败多少次后打开.
	FailureThreshold uint32 `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// HalfOpenRequests 半开状态允许通过的请求数.
	HalfOpenRequests uint32 `json:"half_open_requests" yaml:"half_open_requests" mapstructure:"half_open_requests"`
	// OpenTimeout 打开状态持续时间.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" mapstructure:"open_timeout"`
	// Interval 关闭状态下清零计数的周期，0 表示不清零.
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
}

// ApplyDefaults 填充默认值.
func (c *CircuitBreakerConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "circuit-breaker"
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
}

// CircuitBreaker 用 gobreaker 保护处理器.
//
// 处理失败或断路器拒绝时执行 fallback（如设置），当前状态写入 CircuitBreakerState 属性.
type CircuitBreaker struct {
	breaker   *gobreaker.CircuitBreaker
	processor processor.Processor
	fallback  processor.Processor
}

// NewCircuitBreaker 创建断路器.
func NewCircuitBreaker(cfg CircuitBreakerConfig, proc processor.Processor) *CircuitBreaker {
	cfg.ApplyDefaults()
	threshold := cfg.FailureThreshold
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.HalfOpenRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		processor: proc,
	}
}

// OnFallback 设置降级处理器.
func (c *CircuitBreaker) OnFallback(p processor.Processor) *CircuitBreaker {
	c.fallback = p
	return c
}

// State 返回当前状态.
func (c *CircuitBreaker) State() string {
	return c.breaker.State().String()
}

// Process 实现 processor.Processor.
func (c *CircuitBreaker) Process(ctx context.Context, ex *exchange.Exchange) error {
	_, err := c.breaker.Execute(func() (any, error) {
		processor.Invoke(ctx, c.processor, ex)
		if failed(ex) {
			if err := ex.Err(); err != nil {
				return nil, err
			}
			return nil, ErrFault
		}
		return nil, nil
	})
	ex.SetProperty(exchange.PropertyCircuitBreakerState, c.State())
	if err == nil {
		return nil
	}

	rejected := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
	if c.fallback != nil {
		ex.ClearErr()
		ex.SetFault(false)
		processor.Invoke(ctx, c.fallback, ex)
		return nil
	}
	if rejected {
		return fmt.Errorf("%w: %s: %w", ErrCircuitOpen, c.breaker.Name(), err)
	}
	return nil
}
