package errorhandler

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// RedeliveryPolicy 重投递策略.
//
// MaximumRedeliveries 为 -1 时无限重投递，0 表示不重投递.
// 设置 DelayPattern 后忽略 RedeliveryDelay、指数退避与碰撞避免.
type RedeliveryPolicy struct {
	MaximumRedeliveries      int           `json:"maximum_redeliveries" yaml:"maximum_redeliveries" mapstructure:"maximum_redeliveries"`
	RedeliveryDelay          time.Duration `json:"redelivery_delay" yaml:"redelivery_delay" mapstructure:"redelivery_delay"`
	MaximumRedeliveryDelay   time.Duration `json:"maximum_redelivery_delay" yaml:"maximum_redelivery_delay" mapstructure:"maximum_redelivery_delay"`
	BackOffMultiplier        float64       `json:"back_off_multiplier" yaml:"back_off_multiplier" mapstructure:"back_off_multiplier"`
	UseExponentialBackOff    bool          `json:"use_exponential_back_off" yaml:"use_exponential_back_off" mapstructure:"use_exponential_back_off"`
	CollisionAvoidanceFactor float64       `json:"collision_avoidance_factor" yaml:"collision_avoidance_factor" mapstructure:"collision_avoidance_factor"`
	UseCollisionAvoidance    bool          `json:"use_collision_avoidance" yaml:"use_collision_avoidance" mapstructure:"use_collision_avoidance"`
	// DelayPattern 形如 "0:1000;5:5000"，第 0~4 次重投递延迟 1s，第 5 次起延迟 5s.
	DelayPattern string `json:"delay_pattern" yaml:"delay_pattern" mapstructure:"delay_pattern"`
}

// DefaultRedeliveryPolicy 返回默认策略：不重投递，延迟 1s，最大延迟 60s，倍数 2，碰撞因子 0.15.
func DefaultRedeliveryPolicy() RedeliveryPolicy {
	return RedeliveryPolicy{
		RedeliveryDelay:          time.Second,
		MaximumRedeliveryDelay:   time.Minute,
		BackOffMultiplier:        2,
		CollisionAvoidanceFactor: 0.15,
	}
}

// Validate 验证策略.
func (p RedeliveryPolicy) Validate() error {
	if p.DelayPattern != "" {
		if _, err := parseDelayPattern(p.DelayPattern); err != nil {
			return err
		}
	}
	if p.RedeliveryDelay < 0 || p.MaximumRedeliveryDelay < 0 {
		return fmt.Errorf("%w: 延迟不能为负数", ErrInvalidDelayPattern)
	}
	return nil
}

// ShouldRedeliver counter 为即将进行的第几次重投递（从 1 开始）.
func (p RedeliveryPolicy) ShouldRedeliver(counter int) bool {
	if p.MaximumRedeliveries < 0 {
		return true
	}
	return counter <= p.MaximumRedeliveries
}

// NextDelay 根据上一次延迟计算第 counter 次重投递的延迟.
func (p RedeliveryPolicy) NextDelay(prev time.Duration, counter int) time.Duration {
	if p.DelayPattern != "" {
		steps, err := parseDelayPattern(p.DelayPattern)
		if err != nil {
			return 0
		}
		return delayFromPattern(steps, counter)
	}

	var delay float64
	switch {
	case prev == 0:
		delay = float64(p.RedeliveryDelay)
	case p.UseExponentialBackOff && p.BackOffMultiplier > 1:
		delay = math.Round(p.BackOffMultiplier * float64(prev))
	default:
		delay = float64(prev)
	}

	if p.UseCollisionAvoidance {
		variance := p.CollisionAvoidanceFactor * rand.Float64()
		if rand.IntN(2) == 0 {
			variance = -variance
		}
		delay += delay * variance
	}

	if p.MaximumRedeliveryDelay > 0 && delay > float64(p.MaximumRedeliveryDelay) {
		return p.MaximumRedeliveryDelay
	}
	return time.Duration(delay)
}

type delayStep struct {
	from  int
	delay time.Duration
}

func parseDelayPattern(pattern string) ([]delayStep, error) {
	var steps []delayStep
	for group := range strings.SplitSeq(pattern, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		count, ms, ok := strings.Cut(group, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDelayPattern, group)
		}
		from, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidDelayPattern, group, err)
		}
		d, err := strconv.ParseInt(strings.TrimSpace(ms), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidDelayPattern, group, err)
		}
		steps = append(steps, delayStep{from: from, delay: time.Duration(d) * time.Millisecond})
	}
	return steps, nil
}

func delayFromPattern(steps []delayStep, counter int) time.Duration {
	var delay time.Duration
	for _, s := range steps {
		if s.from > counter {
			break
		}
		delay = s.delay
	}
	return delay
}
