package app

import (
	"context"
	"fmt"
)

// Stage 生命周期阶段.
type Stage int

// 生命周期阶段.
const (
	BeforeStart Stage = iota
	AfterStart
	BeforeStop
	AfterStop
)

func (s Stage) String() string {
	switch s {
	case BeforeStart:
		return "before-start"
	case AfterStart:
		return "after-start"
	case BeforeStop:
		return "before-stop"
	case AfterStop:
		return "after-stop"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Hook 生命周期钩子函数.
type Hook func(ctx context.Context) error

// On 注册阶段钩子，同一阶段按注册顺序执行，遇到错误即停止.
//
// BeforeStart 钩子失败时应用不启动任何服务.
func On(stage Stage, hooks ...Hook) Option {
	return func(o *options) {
		if o.hooks == nil {
			o.hooks = make(map[Stage][]Hook)
		}
		o.hooks[stage] = append(o.hooks[stage], hooks...)
	}
}

func (o *options) runHooks(ctx context.Context, stage Stage) error {
	for _, hook := range o.hooks[stage] {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("app: %s 钩子失败: %w", stage, err)
		}
	}
	return nil
}
