package route

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Tsukikage7/integration-kit/logger"
)

// SupervisorConfig 路由自动重启配置.
type SupervisorConfig struct {
	// Enabled 是否启用.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// InitialDelay 首次重启前的等待时间.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay" mapstructure:"initial_delay"`
	// BackOffDelay 重启失败后的初始退避.
	BackOffDelay time.Duration `json:"back_off_delay" yaml:"back_off_delay" mapstructure:"back_off_delay"`
	// BackOffMaxDelay 最大退避.
	BackOffMaxDelay time.Duration `json:"back_off_max_delay" yaml:"back_off_max_delay" mapstructure:"back_off_max_delay"`
	// BackOffMultiplier 退避倍数.
	BackOffMultiplier float64 `json:"back_off_multiplier" yaml:"back_off_multiplier" mapstructure:"back_off_multiplier"`
	// MaxAttempts 最大重启次数，0 表示不限.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ApplyDefaults 应用默认值.
func (c *SupervisorConfig) ApplyDefaults() {
	if c.InitialDelay == 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.BackOffDelay == 0 {
		c.BackOffDelay = 2 * time.Second
	}
	if c.BackOffMaxDelay == 0 {
		c.BackOffMaxDelay = time.Minute
	}
	if c.BackOffMultiplier < 1 {
		c.BackOffMultiplier = 2
	}
}

// Supervisor 监督路由，失败后按指数退避自动重启.
type Supervisor struct {
	cfg SupervisorConfig
	log logger.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	restarting map[string]bool
	attempts   map[string]int
	onGiveUp   func(r *Route, err error)
	wg         sync.WaitGroup
}

// SupervisorOption Supervisor 选项.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger 设置日志记录器.
func WithSupervisorLogger(log logger.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// OnGiveUp 设置重启次数耗尽时的回调.
func OnGiveUp(fn func(r *Route, err error)) SupervisorOption {
	return func(s *Supervisor) { s.onGiveUp = fn }
}

// NewSupervisor 创建 Supervisor.
func NewSupervisor(cfg SupervisorConfig, opts ...SupervisorOption) *Supervisor {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		restarting: make(map[string]bool),
		attempts:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log)
	return s
}

// Watch 开始监督路由.
func (s *Supervisor) Watch(r *Route) {
	r.OnStatusChange(func(r *Route, _, to Status) {
		if to == Failed {
			s.schedule(r)
		}
	})
}

// Attempts 返回路由最近一轮的重启次数.
func (s *Supervisor) Attempts(routeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[routeID]
}

// Close 停止所有待执行的重启并等待其退出.
func (s *Supervisor) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) schedule(r *Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restarting[r.ID()] || s.ctx.Err() != nil {
		return
	}
	s.restarting[r.ID()] = true
	s.attempts[r.ID()] = 0
	s.wg.Add(1)
	go s.restart(r)
}

func (s *Supervisor) restart(r *Route) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.restarting, r.ID())
		s.mu.Unlock()
	}()

	log := s.log.With(logger.RouteID(r.ID()))
	t := time.NewTimer(s.cfg.InitialDelay)
	select {
	case <-t.C:
	case <-s.ctx.Done():
		t.Stop()
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.BackOffDelay
	bo.MaxInterval = s.cfg.BackOffMaxDelay
	bo.Multiplier = s.cfg.BackOffMultiplier

	opts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.With(logger.Err(err), logger.Duration("retryIn", next)).Warn("[Supervisor] 路由重启失败")
		}),
	}
	if s.cfg.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(s.cfg.MaxAttempts)))
	}

	_, err := backoff.Retry(s.ctx, func() (struct{}, error) {
		s.mu.Lock()
		s.attempts[r.ID()]++
		attempt := s.attempts[r.ID()]
		s.mu.Unlock()

		log.Infof("[Supervisor] 重启路由: id=%s, attempt=%d", r.ID(), attempt)
		err := r.Start(s.ctx)
		var te *TransitionError
		if errors.As(err, &te) {
			// 路由已被其他操作接管
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)

	switch {
	case err == nil:
		log.Infof("[Supervisor] 路由已恢复: id=%s", r.ID())
	case s.ctx.Err() != nil:
	default:
		log.With(logger.Err(err)).Error("[Supervisor] 放弃重启路由")
		if s.onGiveUp != nil {
			s.onGiveUp(r, err)
		}
	}
}
