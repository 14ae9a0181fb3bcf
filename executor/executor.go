// Package executor 提供引擎持有的有界工作池.
//
// 工作池固定 worker 数量并带有界队列，用于并行分发与异步消费.
//
//	pool := executor.NewPool("multicast", executor.WithWorkers(8))
//	if err := pool.Submit(ctx, task); err != nil {
//	    return err
//	}
//	defer pool.Shutdown(ctx)
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Tsukikage7/integration-kit/logger"
)

// 预定义错误.
var (
	// ErrPoolShutdown 工作池已关闭.
	ErrPoolShutdown = errors.New("executor: 工作池已关闭")

	// ErrQueueFull 队列已满.
	ErrQueueFull = errors.New("executor: 队列已满")

	// ErrNilTask 任务为空.
	ErrNilTask = errors.New("executor: 任务为空")
)

// 默认配置.
const (
	DefaultWorkers   = 10
	DefaultQueueSize = 1000
)

// Stats 工作池统计.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
	Queued    int    `json:"queued"`
	Active    int64  `json:"active"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Rejected  int64  `json:"rejected"`
	Panics    int64  `json:"panics"`
}

type options struct {
	workers   int
	queueSize int
	logger    logger.Logger
}

// Option 工作池选项.
type Option func(*options)

// WithWorkers 设置 worker 数量.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize 设置队列容量.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// Pool 固定大小工作池.
type Pool struct {
	name  string
	opts  options
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	active    atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// NewPool 创建并启动工作池.
func NewPool(name string, opts ...Option) *Pool {
	o := options{workers: DefaultWorkers, queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logger.OrNop(o.logger)

	p := &Pool{
		name:  name,
		opts:  o,
		tasks: make(chan func(), o.queueSize),
	}
	for range o.workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Name 返回工作池名称.
func (p *Pool) Name() string {
	return p.name
}

// Workers 返回 worker 数量.
func (p *Pool) Workers() int {
	return p.opts.workers
}

// Submit 提交任务，队列满时阻塞直到有空位或 ctx 取消.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if task == nil {
		return ErrNilTask
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejected.Add(1)
		return ErrPoolShutdown
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// TrySubmit 非阻塞提交任务，队列满时返回 ErrQueueFull.
func (p *Pool) TrySubmit(task func()) error {
	if task == nil {
		return ErrNilTask
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejected.Add(1)
		return ErrPoolShutdown
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrQueueFull, p.name)
	}
}

// Shutdown 停止接收任务并等待已提交任务完成.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 返回统计快照.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.opts.workers,
		QueueSize: p.opts.queueSize,
		Queued:    len(p.tasks),
		Active:    p.active.Load(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.opts.logger.Errorf("[Executor] 任务 panic: pool=%s, panic=%v", p.name, r)
		}
	}()
	task()
}

// Registry 命名工作池注册表.
type Registry struct {
	mu       sync.Mutex
	pools    map[string]*Pool
	defaults []Option
}

// NewRegistry 创建工作池注册表，defaults 用于按需创建的工作池.
func NewRegistry(defaults ...Option) *Registry {
	return &Registry{pools: make(map[string]*Pool), defaults: defaults}
}

// Pool 返回命名工作池，不存在时创建.
func (r *Registry) Pool(name string, opts ...Option) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[name]; ok {
		return p
	}
	p := NewPool(name, append(append([]Option(nil), r.defaults...), opts...)...)
	r.pools[name] = p
	return p
}

// Stats 返回所有工作池的统计.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p.Stats())
	}
	return out
}

// Shutdown 关闭所有工作池.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	var errs []error
	for _, p := range pools {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("executor: 关闭工作池 %s 失败: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}
