package route

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ShutdownMode 停止路由时对未完成 Exchange 的处理方式.
type ShutdownMode string

const (
	// ShutdownGraceful 等待未完成的 Exchange 结束，超时后取消.
	ShutdownGraceful ShutdownMode = "graceful"
	// ShutdownNow 立即取消未完成 Exchange 的 context.
	ShutdownNow ShutdownMode = "now"
)

// ParseShutdownMode 解析停止模式，大小写不敏感.
func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch ShutdownMode(strings.ToLower(s)) {
	case "", ShutdownGraceful:
		return ShutdownGraceful, nil
	case ShutdownNow:
		return ShutdownNow, nil
	default:
		return "", fmt.Errorf("route: 未知的停止模式 %q", s)
	}
}

// ShutdownStrategy 停止策略.
type ShutdownStrategy struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Mode    ShutdownMode  `json:"mode" yaml:"mode" mapstructure:"mode"`
}

// DefaultShutdownStrategy 返回默认策略：优雅停止，超时 45s.
func DefaultShutdownStrategy() ShutdownStrategy {
	return ShutdownStrategy{Timeout: 45 * time.Second, Mode: ShutdownGraceful}
}

// inflightTracker 跟踪路由中未完成的 Exchange 及其取消函数.
type inflightTracker struct {
	mu      sync.Mutex
	seq     uint64
	cancels map[uint64]context.CancelFunc
	drained chan struct{}
}

func newInflightTracker() *inflightTracker {
	t := &inflightTracker{cancels: make(map[uint64]context.CancelFunc), drained: make(chan struct{})}
	close(t.drained)
	return t
}

func (t *inflightTracker) add(cancel context.CancelFunc) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.cancels) == 0 {
		t.drained = make(chan struct{})
	}
	t.seq++
	t.cancels[t.seq] = cancel
	return t.seq
}

func (t *inflightTracker) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cancels[id]; !ok {
		return
	}
	delete(t.cancels, id)
	if len(t.cancels) == 0 {
		close(t.drained)
	}
}

func (t *inflightTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancels)
}

func (t *inflightTracker) cancelAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cancel := range t.cancels {
		cancel()
	}
	return len(t.cancels)
}

// wait 等待全部 Exchange 结束，ctx 结束时返回 false.
func (t *inflightTracker) wait(ctx context.Context) bool {
	t.mu.Lock()
	drained := t.drained
	t.mu.Unlock()
	select {
	case <-drained:
		return true
	case <-ctx.Done():
		return false
	}
}
