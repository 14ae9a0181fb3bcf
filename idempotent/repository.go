// Package idempotent 提供幂等仓库与幂等消费者.
//
// 仓库的 Add 对同一键是原子的测试并设置操作：并发调用中只有一个返回 true.
package idempotent

import (
	"context"

	"github.com/Tsukikage7/integration-kit/collections/lrucache"
)

// Repository 幂等仓库.
type Repository interface {
	// Add 键不存在时加入并返回 true，已存在返回 false.
	Add(ctx context.Context, key string) (bool, error)
	// Contains 键是否存在.
	Contains(ctx context.Context, key string) (bool, error)
	// Remove 删除键，键存在时返回 true.
	Remove(ctx context.Context, key string) (bool, error)
	// Confirm 确认键已被成功处理.
	Confirm(ctx context.Context, key string) (bool, error)
	// Clear 清空仓库.
	Clear(ctx context.Context) error
}

// DefaultMemoryCapacity 内存仓库默认容量.
const DefaultMemoryCapacity = 1000

// MemoryRepository 基于 LRU 的内存幂等仓库.
//
// 超出容量时淘汰最久未使用的键，重启后数据丢失.
type MemoryRepository struct {
	cache *lrucache.Cache[string, struct{}]
}

// NewMemoryRepository 创建内存仓库，capacity <= 0 时使用默认容量.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryRepository{cache: lrucache.New[string, struct{}](capacity)}
}

// Add 实现 Repository.
func (r *MemoryRepository) Add(_ context.Context, key string) (bool, error) {
	_, added := r.cache.PutIfAbsent(key, struct{}{})
	return added, nil
}

// Contains 实现 Repository.
func (r *MemoryRepository) Contains(_ context.Context, key string) (bool, error) {
	return r.cache.Contains(key), nil
}

// Remove 实现 Repository.
func (r *MemoryRepository) Remove(_ context.Context, key string) (bool, error) {
	_, ok := r.cache.Remove(key)
	return ok, nil
}

// Confirm 实现 Repository，内存仓库无需确认.
func (r *MemoryRepository) Confirm(context.Context, string) (bool, error) {
	return true, nil
}

// Clear 实现 Repository.
func (r *MemoryRepository) Clear(context.Context) error {
	r.cache.Clear()
	return nil
}

// Len 当前键数量.
func (r *MemoryRepository) Len() int {
	return r.cache.Len()
}

// Capacity 仓库容量.
func (r *MemoryRepository) Capacity() int {
	return r.cache.Capacity()
}
