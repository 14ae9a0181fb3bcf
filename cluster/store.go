// Package cluster 提供基于版本化键值存储的集群选主与路由策略.
//
// 选主只依赖 CompareAndSwap：版本为 0 表示仅在键不存在时创建，
// 其他版本要求与存储中的版本一致.
package cluster

import (
	"context"
	"slices"
	"sync"
)

// Entry 版本化的键值.
type Entry struct {
	Key     string
	Value   []byte
	Version uint64
}

// Store 版本化键值存储.
type Store interface {
	// Get 读取键，不存在时返回 nil, nil.
	Get(ctx context.Context, key string) (*Entry, error)
	// CompareAndSwap 版本匹配时写入，version 为 0 表示仅在不存在时创建.
	CompareAndSwap(ctx context.Context, key string, value []byte, version uint64) (bool, error)
	// DeleteCAS 版本匹配时删除.
	DeleteCAS(ctx context.Context, key string, version uint64) (bool, error)
}

// MemoryStore 进程内存储，用于单机与测试.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	version uint64
}

// NewMemoryStore 创建内存存储.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get 实现 Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	e.Value = slices.Clone(e.Value)
	return &e, nil
}

// CompareAndSwap 实现 Store.
func (s *MemoryStore) CompareAndSwap(_ context.Context, key string, value []byte, version uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[key]
	switch {
	case version == 0 && ok:
		return false, nil
	case version != 0 && (!ok || cur.Version != version):
		return false, nil
	}
	s.version++
	s.entries[key] = Entry{Key: key, Value: slices.Clone(value), Version: s.version}
	return true, nil
}

// DeleteCAS 实现 Store.
func (s *MemoryStore) DeleteCAS(_ context.Context, key string, version uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[key]
	if !ok || cur.Version != version {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}
