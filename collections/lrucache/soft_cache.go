package lrucache

import "weak"

// reference 可被回收的值引用.
type reference[V any] interface {
	// Value 返回引用的值，已被回收时返回 nil.
	Value() *V
}

type weakReference[V any] struct {
	ptr weak.Pointer[V]
}

func (r weakReference[V]) Value() *V {
	return r.ptr.Value()
}

func newWeakReference[V any](v *V) reference[V] {
	return weakReference[V]{ptr: weak.Make(v)}
}

// SoftCache 通过弱引用保存值的 LRU 缓存.
//
// 调用方不再持有的值在下一次 GC 时被回收，回收后 Get 视为未命中并删除映射.
// 回收时机不看内存压力，值只在仍被其他地方引用时才能命中.
// 容量上限与淘汰顺序与 Cache 相同.
type SoftCache[K comparable, V any] struct {
	cache     *Cache[K, reference[V]]
	reference func(*V) reference[V]
}

// NewSoft 创建弱引用 LRU 缓存.
func NewSoft[K comparable, V any](capacity int) *SoftCache[K, V] {
	return &SoftCache[K, V]{
		cache:     New[K, reference[V]](capacity),
		reference: newWeakReference[V],
	}
}

// Get 获取存活的值.
func (c *SoftCache[K, V]) Get(key K) (*V, bool) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	e, ok := c.cache.cache[key]
	if !ok {
		c.cache.stats.misses.Add(1)
		return nil, false
	}
	v := e.value.Value()
	if v == nil {
		c.cache.removeEntry(e)
		delete(c.cache.cache, key)
		c.cache.stats.misses.Add(1)
		return nil, false
	}
	c.cache.moveToFront(e)
	c.cache.stats.hits.Add(1)
	return v, true
}

// Put 写入值，返回仍然存活的旧值.
func (c *SoftCache[K, V]) Put(key K, value *V) (*V, bool) {
	prev, ok := c.cache.Put(key, c.reference(value))
	if !ok {
		return nil, false
	}
	if v := prev.Value(); v != nil {
		return v, true
	}
	return nil, false
}

// Contains 键存在且值未被回收.
func (c *SoftCache[K, V]) Contains(key K) bool {
	ref, ok := c.cache.Peek(key)
	return ok && ref.Value() != nil
}

// Remove 删除映射.
func (c *SoftCache[K, V]) Remove(key K) bool {
	_, ok := c.cache.Remove(key)
	return ok
}

// Len 映射数量，包括尚未清理的已回收值.
func (c *SoftCache[K, V]) Len() int {
	return c.cache.Len()
}

// Capacity 返回缓存容量.
func (c *SoftCache[K, V]) Capacity() int {
	return c.cache.Capacity()
}

// Clear 清空缓存.
func (c *SoftCache[K, V]) Clear() {
	c.cache.Clear()
}

// Stats 返回命中统计.
func (c *SoftCache[K, V]) Stats() Stats {
	return c.cache.Stats()
}
