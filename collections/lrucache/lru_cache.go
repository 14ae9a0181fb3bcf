// Package lrucache 提供 LRU (Least Recently Used) 缓存实现.
//
// Cache 强引用保存值，SoftCache 通过 weak.Pointer 保存值，值被 GC 回收后视为未命中.
//
// SoftCache 的值在不可达后的第一次 GC 即被回收，与内存压力无关：
// 它只缓存调用方仍在别处持有的值，不能作为内存充足时保留冷数据的缓存.
package lrucache

import (
	"sync"
	"sync/atomic"
)

// entry 双向链表节点.
type entry[K comparable, V any] struct {
	key   K
	value V
	prev  *entry[K, V]
	next  *entry[K, V]
}

// Stats 命中统计.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type counters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Option 缓存选项.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEvictionCallback 设置淘汰回调，在持有锁时调用，回调内不得访问缓存.
func WithEvictionCallback[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// Cache LRU 缓存.
//
// 基于哈希表 + 双向链表实现，Get/Put 操作时间复杂度 O(1).
// 当缓存满时，自动淘汰最近最少使用的元素.
// 线程安全.
//
// 示例:
//
//	cache := lrucache.New[string, int](100)
//	cache.Put("a", 1)
//	cache.Put("b", 2)
//	val, ok := cache.Get("a") // 1, true
type Cache[K comparable, V any] struct {
	capacity int
	cache    map[K]*entry[K, V]
	head     *entry[K, V] // 最近使用
	tail     *entry[K, V] // 最久未使用
	onEvict  func(key K, value V)
	stats    counters
	mu       sync.Mutex
}

// New 创建 LRU 缓存.
// capacity 小于等于 0 时按 1 处理.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}

	// 使用哨兵节点简化边界处理
	head := &entry[K, V]{}
	tail := &entry[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		cache:    make(map[K]*entry[K, V], capacity),
		head:     head,
		tail:     tail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 获取缓存值.
// 如果键存在，会将其移动到最近使用位置.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		c.moveToFront(e)
		c.stats.hits.Add(1)
		return e.value, true
	}

	c.stats.misses.Add(1)
	var zero V
	return zero, false
}

// Put 设置缓存值，返回旧值.
// 如果缓存满，淘汰最久未使用的元素.
func (c *Cache[K, V]) Put(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		prev := e.value
		e.value = value
		c.moveToFront(e)
		return prev, true
	}

	c.insert(key, value)
	var zero V
	return zero, false
}

// PutIfAbsent 键不存在时写入并返回 true，存在时返回已有值与 false.
func (c *Cache[K, V]) PutIfAbsent(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		c.moveToFront(e)
		return e.value, false
	}
	c.insert(key, value)
	return value, true
}

// GetOrPut 获取缓存值，不存在则调用 loader 加载并缓存.
func (c *Cache[K, V]) GetOrPut(key K, loader func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		c.moveToFront(e)
		c.stats.hits.Add(1)
		return e.value
	}

	c.stats.misses.Add(1)
	value := loader()
	c.insert(key, value)
	return value
}

// Peek 查看缓存值（不影响 LRU 顺序）.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		return e.value, true
	}

	var zero V
	return zero, false
}

// Contains 判断键是否存在（不影响 LRU 顺序）.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[key]
	return ok
}

// Remove 删除缓存项，不触发淘汰回调.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		c.removeEntry(e)
		delete(c.cache, key)
		return e.value, true
	}
	var zero V
	return zero, false
}

// Len 返回当前缓存数量.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Capacity 返回缓存容量.
func (c *Cache[K, V]) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Clear 清空缓存并重置统计.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[K]*entry[K, V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
	c.stats.reset()
}

// Keys 返回所有键（按最近使用顺序）.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.cache))
	for e := c.head.next; e != c.tail; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

// Values 返回所有值（按最近使用顺序）.
func (c *Cache[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := make([]V, 0, len(c.cache))
	for e := c.head.next; e != c.tail; e = e.next {
		values = append(values, e.value)
	}
	return values
}

// Resize 调整缓存容量.
// 如果新容量小于当前元素数量，会淘汰多余元素.
func (c *Cache[K, V]) Resize(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
	for len(c.cache) > capacity {
		c.removeLast()
	}
}

// Stats 返回命中统计.
func (c *Cache[K, V]) Stats() Stats {
	return c.stats.snapshot()
}

// 内部方法（调用前需持有锁）

func (c *Cache[K, V]) insert(key K, value V) {
	if len(c.cache) >= c.capacity {
		c.removeLast()
	}
	e := &entry[K, V]{key: key, value: value}
	c.cache[key] = e
	c.addToFront(e)
}

// addToFront 添加节点到头部.
func (c *Cache[K, V]) addToFront(e *entry[K, V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

// removeEntry 从链表中移除节点.
func (c *Cache[K, V]) removeEntry(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

// moveToFront 移动节点到头部.
func (c *Cache[K, V]) moveToFront(e *entry[K, V]) {
	c.removeEntry(e)
	c.addToFront(e)
}

// removeLast 淘汰最后一个节点（最久未使用）.
func (c *Cache[K, V]) removeLast() {
	last := c.tail.prev
	if last == c.head {
		return
	}
	c.removeEntry(last)
	delete(c.cache, last.key)
	c.stats.evictions.Add(1)
	if c.onEvict != nil {
		c.onEvict(last.key, last.value)
	}
}
