package component

import (
	"fmt"
	"slices"
	"sync"
)

// Registry 组件注册表，按 scheme 区分大小写.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
}

// NewRegistry 创建组件注册表.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]Component)}
}

// Register 注册组件，scheme 已存在时返回 ErrDuplicateComponent.
func (r *Registry) Register(scheme string, c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[scheme]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, scheme)
	}
	r.components[scheme] = c
	return nil
}

// Lookup 查找组件.
func (r *Registry) Lookup(scheme string) (Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchComponent, scheme)
	}
	return c, nil
}

// Schemes 返回已注册的 scheme，按字典序.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.components))
	for s := range r.components {
		schemes = append(schemes, s)
	}
	slices.Sort(schemes)
	return schemes
}

// All 返回所有组件.
func (r *Registry) All() map[string]Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Component, len(r.components))
	for k, v := range r.components {
		out[k] = v
	}
	return out
}
