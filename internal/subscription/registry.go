// Package subscription 维护代理端频道名到订阅连接的映射
package subscription

import (
	"slices"
	"sync"
)

// Registry 频道注册表，频道在第一个订阅者加入时出现，最后一个订阅者离开时消失
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{}
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]map[string]struct{})}
}

// Subscribe reports whether connID was newly added to name.
func (r *Registry) Subscribe(name, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.channels[name]
	if !ok {
		subs = make(map[string]struct{})
		r.channels[name] = subs
		r.order = append(r.order, name)
	}
	if _, ok := subs[connID]; ok {
		return false
	}
	subs[connID] = struct{}{}
	return true
}

// Unsubscribe reports whether connID was subscribed to name.
func (r *Registry) Unsubscribe(name, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribe(name, connID)
}

func (r *Registry) unsubscribe(name, connID string) bool {
	subs, ok := r.channels[name]
	if !ok {
		return false
	}
	if _, ok := subs[connID]; !ok {
		return false
	}
	delete(subs, connID)
	if len(subs) == 0 {
		r.forget(name)
	}
	return true
}

// RemoveConnection drops connID from every channel and returns the channels
// it was subscribed to.
func (r *Registry) RemoveConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for _, name := range slices.Clone(r.order) {
		if r.unsubscribe(name, connID) {
			removed = append(removed, name)
		}
	}
	return removed
}

// Drop forgets name and returns its former subscribers.
func (r *Registry) Drop(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.channels[name]
	if !ok {
		return nil
	}
	r.forget(name)
	return sortedKeys(subs)
}

// Subscribers returns the connection ids subscribed to name, sorted.
func (r *Registry) Subscribers(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.channels[name])
}

func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[name]
	return ok
}

// Names returns the live channels in creation order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) forget(name string) {
	delete(r.channels, name)
	if i := slices.Index(r.order, name); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
