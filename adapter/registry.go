package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrAdapterNotFound   = errors.New("exchange adapter not found")
	ErrAdapterRegistered = errors.New("exchange adapter already registered")
	ErrEmptyName         = errors.New("adapter name is empty")
)

type registryKey struct {
	module string
	name   string
}

// Registry 是集成注册表：按 (模块, 名称) 保存适配器。
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]IndexExchangeAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]IndexExchangeAdapter)}
}

// Add 注册新适配器，重名失败。
func (r *Registry) Add(module, name string, a IndexExchangeAdapter) error {
	if name == "" {
		return ErrEmptyName
	}
	if a == nil {
		return errors.New("adapter is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{module, name}
	if _, ok := r.adapters[k]; ok {
		return fmt.Errorf("%w: %s/%s", ErrAdapterRegistered, module, name)
	}
	r.adapters[k] = a
	return nil
}

// Edit 替换已注册的适配器。
func (r *Registry) Edit(module, name string, a IndexExchangeAdapter) error {
	if a == nil {
		return errors.New("adapter is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{module, name}
	if _, ok := r.adapters[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrAdapterNotFound, module, name)
	}
	r.adapters[k] = a
	return nil
}

// Remove 注销适配器。
func (r *Registry) Remove(module, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{module, name}
	if _, ok := r.adapters[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrAdapterNotFound, module, name)
	}
	delete(r.adapters, k)
	return nil
}

// Get 按名称解析适配器。
func (r *Registry) Get(module, name string) (IndexExchangeAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[registryKey{module, name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrAdapterNotFound, module, name)
	}
	return a, nil
}

func (r *Registry) IsValid(module, name string) bool {
	_, err := r.Get(module, name)
	return err == nil
}

// Names 返回某模块下已注册的名称（排序后）。
func (r *Registry) Names(module string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range r.adapters {
		if k.module == module {
			out = append(out, k.name)
		}
	}
	sort.Strings(out)
	return out
}
