package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func newRegistry() *registry {
	return &registry{strategies: make(map[string]Strategy)}
}

// Register 将策略加入全局注册表，重复键会返回错误。
func Register(s Strategy) error {
	return globalRegistry.register(s)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(s Strategy) {
	if err := Register(s); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的策略。
func Resolve(key string) (Strategy, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的策略元数据。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册策略的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(s Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy is required")
	}
	key := r.normalizeKey(s.Metadata().Key)
	if key == "" {
		return fmt.Errorf("strategy key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[key]; exists {
		return fmt.Errorf("strategy %s already registered", key)
	}
	r.strategies[key] = s
	return nil
}

func (r *registry) resolve(key string) (Strategy, bool) {
	normalized := r.normalizeKey(key)
	if normalized == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[normalized]
	return s, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.strategies) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.strategies))
	for key := range r.strategies {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.strategies[key].Metadata())
	}
	return result
}
