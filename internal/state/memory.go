package state

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryProvider keeps values in process memory. Used in tests and when
// persistence is disabled.
type MemoryProvider struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{values: make(map[string][]byte)}
}

// Save implements Provider.
func (p *MemoryProvider) Save(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := make([]byte, len(value))
	copy(copied, value)
	p.values[sanitizeKey(key)] = copied
	return nil
}

// Load implements Provider.
func (p *MemoryProvider) Load(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.values[sanitizeKey(key)]
	if !ok {
		return nil, false, nil
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, true, nil
}

// Delete implements Provider.
func (p *MemoryProvider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, sanitizeKey(key))
	return nil
}

// Exists implements Provider.
func (p *MemoryProvider) Exists(_ context.Context, key string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.values[sanitizeKey(key)]
	return ok, nil
}

// ListKeys implements Provider. Keys come back sorted for deterministic
// listings.
func (p *MemoryProvider) ListKeys(_ context.Context, prefix string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sanitized := sanitizeKey(prefix)
	var keys []string
	for key := range p.values {
		if strings.HasPrefix(key, sanitized) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
