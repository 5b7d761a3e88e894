package cache

import (
	"bytes"
	"context"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// InMemoryCache keeps entries in a map. Sessions stored here do not survive a
// restart, so it backs tests and ENABLE_MOCKS runs.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

var _ ListCache = (*InMemoryCache)(nil)

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[string][]byte)}
}

func (c *InMemoryCache) lookup(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[key]
	return b, ok
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := c.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (c *InMemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := c.lookup(key)
	return ok, nil
}

func (c *InMemoryCache) Put(ctx context.Context, key, value string, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists && opts.Condition == PutIfNoneMatch {
		return ErrAlreadyExists
	}
	c.entries[key] = []byte(value)
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return ErrNotFound
	}
	delete(c.entries, key)
	return nil
}

// List ignores continuation; every matching key comes back in one sorted page.
func (c *InMemoryCache) List(ctx context.Context, prefix string, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	all := slices.Sorted(maps.Keys(c.entries))
	c.mu.RUnlock()

	keys := make([]string, 0, len(all))
	for _, key := range all {
		if rest, ok := strings.CutPrefix(key, prefix); ok {
			keys = append(keys, rest)
		}
	}
	return keys, nil
}
