package fasjson

import (
	"context"
	"errors"
	"fmt"
)

// CacheType names a spec cache backend.
type CacheType string

// Spec cache backends.
const (
	CacheTypeNone   CacheType = "none"
	CacheTypeMemory CacheType = "memory"
	CacheTypeNATS   CacheType = "nats"
)

// Static errors for err113 compliance.
var (
	ErrNATSConfigRequired    = errors.New("NATS configuration required for NATS cache")
	ErrUnsupportedCacheType  = errors.New("unsupported cache type")
	ErrCacheDisabled         = errors.New("cache disabled")
	ErrKeyNotFoundInAnyCache = errors.New("key not found in any cache")
)

// CacheConfig selects the spec cache backend.
type CacheConfig struct {
	Type CacheType

	// Size bounds the memory backend. With NATS, a positive Size puts a
	// memory cache of that size in front of the bucket.
	Size int

	NATS *NATSKVConfig
}

// NewCacheFromConfig creates the spec cache described by config. A nil
// config disables caching.
func NewCacheFromConfig(ctx context.Context, config *CacheConfig) (Cache, error) {
	if config == nil {
		return NoOpCache{}, nil
	}

	switch config.Type {
	case CacheTypeNone, "":
		return NoOpCache{}, nil
	case CacheTypeMemory:
		return NewMemoryCache(config.Size), nil
	case CacheTypeNATS:
		if config.NATS == nil {
			return nil, ErrNATSConfigRequired
		}

		shared, err := NewNATSKVCache(ctx, config.NATS)
		if err != nil {
			return nil, err
		}

		if config.Size <= 0 {
			return shared, nil
		}

		return NewCacheChain(NewMemoryCache(config.Size), shared), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCacheType, config.Type)
	}
}

// NoOpCache stores nothing.
type NoOpCache struct{}

func (NoOpCache) Get(context.Context, string) (*CacheEntry, error) { return nil, ErrCacheDisabled }
func (NoOpCache) Set(context.Context, string, *CacheEntry) error   { return nil }
func (NoOpCache) Delete(context.Context, string) error             { return nil }
func (NoOpCache) Clear(context.Context) error                      { return nil }
func (NoOpCache) Has(context.Context, string) bool                 { return false }

// CacheChain reads through several caches, fastest first. A hit in a
// later cache is copied into the earlier ones; writes go to all of them.
type CacheChain struct {
	caches []Cache
}

// NewCacheChain creates a chain over caches, in lookup order.
func NewCacheChain(caches ...Cache) *CacheChain {
	return &CacheChain{caches: caches}
}

// Get returns the entry from the first cache holding key.
func (c *CacheChain) Get(ctx context.Context, key string) (*CacheEntry, error) {
	for i, cache := range c.caches {
		entry, err := cache.Get(ctx, key)
		if err != nil {
			continue
		}

		for _, faster := range c.caches[:i] {
			_ = faster.Set(ctx, key, entry)
		}

		return entry, nil
	}

	return nil, ErrKeyNotFoundInAnyCache
}

// Set stores entry in every cache.
func (c *CacheChain) Set(ctx context.Context, key string, entry *CacheEntry) error {
	return c.each(func(cache Cache) error { return cache.Set(ctx, key, entry) })
}

// Delete removes key from every cache.
func (c *CacheChain) Delete(ctx context.Context, key string) error {
	return c.each(func(cache Cache) error { return cache.Delete(ctx, key) })
}

// Clear empties every cache.
func (c *CacheChain) Clear(ctx context.Context) error {
	return c.each(func(cache Cache) error { return cache.Clear(ctx) })
}

// Has reports whether any cache holds key.
func (c *CacheChain) Has(ctx context.Context, key string) bool {
	for _, cache := range c.caches {
		if cache.Has(ctx, key) {
			return true
		}
	}

	return false
}

func (c *CacheChain) each(fn func(Cache) error) error {
	errs := make([]error, 0, len(c.caches))
	for _, cache := range c.caches {
		errs = append(errs, fn(cache))
	}

	return errors.Join(errs...)
}
