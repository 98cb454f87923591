package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/lcw/v2"
)

// PolicyStore is the registry part of the store, wrapped by CachedRegistry.
type PolicyStore interface {
	GetResourcePolicy(ctx context.Context, resource string) (PolicyRecord, error)
	SetPolicy(ctx context.Context, rec PolicyRecord) error
	DeletePolicy(ctx context.Context, resource string) error
}

// CachedRegistry wraps a PolicyStore with an expirable loading cache and satisfies PolicyStore itself.
// Cache is populated on reads via loader function, invalidated on writes.
// Lookup failures, ErrNotFound included, are not cached.
type CachedRegistry struct {
	store PolicyStore
	cache lcw.LoadingCache[PolicyRecord]
}

// NewCachedRegistry creates a new cached registry wrapper.
// maxKeys sets the maximum number of resources in the cache, ttl bounds staleness
// of changes made directly in the database.
func NewCachedRegistry(store PolicyStore, maxKeys int, ttl time.Duration) (*CachedRegistry, error) {
	o := lcw.NewOpts[PolicyRecord]()
	cache, err := lcw.NewExpirableCache(o.MaxKeys(maxKeys), o.TTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &CachedRegistry{store: store, cache: cache}, nil
}

// GetResourcePolicy returns the policy for resource, using cache with load-through.
func (c *CachedRegistry) GetResourcePolicy(ctx context.Context, resource string) (PolicyRecord, error) {
	rec, err := c.cache.Get(resource, func() (PolicyRecord, error) {
		return c.store.GetResourcePolicy(ctx, resource)
	})
	if err != nil {
		// pass through as-is, callers check for ErrNotFound
		return PolicyRecord{}, err //nolint:wrapcheck // intentionally pass through for error type checks
	}
	return rec, nil
}

// SetPolicy stores the policy and invalidates the cache entry.
func (c *CachedRegistry) SetPolicy(ctx context.Context, rec PolicyRecord) error {
	if err := c.store.SetPolicy(ctx, rec); err != nil {
		return fmt.Errorf("store set policy: %w", err)
	}
	c.cache.Invalidate(func(k string) bool { return k == rec.Resource })
	return nil
}

// DeletePolicy removes the policy and invalidates the cache entry.
func (c *CachedRegistry) DeletePolicy(ctx context.Context, resource string) error {
	// invalidate regardless of error - resource might have been cached
	c.cache.Invalidate(func(k string) bool { return k == resource })
	if err := c.store.DeletePolicy(ctx, resource); err != nil {
		return fmt.Errorf("store delete policy: %w", err)
	}
	return nil
}

// Purge drops all cached policies.
func (c *CachedRegistry) Purge() {
	c.cache.Purge()
}

// Close closes the cache, underlying store is not owned and stays open.
func (c *CachedRegistry) Close() error {
	if err := c.cache.Close(); err != nil {
		return fmt.Errorf("cache close: %w", err)
	}
	return nil
}

// Stats returns cache statistics.
func (c *CachedRegistry) Stats() lcw.CacheStat {
	return c.cache.Stat()
}
