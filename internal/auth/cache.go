package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound indicates no cached introspection result exists for a token.
var ErrNotFound = errors.New("auth: introspection result not found")

// Introspection is a cached OAuth 2.1 token introspection result, keyed by a
// hash of the bearer token so raw tokens never sit in the cache.
type Introspection struct {
	TokenHash string
	Subject   string
	Scopes    []string
	Active    bool

	CreatedAt time.Time
	ExpiresAt time.Time
}

func (g *Introspection) expired(at time.Time) bool {
	return !g.ExpiresAt.IsZero() && at.After(g.ExpiresAt)
}

// Cache stores introspection results for the short TTL recommended for
// OAuth introspection responses, so repeated calls against the same token
// don't round-trip to the authorization server every time.
type Cache interface {
	Get(ctx context.Context, tokenHash string) (*Introspection, error)
	Put(ctx context.Context, result *Introspection, ttl time.Duration) error
	Revoke(ctx context.Context, tokenHash string) error
}

// MemoryCache is an in-process Cache for single-instance deployments.
type MemoryCache struct {
	mux sync.RWMutex
	byHash map[string]*Introspection
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{byHash: map[string]*Introspection{}}
}

func (c *MemoryCache) Get(_ context.Context, tokenHash string) (*Introspection, error) {
	c.mux.RLock()
	g, ok := c.byHash[tokenHash]
	c.mux.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if g.expired(time.Now()) {
		c.mux.Lock()
		delete(c.byHash, tokenHash)
		c.mux.Unlock()
		return nil, ErrNotFound
	}
	dup := *g
	return &dup, nil
}

func (c *MemoryCache) Put(_ context.Context, result *Introspection, ttl time.Duration) error {
	now := time.Now()
	dup := *result
	dup.CreatedAt = now
	if ttl > 0 {
		dup.ExpiresAt = now.Add(ttl)
	}
	c.mux.Lock()
	c.byHash[dup.TokenHash] = &dup
	c.mux.Unlock()
	return nil
}

func (c *MemoryCache) Revoke(_ context.Context, tokenHash string) error {
	c.mux.Lock()
	delete(c.byHash, tokenHash)
	c.mux.Unlock()
	return nil
}
