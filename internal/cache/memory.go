// Package cache holds diagnosis result caches. Entries are derived data keyed
// by knowledge-base fingerprint, so a reloaded knowledge base never serves a
// stale result.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/symptom-expert-server/internal/domain"
)

const (
	defaultMaxItems = 1000
	defaultTTL      = 10 * time.Minute
)

// MemoryCache is an in-process LRU with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, *domain.DiagnosisResponse]
}

// NewMemoryCache creates a cache holding at most maxItems entries for ttl.
func NewMemoryCache(maxItems int, ttl time.Duration) *MemoryCache {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, *domain.DiagnosisResponse](maxItems, nil, ttl),
	}
}

// Get implements domain.ResultCache.
func (c *MemoryCache) Get(_ context.Context, key string) (*domain.DiagnosisResponse, bool, error) {
	resp, ok := c.lru.Get(key)
	return resp, ok, nil
}

// Set implements domain.ResultCache.
func (c *MemoryCache) Set(_ context.Context, key string, resp *domain.DiagnosisResponse) error {
	c.lru.Add(key, resp)
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *MemoryCache) Purge() {
	c.lru.Purge()
}
