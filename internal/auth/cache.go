package auth

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache is a TTL-based in-memory cache for authenticated project contexts.
// Entries are keyed by the SHA-256 of the API key so plaintext keys are never
// retained. Reads are lock-free via sync.Map.
//
// Stale-while-revalidate: an expired entry is still returned, and exactly one
// caller is told to refresh it in the background.
type AuthCache struct {
	store sync.Map // map[[32]byte]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	project    *ProjectContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Project      *ProjectContext
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // the caller won the right to refresh a stale entry
}

func cacheKey(apiKey string) [32]byte {
	return sha256.Sum256([]byte(apiKey))
}

// Get looks up the API key.
//
//   - Fresh hit: {Project, Hit=true, NeedsRefresh=false}
//   - Stale hit: {Project, Hit=true, NeedsRefresh=true} for the first caller only
//   - Miss:      {nil, Hit=false, NeedsRefresh=false}
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(cacheKey(apiKey))
	if !ok {
		return GetResult{}
	}
	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Project: entry.project, Hit: true}
	}

	return GetResult{
		Project:      entry.project,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores a project context with the configured TTL.
func (c *AuthCache) Set(apiKey string, project *ProjectContext) {
	c.store.Store(cacheKey(apiKey), &cacheEntry{
		project:   project,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(cacheKey(apiKey))
}
