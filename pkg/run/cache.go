package run

import (
	"sync"
	"time"

	"github.com/tombee/maestro/pkg/artifact"
)

// DefaultCacheTTL is how long a cached artifact registry stays fresh.
const DefaultCacheTTL = 5 * time.Second

// registryCache is a short-TTL in-process cache of artifact registries keyed
// by run id. Entries are stored and returned as deep copies, never shared
// references.
type registryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	artifacts map[string]*artifact.Artifact
	expires   time.Time
}

func newRegistryCache(ttl time.Duration, now func() time.Time) *registryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &registryCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a deep copy of the cached registry map, or false when absent
// or expired. Get never blocks on I/O.
func (c *registryCache) Get(runID string) (map[string]*artifact.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[runID]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, runID)
		return nil, false
	}
	return cloneArtifactMap(entry.artifacts), true
}

// Put stores a deep copy of the registry map.
func (c *registryCache) Put(runID string, artifacts map[string]*artifact.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[runID] = cacheEntry{
		artifacts: cloneArtifactMap(artifacts),
		expires:   c.now().Add(c.ttl),
	}
}

// Invalidate drops the cached entry for a run.
func (c *registryCache) Invalidate(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, runID)
}

// Evict drops every cached entry. Used by the memory pressure monitor.
func (c *registryCache) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func cloneArtifactMap(artifacts map[string]*artifact.Artifact) map[string]*artifact.Artifact {
	clone := make(map[string]*artifact.Artifact, len(artifacts))
	for name, a := range artifacts {
		clone[name] = a.Clone()
	}
	return clone
}
