package projection

import (
	"sync"

	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// PathCache maps parent-path keys such as "Plant1/Building2/L5" to the
// container created for them. Entries are never removed.
type PathCache struct {
	mu     sync.RWMutex
	nodes  map[string]ports.NodeRef
	hits   uint64
	misses uint64
}

// CacheStats is a snapshot of PathCache usage.
type CacheStats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

func NewPathCache() *PathCache {
	return &PathCache{nodes: make(map[string]ports.NodeRef)}
}

func (c *PathCache) Get(key string) (ports.NodeRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.nodes[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return ref, ok
}

func (c *PathCache) Put(key string, ref ports.NodeRef) {
	c.mu.Lock()
	c.nodes[key] = ref
	c.mu.Unlock()
}

func (c *PathCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

func (c *PathCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Size: len(c.nodes), Hits: c.hits, Misses: c.misses}
}
