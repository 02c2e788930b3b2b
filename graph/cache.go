package graph

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"

	"github.com/lazygraph/lazygraph/devices"
)

// DefaultCacheSize is the trace cache capacity used by NewEngine.
const DefaultCacheSize = 1024

// cacheKey: computations are cached per device, since backends may compile
// differently per device and buffers are device-resident.
type cacheKey struct {
	signature uint64
	device    devices.Device
}

type cacheEntry struct {
	comp *Computation
	hits atomic.Int64
}

// traceCache maps (structural signature, device) to lowered Computations.
// A hit skips the lowering pass entirely. Size-bounded LRU; evicting an
// entry only drops the cache's reference, it never finalizes a Computation
// that executions may still hold.
type traceCache struct {
	entries *lru.Cache[cacheKey, *cacheEntry]
	hits    atomic.Int64
	misses  atomic.Int64
}

func newTraceCache(size int) *traceCache {
	c := &traceCache{}
	var err error
	c.entries, err = lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		panic(err) // Only on size < 1.
	}
	return c
}

func (c *traceCache) onEvict(key cacheKey, entry *cacheEntry) {
	klog.V(2).Infof("trace cache: evicting %s for device %s (%s hits)",
		entry.comp, key.device, humanize.Comma(entry.hits.Load()))
}

// Lookup returns the cached Computation for (signature, device), or nil.
func (c *traceCache) Lookup(signature uint64, device devices.Device) *Computation {
	entry, found := c.entries.Get(cacheKey{signature, device})
	if !found {
		c.misses.Add(1)
		klog.V(2).Infof("trace cache: miss for signature %016x on %s", signature, device)
		return nil
	}
	c.hits.Add(1)
	entry.hits.Add(1)
	klog.V(2).Infof("trace cache: hit for signature %016x on %s", signature, device)
	return entry.comp
}

// Insert adds a freshly lowered Computation. If another goroutine raced and
// inserted first, the winner is kept and returned so both use the same
// shared Computation.
func (c *traceCache) Insert(signature uint64, device devices.Device, comp *Computation) *Computation {
	key := cacheKey{signature, device}
	if winner, _, _ := c.entries.PeekOrAdd(key, &cacheEntry{comp: comp}); winner != nil {
		return winner.comp
	}
	return comp
}

// Len is the current number of cached computations.
func (c *traceCache) Len() int { return c.entries.Len() }

// CacheStats is a snapshot of cache effectiveness counters.
type CacheStats struct {
	Size   int
	Hits   int64
	Misses int64
}

func (c *traceCache) Stats() CacheStats {
	return CacheStats{
		Size:   c.entries.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}
