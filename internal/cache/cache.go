package cache

import (
	"encoding/binary"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// PrefixCache remembers scan results by input.
type PrefixCache interface {
	// Get retrieves the prefix sums of input.
	Get(input []uint32) ([]uint32, bool)
	// Put stores the prefix sums of input.
	Put(input, prefix []uint32)
	// Size returns the number of items in the cache.
	Size() int
}

type entry struct {
	input  []uint32
	prefix []uint32
}

// MapCache is a bounded in-memory PrefixCache. Entries are keyed by an
// xxhash digest of the input and compared in full on lookup.
type MapCache struct {
	data       map[uint64]entry
	order      []uint64
	maxEntries int
	mu         sync.RWMutex
}

// NewMapCache returns a cache holding at most maxEntries results, evicting
// the oldest first. maxEntries <= 0 means unbounded.
func NewMapCache(maxEntries int) *MapCache {
	return &MapCache{
		data:       make(map[uint64]entry),
		maxEntries: maxEntries,
	}
}

// Key hashes input as little-endian words.
func Key(input []uint32) uint64 {
	d := xxhash.New()
	var word [4]byte
	for _, v := range input {
		binary.LittleEndian.PutUint32(word[:], v)
		_, _ = d.Write(word[:])
	}
	return d.Sum64()
}

func (c *MapCache) Get(input []uint32) ([]uint32, bool) {
	key := Key(input)
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[key]
	if !ok || !slices.Equal(e.input, input) {
		cacheMisses.Inc()
		return nil, false
	}
	cacheHits.Inc()
	// Return copy to avoid modification of cached value
	return slices.Clone(e.prefix), true
}

func (c *MapCache) Put(input, prefix []uint32) {
	key := Key(input)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[key]; !ok {
		c.order = append(c.order, key)
	}
	c.data[key] = entry{input: slices.Clone(input), prefix: slices.Clone(prefix)}

	for c.maxEntries > 0 && len(c.order) > c.maxEntries {
		delete(c.data, c.order[0])
		c.order = c.order[1:]
	}
	cacheEntries.Set(float64(len(c.data)))
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
