// Package cache holds completed run results keyed by kernel and input
// content, so identical requests skip recomputation.
package cache

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/grid"
)

// ResultCache defines a generic interface for caching run results.
type ResultCache interface {
	// Get retrieves a result from the cache.
	Get(key uint64) (*compute.Result, bool)
	// Put stores a result in the cache.
	Put(key uint64, res *compute.Result)
	// Size returns the number of items in the cache.
	Size() int
}

// Key hashes the kernel name, the input dimensions and every input cell.
func Key(kernel string, m *grid.Matrix) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(kernel)

	var buf [8]byte
	rows, cols := m.Dims()
	binary.LittleEndian.PutUint64(buf[:], uint64(rows))
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(cols))
	_, _ = d.Write(buf[:])
	for _, v := range m.Data() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// MapCache is a bounded in-memory ResultCache. Once full, the oldest entry
// is evicted first.
type MapCache struct {
	mu       sync.RWMutex
	data     map[uint64]*compute.Result
	order    []uint64
	capacity int
}

// NewMapCache creates a cache holding at most capacity results. A capacity
// below one disables storage.
func NewMapCache(capacity int) *MapCache {
	return &MapCache{
		data:     make(map[uint64]*compute.Result),
		capacity: capacity,
	}
}

func (c *MapCache) Get(key uint64) (*compute.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return a copy so callers cannot modify the cached matrix.
	if v, ok := c.data[key]; ok {
		return clone(v), true
	}
	return nil, false
}

// Put stores a copy of res. Only completed results are kept because partial
// output depends on timing.
func (c *MapCache) Put(key uint64, res *compute.Result) {
	if res == nil || !res.Completed || c.capacity < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[key]; !ok {
		for len(c.order) >= c.capacity {
			delete(c.data, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, key)
	}
	c.data[key] = clone(res)
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func clone(r *compute.Result) *compute.Result {
	dup := *r
	if r.Matrix != nil {
		dup.Matrix = r.Matrix.Clone()
	}
	return &dup
}
