package engine

import (
	"encoding/binary"
	"math"
	"sync"

	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/backend/cpu"
	"github.com/born-ml/swiglu/internal/serialization"
)

// CacheStats reports weights cache usage.
type CacheStats struct {
	Hits    int
	Misses  int
	Entries int
	Bytes   int
}

// WeightsCache shares packed fully-connected filters between runtimes.
// Filters are keyed by their layout and contents, so identical weights are
// packed once even when they live in different buffers.
type WeightsCache struct {
	mu      sync.Mutex
	entries map[[32]byte][]float32
	stats   CacheStats
	refs    int
	deleted bool
}

// CreateWeightsCache creates an empty weights cache.
func CreateWeightsCache() (*WeightsCache, error) {
	if err := checkInitialized("create_weights_cache"); err != nil {
		return nil, err
	}
	track(func(l *ObjectCounts) { l.WeightsCaches++ })
	return &WeightsCache{entries: make(map[[32]byte][]float32)}, nil
}

// Stats returns the cache counters.
func (c *WeightsCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Delete frees the cache. It fails while a runtime still uses it.
func (c *WeightsCache) Delete() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deleted {
		return nil
	}
	if c.refs > 0 {
		return newError("delete_weights_cache", InvalidState, "%d runtimes still use the weights cache", c.refs)
	}
	c.deleted = true
	c.entries = nil
	track(func(l *ObjectCounts) { l.WeightsCaches-- })
	return nil
}

func (c *WeightsCache) acquire(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return newError(op, InvalidState, "weights cache was deleted")
	}
	c.refs++
	return nil
}

func (c *WeightsCache) drop() {
	c.mu.Lock()
	c.refs--
	c.mu.Unlock()
}

// packFilter returns filter in the [out, in] layout the kernels consume.
// A nil cache packs privately.
func packFilter(c *WeightsCache, filter []float32, in, out int, transposed bool) []float32 {
	pack := func() []float32 {
		if transposed {
			return cpu.TransposeFilter(filter, in, out)
		}
		packed := make([]float32, len(filter))
		copy(packed, filter)
		return packed
	}
	if c == nil {
		return pack()
	}

	key := filterKey(filter, in, out, transposed)

	c.mu.Lock()
	defer c.mu.Unlock()

	if packed, ok := c.entries[key]; ok {
		c.stats.Hits++
		return packed
	}
	packed := pack()
	c.entries[key] = packed
	c.stats.Misses++
	c.stats.Entries++
	c.stats.Bytes += len(packed) * 4
	klog.V(4).InfoS("Packed filter", "in", in, "out", out, "transposed", transposed)
	return packed
}

func filterKey(filter []float32, in, out int, transposed bool) [32]byte {
	buf := make([]byte, 12+4*len(filter))
	binary.LittleEndian.PutUint32(buf[0:], uint32(in))
	binary.LittleEndian.PutUint32(buf[4:], uint32(out))
	if transposed {
		buf[8] = 1
	}
	for i, f := range filter {
		binary.LittleEndian.PutUint32(buf[12+4*i:], math.Float32bits(f))
	}
	return serialization.ComputeChecksum(buf)
}
