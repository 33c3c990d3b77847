package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/graphpulse/forcemap/internal/metrics"
)

// RistrettoCache is a cost-bounded in-process cache for serialized layout
// results. Cost is the byte length of the stored value.
type RistrettoCache struct {
	rc         *ristretto.Cache
	defaultTTL time.Duration
}

// NewRistretto builds a cache bounded to maxCost bytes.
func NewRistretto(maxCost int64, defaultTTL time.Duration) (*RistrettoCache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost / 1024 * 10, // ~10x expected item count
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{rc: rc, defaultTTL: defaultTTL}, nil
}

func (c *RistrettoCache) Get(key string) ([]byte, bool) {
	v, ok := c.rc.Get(key)
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	b, ok := v.([]byte)
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return b, true
}

func (c *RistrettoCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.rc.SetWithTTL(key, value, int64(len(value)), ttl)
}

func (c *RistrettoCache) Delete(key string) {
	c.rc.Del(key)
}

func (c *RistrettoCache) Clear() {
	c.rc.Clear()
}

func (c *RistrettoCache) Stats() Stats {
	m := c.rc.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeysAdded: m.KeysAdded(),
		Evictions: m.KeysEvicted(),
		Size:      int64(m.CostAdded() - m.CostEvicted()),
	}
}

// Close releases the cache's background resources.
func (c *RistrettoCache) Close() {
	c.rc.Close()
}
