package cache

import (
	"time"
)

// Config configures the response cache.
type Config struct {
	ShardCount int           // default 16, rounded up to the next power of 2
	MaxEntries int           // per-shard cap; default 1000
	DefaultTTL time.Duration // default 30s, spec §4.5
}

// DefaultConfig returns the spec §4.5 defaults.
func DefaultConfig() Config {
	return Config{ShardCount: 16, MaxEntries: 1000, DefaultTTL: 30 * time.Second}
}

// Cache is a sharded, TTL'd, LRU-evicting fingerprint -> Entry store with
// at-most-one-build-per-fingerprint coalescing. Grounded on
// capacitor/pkg/cache/memory/sharded_cache.go's maphash shard-selection
// strategy.
type Cache struct {
	shards     []*shard
	numShards  int
	defaultTTL time.Duration
	group      *buildGroup
}

// New constructs a Cache from config, filling in defaults for zero
// values.
func New(config Config) *Cache {
	if config.ShardCount <= 0 {
		config.ShardCount = 16
	}
	n := nextPowerOfTwo(config.ShardCount)
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 30 * time.Second
	}

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = newShard(config.MaxEntries)
	}
	return &Cache{shards: shards, numShards: n, defaultTTL: config.DefaultTTL, group: newBuildGroup()}
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[shardIndex(key, c.numShards)]
}

// Get returns the cached entry for fingerprint, if present and unexpired.
func (c *Cache) Get(fingerprint string) (*Entry, bool) {
	return c.shardFor(fingerprint).get(fingerprint, time.Now())
}

// Set stores entry under fingerprint with the cache's default TTL, unless
// entry.ExpiresAt is already set.
func (c *Cache) Set(fingerprint string, entry *Entry) {
	if entry.ExpiresAt.IsZero() {
		entry.StoredAt = time.Now()
		entry.ExpiresAt = entry.StoredAt.Add(c.defaultTTL)
	}
	c.shardFor(fingerprint).set(fingerprint, entry)
}

// Delete evicts fingerprint unconditionally (e.g. on an explicit
// invalidation signal).
func (c *Cache) Delete(fingerprint string) {
	c.shardFor(fingerprint).delete(fingerprint)
}

// Len returns the total number of live entries across all shards.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.len()
	}
	return total
}

// GetOrBuild returns the cached entry for fingerprint if present;
// otherwise it invokes build at most once across all concurrent callers
// sharing that fingerprint (spec §4.5's at-most-one-build guarantee),
// caches the result on success, and returns build's error to every
// waiter on failure without caching anything.
func (c *Cache) GetOrBuild(fingerprint string, build func() (*Entry, error)) (*Entry, error) {
	if e, ok := c.Get(fingerprint); ok {
		return e, nil
	}

	sh := c.shardFor(fingerprint)
	sh.pin(fingerprint)
	defer sh.unpin(fingerprint)

	v, err, _ := c.group.do(fingerprint, func() (any, error) {
		entry, err := build()
		if err != nil {
			return nil, err
		}
		c.Set(fingerprint, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
