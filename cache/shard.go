// Package cache implements the response cache: a fingerprint-keyed,
// TTL'd, LRU-evicting store with at-most-one-build-per-fingerprint
// coalescing (spec §4.5).
package cache

import (
	"container/list"
	"hash/maphash"
	"sync"
	"time"
)

// Entry is a cached response body plus the wire metadata needed to
// replay it without re-running the handler.
type Entry struct {
	Status      int
	Header      map[string][]string // flattened, order not meaningful once cached
	Body        []byte
	ContentType string
	StoredAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

type lruEntry struct {
	key   string
	value *Entry
}

// shard is one lock-striped partition of the cache. Grounded on
// capacitor/pkg/cache/memory/{cache.go,lru.go}: per-shard RWMutex, an
// intrusive container/list LRU, lookup-time expiry check.
type shard struct {
	mu       sync.RWMutex
	data     map[string]*list.Element
	lru      *list.List
	maxSize  int
	pinned   map[string]int // fingerprints with an in-flight singleflight build; never evicted
}

func newShard(maxSize int) *shard {
	return &shard{
		data:    make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		pinned:  make(map[string]int),
	}
}

func (s *shard) get(key string, now time.Time) (*Entry, bool) {
	s.mu.RLock()
	el, ok := s.data[key]
	if !ok {
		s.mu.RUnlock()
		return nil, false
	}
	e := el.Value.(*lruEntry).value
	expired := e.Expired(now)
	s.mu.RUnlock()
	if expired {
		s.delete(key)
		return nil, false
	}

	s.mu.Lock()
	if el, ok := s.data[key]; ok {
		s.lru.MoveToFront(el)
	}
	s.mu.Unlock()
	return e, true
}

func (s *shard) set(key string, entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.data[key]; ok {
		el.Value.(*lruEntry).value = entry
		s.lru.MoveToFront(el)
		return
	}

	el := s.lru.PushFront(&lruEntry{key: key, value: entry})
	s.data[key] = el

	if s.maxSize > 0 {
		for s.lru.Len() > s.maxSize {
			back := s.lru.Back()
			if back == nil {
				break
			}
			backKey := back.Value.(*lruEntry).key
			// Never evict a fingerprint with an in-flight build: spec §4.5
			// pins in-flight entries against LRU eviction so waiters don't
			// observe their own promise vanish mid-build.
			if s.pinned[backKey] > 0 {
				break
			}
			s.lru.Remove(back)
			delete(s.data, backKey)
		}
	}
}

func (s *shard) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.data[key]; ok {
		s.lru.Remove(el)
		delete(s.data, key)
	}
}

func (s *shard) pin(key string) {
	s.mu.Lock()
	s.pinned[key]++
	s.mu.Unlock()
}

func (s *shard) unpin(key string) {
	s.mu.Lock()
	s.pinned[key]--
	if s.pinned[key] <= 0 {
		delete(s.pinned, key)
	}
	s.mu.Unlock()
}

func (s *shard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lru.Len()
}

var seed = maphash.MakeSeed()

func shardIndex(key string, numShards int) int {
	var h maphash.Hash
	h.SetSeed(seed)
	_, _ = h.WriteString(key)
	return int(h.Sum64() % uint64(numShards))
}
