// Package session implements the session store: an opaque-token, TTL'd,
// in-memory table bound to a cookie (spec §4.6).
package session

import (
	"crypto/rand"
	"encoding/base64"
	"hash/maphash"
	"sync"
	"time"
)

// Session is a single server-side session record.
type Session struct {
	Token     string
	Data      map[string]any
	CreatedAt time.Time
	ExpiresAt time.Time // zero means "session cookie" semantics (Max-Age=-1, no absolute expiry)

	mu sync.Mutex // serializes concurrent mutation of Data for this session
}

// Expired reports whether the session's TTL has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Get reads a value from the session's data bag.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Data[key]
	return v, ok
}

// Set writes a value into the session's data bag.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data[key] = value
}

// Config configures the session store.
type Config struct {
	ShardCount int           // default 16
	TTL        time.Duration // default 1h, spec §4.6
	SweepEvery time.Duration // default 1m
}

// DefaultConfig returns the spec §4.6 defaults.
func DefaultConfig() Config {
	return Config{ShardCount: 16, TTL: time.Hour, SweepEvery: time.Minute}
}

type shard struct {
	mu   sync.RWMutex
	data map[string]*Session
}

// Store is the sharded token -> Session table. Grounded on the same
// sharding strategy as cache/shard.go (capacitor/pkg/cache/memory/
// sharded_cache.go's maphash shard selection) — the teacher has no
// session store of its own; spec §3's Session is structurally a TTL'd
// key -> value table, the same shape cache already solves, retargeted
// here to an opaque token key instead of a request fingerprint.
type Store struct {
	shards    []*shard
	numShards int
	ttl       time.Duration
	stop      chan struct{}
}

// New constructs a Store and starts its periodic expired-session sweep.
func New(config Config) *Store {
	if config.ShardCount <= 0 {
		config.ShardCount = 16
	}
	n := 1
	for n < config.ShardCount {
		n <<= 1
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if config.SweepEvery <= 0 {
		config.SweepEvery = time.Minute
	}

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{data: make(map[string]*Session)}
	}
	st := &Store{shards: shards, numShards: n, ttl: config.TTL, stop: make(chan struct{})}
	go st.sweepLoop(config.SweepEvery)
	return st
}

// Close stops the background sweep goroutine.
func (st *Store) Close() {
	close(st.stop)
}

func (st *Store) shardFor(token string) *shard {
	var h maphash.Hash
	h.SetSeed(tokenSeed)
	_, _ = h.WriteString(token)
	return st.shards[h.Sum64()%uint64(st.numShards)]
}

var tokenSeed = maphash.MakeSeed()

// NewToken generates a 128-bit random, base64url-encoded opaque session
// token (spec §3: "opaque 128-bit token").
func NewToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// Create mints a new session with the store's default TTL (or no
// absolute expiry, if sessionCookie is true — the Max-Age=-1 convention
// spec §4.6 calls out).
func (st *Store) Create(sessionCookie bool) (*Session, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s := &Session{Token: token, CreatedAt: now}
	if !sessionCookie {
		s.ExpiresAt = now.Add(st.ttl)
	}
	sh := st.shardFor(token)
	sh.mu.Lock()
	sh.data[token] = s
	sh.mu.Unlock()
	return s, nil
}

// Get looks up a session by token, evicting it first if expired.
func (st *Store) Get(token string) (*Session, bool) {
	sh := st.shardFor(token)
	sh.mu.RLock()
	s, ok := sh.data[token]
	sh.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.Expired(time.Now()) {
		st.Delete(token)
		return nil, false
	}
	return s, true
}

// Touch extends a non-session-cookie session's expiry by the store's
// TTL from now.
func (st *Store) Touch(token string) {
	sh := st.shardFor(token)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.data[token]; ok && !s.ExpiresAt.IsZero() {
		s.ExpiresAt = time.Now().Add(st.ttl)
	}
}

// Delete removes a session unconditionally (e.g. on logout).
func (st *Store) Delete(token string) {
	sh := st.shardFor(token)
	sh.mu.Lock()
	delete(sh.data, token)
	sh.mu.Unlock()
}

// Len returns the total number of live sessions across all shards.
func (st *Store) Len() int {
	total := 0
	for _, sh := range st.shards {
		sh.mu.RLock()
		total += len(sh.data)
		sh.mu.RUnlock()
	}
	return total
}

func (st *Store) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			return
		case now := <-ticker.C:
			for _, sh := range st.shards {
				sh.mu.Lock()
				for token, s := range sh.data {
					if s.Expired(now) {
						delete(sh.data, token)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}
