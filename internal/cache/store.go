package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
)

// DefaultTTL is applied by Set when the caller passes a non-positive TTL and
// no override was configured.
const DefaultTTL = 5 * time.Minute

type entry struct {
	value     any
	expiresAt time.Time
}

// Options configure a Store.
type Options struct {
	// DefaultTTL replaces the package default for Set calls with ttl <= 0.
	// Zero keeps the package default; negative is rejected by New.
	DefaultTTL time.Duration

	// Now overrides the clock, letting tests drive expiry without sleeping.
	Now func() time.Time
}

// Store is an in-memory TTL cache. Entries expire lazily: a stale entry is
// dropped by the Get that finds it, there is no background sweeper. Each
// operation is individually atomic, but Get followed by Set is not a
// transaction: concurrent callers that miss the same key will each compute
// and store, last write wins. Callers that need de-duplicated computes must
// arrange that themselves.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an empty Store. A negative default TTL is a configuration
// error.
func New(opts Options) (*Store, error) {
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("cache: negative default TTL %v", opts.DefaultTTL)
	}
	ttl := opts.DefaultTTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries:    make(map[string]entry),
		defaultTTL: ttl,
		now:        now,
	}, nil
}

// Get returns the value stored under key. The second return value reports
// whether the key was found live; a stored nil comes back as (nil, true),
// which is how callers cache negative lookups.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		// Stale. Drop it so dead entries do not pile up between Sets.
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && !s.now().Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return e.value, true
}

// Set stores value under key, replacing any previous value and its expiry.
// A non-positive ttl means "use the default".
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// Clear removes every entry whose key matches pattern and returns the number
// removed. "*" empties the store; anything else is a shell-style glob,
// case sensitive, where '*' matches any run of characters. A pattern that
// matches nothing removes nothing; a malformed pattern matches nothing.
func (s *Store) Clear(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pattern == "*" {
		n := len(s.entries)
		s.entries = make(map[string]entry)
		return n
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return 0
	}
	n := 0
	for k := range s.entries {
		if g.Match(k) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Stats returns cumulative hit/miss counts and the current entry count.
// Entries includes stale entries no Get has collected yet.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: n,
	}
}
