package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const defaultCleanupInterval = 30 * time.Second

// Staleness classifies an entry by age
type Staleness int

const (
	StalenessMissing Staleness = iota // absent or never loaded
	StalenessFresh
	StalenessStale
	StalenessExpired // data was older than the cache time and has been dropped
)

// String implements fmt.Stringer
func (s Staleness) String() string {
	switch s {
	case StalenessFresh:
		return "fresh"
	case StalenessStale:
		return "stale"
	case StalenessExpired:
		return "expired"
	default:
		return "missing"
	}
}

// NeedsFetch reports whether the entry has nothing usable to serve
func (s Staleness) NeedsFetch() bool {
	return s == StalenessMissing || s == StalenessExpired
}

// Entry is the cached state of one key
type Entry struct {
	Data         any
	HasData      bool
	Timestamp    time.Time // time of the last successful write
	IsLoading    bool      // blocking fetch in progress and nothing to show yet
	IsValidating bool      // any fetch in progress
	Err          error     // last failure after retries were exhausted
	RetryCount   int
	cacheTime    time.Duration
}

// Store holds one Entry per key. Entries expire by age only; there is no
// size bound. A background loop drops entries older than the cache time
// they were written with.
type Store struct {
	mu              sync.RWMutex
	entries         map[string]*Entry
	clock           clock.Clock
	logger          *zap.Logger
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopped         int32

	hits   int64
	misses int64
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithStoreClock sets the clock used for timestamps and the cleanup loop
func WithStoreClock(c clock.Clock) StoreOption {
	return func(s *Store) {
		s.clock = c
	}
}

// WithStoreLogger sets the store logger
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithCleanupInterval sets how often expired entries are swept.
// A non-positive interval disables the sweep.
func WithCleanupInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		s.cleanupInterval = d
	}
}

// NewStore creates an empty store and starts its cleanup loop
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries:         make(map[string]*Entry),
		clock:           clock.New(),
		logger:          zap.NewNop(),
		cleanupInterval: defaultCleanupInterval,
		stopCh:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupInterval > 0 {
		go s.cleanupExpired(s.clock.Ticker(s.cleanupInterval))
	}

	return s
}

// Get returns a copy of the entry for key
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Lookup classifies the entry for key against staleTime and cacheTime.
// Expired data is discarded; in-flight flags and errors on the entry survive.
func (s *Store) Lookup(key string, staleTime, cacheTime time.Duration) (Entry, Staleness) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.HasData {
		atomic.AddInt64(&s.misses, 1)
		if ok {
			return *e, StalenessMissing
		}
		return Entry{}, StalenessMissing
	}

	age := s.clock.Since(e.Timestamp)
	switch {
	case age < staleTime:
		atomic.AddInt64(&s.hits, 1)
		return *e, StalenessFresh
	case age < cacheTime:
		atomic.AddInt64(&s.hits, 1)
		return *e, StalenessStale
	default:
		s.logger.Debug("Discarding expired cache entry",
			zap.String("key", key),
			zap.Duration("age", age))
		atomic.AddInt64(&s.misses, 1)
		if !e.IsLoading && !e.IsValidating {
			delete(s.entries, key)
			return Entry{}, StalenessExpired
		}
		e.Data = nil
		e.HasData = false
		return *e, StalenessExpired
	}
}

// Set records a successful fetch or an optimistic write for key.
// The timestamp is reset, the error and retry counter are cleared.
func (s *Store) Set(key string, data any, cacheTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	e.Data = data
	e.HasData = true
	e.Timestamp = s.clock.Now()
	e.Err = nil
	e.RetryCount = 0
	e.IsLoading = false
	e.IsValidating = false
	e.cacheTime = cacheTime
}

// Update applies fn to the entry for key, creating it if needed
func (s *Store) Update(key string, fn func(e *Entry)) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(key)
	fn(e)
	return *e
}

// Delete removes the entry for key
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the stored keys in sorted order
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// GetStats returns lookup statistics
func (s *Store) GetStats() (hits, misses int64) {
	return atomic.LoadInt64(&s.hits), atomic.LoadInt64(&s.misses)
}

// Cleanup removes every idle entry whose age reached the cache time it was
// written with and returns how many were removed.
func (s *Store) Cleanup() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.IsLoading || e.IsValidating || !e.HasData || e.cacheTime <= 0 {
			continue
		}
		if now.Sub(e.Timestamp) >= e.cacheTime {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Close stops the cleanup loop
func (s *Store) Close() error {
	if atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		close(s.stopCh)
	}
	return nil
}

func (s *Store) entry(key string) *Entry {
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{}
		s.entries[key] = e
	}
	return e
}

func (s *Store) cleanupExpired(ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("Panic in cache cleanup",
							zap.Any("panic", r))
					}
				}()
				if n := s.Cleanup(); n > 0 {
					s.logger.Debug("Removed expired cache entries", zap.Int("count", n))
				}
			}()
		}
	}
}
