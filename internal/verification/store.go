package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/goOnboard/internal/cache"
)

var (
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("verification store unavailable")
	// ErrStoreContention is returned when an update keeps losing its compare-and-set.
	ErrStoreContention = errors.New("verification store contention")
)

// UpdateFunc inspects the current record (found is false when none exists) and
// returns true when rec should be written back.
type UpdateFunc func(rec *Record, found bool) (bool, error)

// Store persists records by key. Update is an atomic read-modify-write: fn may run
// more than once when a concurrent writer wins the race.
type Store interface {
	Save(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

const (
	maxUpdateRetries = 4
	// Records outlive their code so late submissions report expiry rather than absence.
	expiredRetention = 10 * time.Minute
)

func retentionTTL(rec Record, now time.Time) time.Duration {
	return rec.ExpiresAt.Add(expiredRetention).Sub(now)
}

type memEntry struct {
	rec     Record
	version uint64
}

// MemoryStore keeps records in a bounded TTL cache. Update reads a versioned copy,
// runs fn without holding the mutex, then commits only if the version is unchanged.
type MemoryStore struct {
	mu      sync.Mutex
	entries *cache.Cache[string, memEntry]
	seq     uint64
	now     func() time.Time
}

// NewMemoryStore builds a store holding at most maxEntries records.
func NewMemoryStore(maxEntries int, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: cache.New[string, memEntry](cache.Config{
			MaxEntries:      maxEntries,
			CleanupInterval: time.Minute,
			Now:             now,
		}),
		now: now,
	}
}

// Save replaces the record under key.
func (s *MemoryStore) Save(_ context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.entries.Set(key, memEntry{rec: rec, version: s.seq}, ttl)
	return nil
}

// Update applies fn with optimistic concurrency.
func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	for i := 0; i < maxUpdateRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		cur, found := s.entries.Get(key)
		s.mu.Unlock()

		rec := cur.rec
		write, err := fn(&rec, found)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}

		s.mu.Lock()
		latest, stillThere := s.entries.Get(key)
		if stillThere != found || (found && latest.version != cur.version) {
			s.mu.Unlock()
			continue
		}
		ttl := retentionTTL(rec, s.now())
		if ttl <= 0 {
			s.entries.Delete(key)
			s.mu.Unlock()
			return nil
		}
		s.seq++
		s.entries.Set(key, memEntry{rec: rec, version: s.seq}, ttl)
		s.mu.Unlock()
		return nil
	}
	return ErrStoreContention
}

// Peek returns a copy of the stored record, for diagnostics and tests.
func (s *MemoryStore) Peek(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Get(key)
	return e.rec, ok
}
