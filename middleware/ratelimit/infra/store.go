package infra

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryStore is the in-process domain.WindowStore: a mutex-guarded map of
// window entries.
//
// It never evicts on its own. Sweep (or the janitor) drops expired windows to
// bound memory; an expired entry and an absent one mean the same thing to the
// policy, so sweeping never changes a decision.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.Key]domain.WindowEntry

	clock      clockwork.Clock
	sweepEvery time.Duration
}

type StoreOption func(*MemoryStore)

func WithClock(c clockwork.Clock) StoreOption {
	return func(s *MemoryStore) { s.clock = c }
}

func WithSweepEvery(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.sweepEvery = d }
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[domain.Key]domain.WindowEntry),
		clock:      clockwork.NewRealClock(),
		sweepEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) SweepEvery() time.Duration { return s.sweepEvery }

// Get implements domain.WindowStore.
func (s *MemoryStore) Get(key domain.Key) (domain.WindowEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entries[key]
	return ent, ok
}

// Put implements domain.WindowStore.
func (s *MemoryStore) Put(key domain.Key, ent domain.WindowEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = ent
}

// Clear implements domain.WindowStore.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
}

// Size implements domain.WindowStore.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep deletes every window that has expired at nowMs and returns how many were removed.
func (s *MemoryStore) Sweep(nowMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, ent := range s.entries {
		if ent.Expired(nowMs) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// StartJanitor sweeps expired windows every SweepEvery until ctx is done.
// A non-positive interval disables it.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.sweepEvery <= 0 {
		return
	}

	t := s.clock.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.Chan():
				s.Sweep(now.UnixMilli())
			}
		}
	}()
}
