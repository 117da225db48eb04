package infra

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"admission-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// MemoryStatsStore keeps admission counters in memory.
// Useful for tests, development and the gateway admin endpoint.
//
// Per-identifier counters are optional and bounded by an LRU so a scan of
// distinct client addresses cannot grow them without limit.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   *lru.Cache[domain.Key, Counters]

	maxKeys int
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackKeys enables per-identifier counters for at most max identifiers.
func WithTrackKeys(max int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.maxKeys = max }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxKeys > 0 {
		// only fails on a non-positive size
		s.byKey, _ = lru.New[domain.Key, Counters](s.maxKeys)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Route
	if route == "" {
		route = ev.Method + " " + ev.Path
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)

	c := s.byRoute[route]
	c.add(ev.Allowed)
	s.byRoute[route] = c

	if s.byKey != nil {
		k, _ := s.byKey.Get(ev.Key)
		k.add(ev.Allowed)
		s.byKey.Add(ev.Key, k)
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[domain.Key]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		return map[domain.Key]Counters{}
	}
	out := make(map[domain.Key]Counters, s.byKey.Len())
	for _, k := range s.byKey.Keys() {
		if v, ok := s.byKey.Peek(k); ok {
			out[k] = v
		}
	}
	return out
}
