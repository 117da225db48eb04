package infra

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"admission-gateway/middleware/ratelimit/domain"
)

// StripedLocker implements domain.Locker with a fixed set of mutexes; a key
// always hashes to the same stripe, so two requests for one key never overlap.
// Distinct keys only contend when they share a stripe.
type StripedLocker struct {
	stripes []sync.Mutex
}

func NewStripedLocker(n int) *StripedLocker {
	if n <= 0 {
		n = 1
	}
	return &StripedLocker{stripes: make([]sync.Mutex, n)}
}

func (l *StripedLocker) Lock(key domain.Key) func() {
	mu := &l.stripes[xxhash.Sum64String(string(key))%uint64(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}
