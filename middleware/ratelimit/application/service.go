package application

import (
	"github.com/jonboulle/clockwork"

	"admission-gateway/middleware/ratelimit/domain"
)

// Service holds the admission rule for fixed windows.
//
// It knows nothing about HTTP (headers/status), it only returns a decision.
// Evaluate and Commit always run inside the same per-key critical section: calling
// them back to back without Locker lets concurrent requests over-admit.
type Service struct {
	Store  domain.WindowStore
	Locker domain.Locker
	Clock  clockwork.Clock
}

// Admit evaluates key against q and, when allowed, commits the unit.
//
// Remaining is post-commit when admitted and 0 when rejected.
func (s Service) Admit(key domain.Key, q domain.Quota) domain.Decision {
	if s.Store == nil {
		return domain.Decision{Allowed: true, Limit: q.MaxRequests, Remaining: q.MaxRequests}
	}
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}

	if s.Locker != nil {
		unlock := s.Locker.Lock(key)
		defer unlock()
	}

	now := s.Clock.Now()
	dec := Evaluate(s.Store, key, q, now)
	if !dec.Allowed {
		dec.Remaining = 0
		return dec
	}

	ent := Commit(s.Store, key, q, now)
	dec.Remaining = max(0, q.MaxRequests-ent.Count)
	return dec
}
