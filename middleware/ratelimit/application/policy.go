package application

import (
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Evaluate reports whether key is still within quota for the window active at now.
//
// It is read only. An absent or expired entry counts as a fresh window
// (count 0, ending at now+window); now == ResetAt is already expired.
// Remaining is the pre-commit value.
func Evaluate(store domain.WindowStore, key domain.Key, q domain.Quota, now time.Time) domain.Decision {
	nowMs := now.UnixMilli()

	count, resetAt := 0, nowMs+q.WindowMs
	if ent, ok := store.Get(key); ok && !ent.Expired(nowMs) {
		count, resetAt = ent.Count, ent.ResetAt
	}

	dec := domain.Decision{
		Allowed:   count < q.MaxRequests,
		Limit:     q.MaxRequests,
		Remaining: max(0, q.MaxRequests-count),
		ResetAt:   ceilDiv(resetAt, 1000),
	}
	if !dec.Allowed {
		dec.RetryAfter = int(ceilDiv(resetAt-nowMs, 1000))
	}
	return dec
}

// Commit records one admitted unit for key and returns the stored entry.
//
// A live window is incremented in place; an absent or expired one is replaced by
// a fresh window holding this single unit.
func Commit(store domain.WindowStore, key domain.Key, q domain.Quota, now time.Time) domain.WindowEntry {
	nowMs := now.UnixMilli()

	ent, ok := store.Get(key)
	if !ok || ent.Expired(nowMs) {
		ent = domain.WindowEntry{ResetAt: nowMs + q.WindowMs}
	}
	ent.Count++
	store.Put(key, ent)
	return ent
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return a / b
	}
	return (a + b - 1) / b
}
