package domain

// Domain layer for fixed-window admission control.
//
// Rules and contracts (interfaces/types) with no net/http dependency.

import (
	"errors"
	"fmt"
	"time"
)

// Key identifies the bucket a request is counted against (client address, API key, user...).
type Key string

var ErrInvalidQuota = errors.New("invalid quota")

// Quota is the number of admissions allowed per fixed window.
type Quota struct {
	MaxRequests int   `yaml:"maxRequests" json:"maxRequests"`
	WindowMs    int64 `yaml:"windowMs" json:"windowMs"`
}

func (q Quota) Validate() error {
	if q.MaxRequests <= 0 {
		return fmt.Errorf("%w: maxRequests must be > 0, got %d", ErrInvalidQuota, q.MaxRequests)
	}
	if q.WindowMs <= 0 {
		return fmt.Errorf("%w: windowMs must be > 0, got %d", ErrInvalidQuota, q.WindowMs)
	}
	return nil
}

func (q Quota) Window() time.Duration { return time.Duration(q.WindowMs) * time.Millisecond }

// WindowEntry is the state of the active window for one key.
//
// Count is never negative. Once now >= ResetAt the window is expired and must be
// replaced, never incremented.
type WindowEntry struct {
	Count   int
	ResetAt int64 // epoch milliseconds
}

func (e WindowEntry) Expired(nowMs int64) bool { return nowMs >= e.ResetAt }

// WindowStore maps keys to their window state.
//
// It is a plain data holder: no eviction, no errors. Staleness is decided by the
// policy, not by the store.
type WindowStore interface {
	Get(Key) (WindowEntry, bool)
	Put(Key, WindowEntry)
	Clear()
	Size() int
}

// Locker hands out the critical section for one key. The returned func releases it.
type Locker interface {
	Lock(Key) (unlock func())
}

// Decision is the outcome of evaluating one key against a quota.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is the Unix time (seconds, rounded up) at which the window ends.
	ResetAt int64
	// RetryAfter is the number of seconds (rounded up) until the window resets.
	// Only set when Allowed is false; 0 means "no recommendation".
	RetryAfter int
}
