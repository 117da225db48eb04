package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService acquires and releases in-flight slots with an optional
// timeout, without knowing anything about HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tries to take a slot.
//   - AcquireTimeout <= 0 waits until ctx is done.
//   - AcquireTimeout > 0 waits at most that long.
//
// When ok is false no slot was taken and release is a no-op.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok = s.Pool.Acquire(ctx)
	if !ok || release == nil {
		return func() {}, false
	}
	return release, true
}
