package domain

import "context"

// SlotPool is a resource with a finite number of slots (e.g. in-flight requests).
//
// Acquire blocks until a slot frees up or ctx is done. On success it returns a
// release func that must be called exactly once.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
