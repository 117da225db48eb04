package domain

import (
	"context"
	"time"
)

// StatsEvent describes one admission decision.
//
// Method/Path are plain strings so the event stays transport agnostic.
// Route is the logical route or preset name the quota came from.
//
// Watch the cardinality: storing Key or Path unchecked can blow up the number of
// series/keys in Redis or Prometheus.
type StatsEvent struct {
	Key     Key
	Allowed bool

	Route  string
	Method string
	Path   string

	At time.Time
}

// StatsStore persists admission statistics.
//
// Recording is best effort: the middleware never lets a failing store change the
// outcome of a request.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
