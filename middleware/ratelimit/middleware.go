package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

// Config describes one admission policy.
type Config struct {
	domain.Quota

	// Route names the policy in stats and logs (usually the preset name).
	Route string

	// Identifier defaults to DefaultIdentifier.
	Identifier IdentifierFunc
	// Skip, when it returns true, lets the request through without touching the
	// store or setting any header.
	Skip SkipFunc
}

func (c Config) Validate() error { return c.Quota.Validate() }

// Options wires a Limiter to its collaborators. Every field is optional.
type Options struct {
	Store  domain.WindowStore
	Locker domain.Locker
	Clock  clockwork.Clock
	Stats  domain.StatsStore
	Logger *zap.Logger
}

// Limiter owns the window state shared by every middleware it builds.
//
// Middlewares built from the same Limiter count a given identifier against the
// same window, whatever the route. Use separate Limiters for isolated counters.
type Limiter struct {
	svc    application.Service
	store  domain.WindowStore
	stats  domain.StatsStore
	clock  clockwork.Clock
	logger *zap.Logger

	rejectLog *rate.Sometimes
}

func New(opts Options) *Limiter {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Store == nil {
		opts.Store = infra.NewMemoryStore(infra.WithClock(opts.Clock))
	}
	if opts.Locker == nil {
		opts.Locker = infra.NewStripedLocker(64)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Limiter{
		svc: application.Service{
			Store:  opts.Store,
			Locker: opts.Locker,
			Clock:  opts.Clock,
		},
		store:     opts.Store,
		stats:     opts.Stats,
		clock:     opts.Clock,
		logger:    opts.Logger,
		rejectLog: &rate.Sometimes{Interval: time.Second},
	}
}

// Store exposes the underlying window store (for janitors and admin endpoints).
func (l *Limiter) Store() domain.WindowStore { return l.store }

// Clear forgets every tracked identifier.
func (l *Limiter) Clear() { l.store.Clear() }

// Size reports how many identifiers are tracked.
func (l *Limiter) Size() int { return l.store.Size() }

// WithRateLimit returns the admission middleware for cfg. It panics if cfg is
// invalid.
func (l *Limiter) WithRateLimit(cfg Config) func(next http.Handler) http.Handler {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("ratelimit: %w", err))
	}
	if cfg.Identifier == nil {
		cfg.Identifier = DefaultIdentifier
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := domain.Key(cfg.Identifier(r))
			dec := l.svc.Admit(key, cfg.Quota)
			l.record(r, cfg, key, dec)

			if !dec.Allowed {
				l.rejectLog.Do(func() {
					l.logger.Warn("rate limit exceeded",
						zap.String("identifier", string(key)),
						zap.String("route", cfg.Route),
						zap.Int("limit", dec.Limit),
						zap.Int("retry_after", dec.RetryAfter),
					)
				})
				writeRateLimited(w, cfg.Quota, dec)
				return
			}

			setRateLimitHeaders(w.Header(), dec)
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) record(r *http.Request, cfg Config, key domain.Key, dec domain.Decision) {
	if l.stats == nil {
		return
	}
	err := l.stats.Record(context.WithoutCancel(r.Context()), domain.StatsEvent{
		Key:     key,
		Allowed: dec.Allowed,
		Route:   cfg.Route,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      l.clock.Now(),
	})
	if err != nil {
		l.logger.Debug("stats record failed", zap.Error(err))
	}
}

// WithRateLimit builds a middleware backed by its own private Limiter and
// in-memory store.
func WithRateLimit(cfg Config) func(next http.Handler) http.Handler {
	return New(Options{}).WithRateLimit(cfg)
}
