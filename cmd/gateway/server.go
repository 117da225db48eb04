package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/infra"
	"admission-gateway/middleware/ratelimit/presets"
)

const skipHeader = "X-RateLimit-Skip"

type gateway struct {
	cfg     config
	logger  *zap.Logger
	presets *presets.Registry
	store   *infra.MemoryStore
	limiter *ratelimit.Limiter
	handler http.Handler

	closers []func() error
}

// newGateway wires the proxy, the admission middleware and the stats sinks.
// rdb overrides the redis client built from cfg (tests).
func newGateway(ctx context.Context, cfg config, logger *zap.Logger, rdb redis.UniversalClient) (*gateway, error) {
	g := &gateway{cfg: cfg, logger: logger, presets: presets.NewRegistry()}

	if cfg.PresetsFile != "" {
		if err := g.presets.LoadFile(cfg.PresetsFile); err != nil {
			return nil, err
		}
	}

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.Error(err), zap.String("path", r.URL.Path), requestIDField(r.Context()))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	g.store = infra.NewMemoryStore(infra.WithSweepEvery(cfg.SweepEvery))

	reg := prometheus.NewRegistry()
	var sinks infra.MultiStats
	if cfg.MetricsEnabled {
		prom, err := infra.NewPrometheusStats(reg, "gateway", g.store.Size)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		sinks = append(sinks, prom)
	}

	if cfg.RateStatsEnabled {
		if rdb == nil {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.RateStatsRedisAddr,
				Password: cfg.RateStatsRedisPassword,
				DB:       cfg.RateStatsRedisDB,
			})
			g.closers = append(g.closers, client.Close)
			rdb = client
		}

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			g.close()
			return nil, fmt.Errorf("redis stats ping: %w", err)
		}

		sinks = append(sinks, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.RateStatsPrefix),
			infra.WithStatsTTL(cfg.RateStatsTTL),
			infra.WithStatsBucket(cfg.RateStatsBucket),
			infra.WithStatsTrackKeys(cfg.RateStatsTrackKeys),
		))
	}

	opts := ratelimit.Options{Store: g.store, Logger: logger.Named("ratelimit")}
	if len(sinks) > 0 {
		opts.Stats = sinks
	}
	g.limiter = ratelimit.New(opts)

	upstream := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.ConcurrencyMax,
		AcquireTimeout: cfg.ConcurrencyTimeout,
	})(proxy)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if cfg.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(bearer(cfg.AdminToken))
			r.Get("/ratelimit", g.adminSize)
			r.Delete("/ratelimit", g.adminClear)
		})
	}

	if !cfg.RateEnabled {
		r.Handle("/*", upstream)
		g.handler = r
		return g, nil
	}

	for _, rc := range cfg.Routes {
		mw, err := g.rateLimit(rc.Preset, rc.KeyHeader, strings.TrimSuffix(rc.Prefix, "/"))
		if err != nil {
			g.close()
			return nil, fmt.Errorf("route %q: %w", rc.Prefix, err)
		}
		p := strings.TrimSuffix(rc.Prefix, "/")
		r.With(mw).Handle(p, upstream)
		r.With(mw).Handle(p+"/*", upstream)
	}

	mw, err := g.rateLimit(cfg.RatePreset, "", "")
	if err != nil {
		g.close()
		return nil, err
	}
	r.With(mw).Handle("/*", upstream)

	g.handler = r
	return g, nil
}

// rateLimit builds the admission middleware for one route. A non-empty scope
// prefixes identifiers so each route prefix counts in its own windows while
// sharing the gateway's store.
func (g *gateway) rateLimit(preset, keyHeader, scope string) (func(http.Handler) http.Handler, error) {
	q, err := g.presets.Get(preset)
	if err != nil {
		return nil, err
	}
	if keyHeader == "" {
		keyHeader = g.cfg.RateKeyHeader
	}

	ident := ratelimit.HeaderIdentifier(keyHeader, g.cfg.TrustXFF)
	if scope != "" {
		base := ident
		ident = func(r *http.Request) string { return scope + "|" + base(r) }
	}

	return g.limiter.WithRateLimit(ratelimit.Config{
		Quota:      q,
		Route:      strings.ToLower(strings.TrimSpace(preset)),
		Identifier: ident,
		Skip:       ratelimit.HeaderEquals(skipHeader, g.cfg.SkipToken),
	}), nil
}

func (g *gateway) adminSize(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"size": g.limiter.Size()})
}

func (g *gateway) adminClear(w http.ResponseWriter, r *http.Request) {
	g.limiter.Clear()
	g.logger.Info("rate limit state cleared", requestIDField(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func bearer(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// run serves until ctx is done, then drains in-flight requests.
func (g *gateway) run(ctx context.Context) error {
	defer g.close()

	srv := &http.Server{
		Addr:              g.cfg.ListenAddr,
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	grp, ctx := errgroup.WithContext(ctx)
	g.store.StartJanitor(ctx)

	grp.Go(func() error {
		g.logger.Info("gateway listening",
			zap.String("addr", g.cfg.ListenAddr),
			zap.String("upstream", g.cfg.UpstreamURL),
			zap.Bool("rate_enabled", g.cfg.RateEnabled),
			zap.String("rate_preset", g.cfg.RatePreset),
			zap.Int("routes", len(g.cfg.Routes)),
			zap.Int("concurrency_max", g.cfg.ConcurrencyMax),
			zap.Bool("rate_stats_enabled", g.cfg.RateStatsEnabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return grp.Wait()
}

func (g *gateway) close() {
	for _, c := range g.closers {
		_ = c()
	}
	g.closers = nil
}
