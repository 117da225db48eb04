package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/infra"
	"admission-gateway/middleware/ratelimit/presets"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Example: embedding the middleware directly in your own server (no proxy).
	store := infra.NewMemoryStore()
	store.StartJanitor(ctx)

	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(1024))
	lim := ratelimit.New(ratelimit.Options{Store: store, Stats: stats, Logger: logger})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(lim, stats, presets.NewRegistry()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

// newRouter mounts one subrouter per preset. All of them share lim, so a
// client is counted in the same window whichever subrouter it hits.
func newRouter(lim *ratelimit.Limiter, stats *infra.MemoryStatsStore, reg *presets.Registry) http.Handler {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})))

	api := r.PathPrefix("/api").Subrouter()
	api.Use(mux.MiddlewareFunc(lim.WithRateLimit(ratelimit.Config{
		Quota:      reg.MustGet(presets.NameStandard),
		Route:      presets.NameStandard,
		Identifier: ratelimit.HeaderIdentifier("X-Api-Key", true),
		Skip:       isHealthCheck,
	})))
	api.HandleFunc("/health", ok).Methods(http.MethodGet)
	api.HandleFunc("/items", ok).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.Use(mux.MiddlewareFunc(lim.WithRateLimit(ratelimit.Config{
		Quota: reg.MustGet(presets.NameStrict),
		Route: presets.NameStrict,
	})))
	auth.HandleFunc("/login", ok).Methods(http.MethodPost)

	hooks := r.PathPrefix("/webhooks").Subrouter()
	hooks.Use(mux.MiddlewareFunc(lim.WithRateLimit(ratelimit.Config{
		Quota:      reg.MustGet(presets.NameWebhook),
		Route:      presets.NameWebhook,
		Identifier: ratelimit.HeaderIdentifier("X-Webhook-Source", false),
	})))
	hooks.HandleFunc("/{source}", ok).Methods(http.MethodPost)

	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tracked": lim.Size(),
			"total":   stats.Total(),
			"routes":  stats.ByRoute(),
		})
	}).Methods(http.MethodGet)

	return r
}

func isHealthCheck(r *http.Request) bool { return strings.HasSuffix(r.URL.Path, "/health") }

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
