package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func okHandler(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func send(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/api", nil)
	if ip != "" {
		r.Header.Set("X-Forwarded-For", ip)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func quota(max int, windowMs int64) Config {
	return Config{Quota: domain.Quota{MaxRequests: max, WindowMs: windowMs}}
}

func TestWithRateLimit_CountsDownThenRejects(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	lim := New(Options{Clock: clock})
	var calls atomic.Int32
	h := lim.WithRateLimit(quota(3, 60_000))(okHandler(&calls))

	for _, want := range []string{"2", "1", "0"} {
		w := send(h, "1.2.3.4")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get(HeaderLimit))
		assert.Equal(t, want, w.Header().Get(HeaderRemaining))
		assert.Equal(t, "1700000060", w.Header().Get(HeaderReset))
		assert.Empty(t, w.Header().Get(HeaderRetryAfter))
	}

	w := send(h, "1.2.3.4")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRemaining))
	assert.Equal(t, "60", w.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "1700000060", w.Header().Get(HeaderReset))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":{"message":"Rate limit exceeded","code":"RATE_LIMIT_EXCEEDED","status":429,
		"details":{"limit":3,"windowMs":60000,"retryAfter":60}}}`, w.Body.String())

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, lim.Size())
}

func TestWithRateLimit_WindowResets(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	h := New(Options{Clock: clock}).WithRateLimit(quota(1, 60_000))(okHandler(nil))

	require.Equal(t, http.StatusOK, send(h, "a").Code)
	require.Equal(t, http.StatusTooManyRequests, send(h, "a").Code)

	clock.Advance(59_500 * time.Millisecond)
	w := send(h, "a")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderRetryAfter))

	clock.Advance(500 * time.Millisecond)
	w = send(h, "a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRemaining))
	assert.Equal(t, "1700000120", w.Header().Get(HeaderReset))
}

func TestWithRateLimit_StaggeredIdentifiers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	h := New(Options{Clock: clock}).WithRateLimit(quota(2, 10_000))(okHandler(nil))

	require.Equal(t, http.StatusOK, send(h, "A").Code)
	clock.Advance(5 * time.Second)
	require.Equal(t, http.StatusOK, send(h, "B").Code)
	require.Equal(t, http.StatusOK, send(h, "A").Code)
	require.Equal(t, http.StatusTooManyRequests, send(h, "A").Code)

	// A's window closes at t0+10s, B's at t0+15s.
	clock.Advance(5 * time.Second)
	assert.Equal(t, http.StatusOK, send(h, "A").Code)
	assert.Equal(t, http.StatusOK, send(h, "B").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "B").Code)
}

func TestWithRateLimit_SkipLeavesNoTrace(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	lim := New(Options{Stats: stats})
	cfg := quota(1, 60_000)
	cfg.Skip = func(r *http.Request) bool { return r.Header.Get("X-Internal") == "yes" }
	h := lim.WithRateLimit(cfg)(okHandler(nil))

	for range 3 {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Internal", "yes")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get(HeaderLimit))
		assert.Empty(t, w.Header().Get(HeaderRemaining))
	}

	assert.Zero(t, lim.Size())
	assert.Equal(t, infra.Counters{}, stats.Total())
}

func TestWithRateLimit_HeadersVisibleToNextHandler(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(HeaderRemaining)
		_, _ = w.Write([]byte("ok"))
	})
	h := WithRateLimit(quota(5, 60_000))(next)

	w := send(h, "9.9.9.9")
	assert.Equal(t, "4", seen)
	assert.Equal(t, "4", w.Header().Get(HeaderRemaining))
}

func TestWithRateLimit_UnknownClientsShareWindow(t *testing.T) {
	h := WithRateLimit(quota(2, 60_000))(okHandler(nil))

	assert.Equal(t, http.StatusOK, send(h, "").Code)
	assert.Equal(t, http.StatusOK, send(h, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "").Code)
}

func TestWithRateLimit_ConcurrentRequestsAdmitExactlyQuota(t *testing.T) {
	const n, q = 50, 7
	h := New(Options{Clock: clockwork.NewFakeClockAt(t0)}).WithRateLimit(quota(q, 60_000))(okHandler(nil))

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch send(h, "same").Code {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusTooManyRequests:
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(q), ok.Load())
	assert.Equal(t, int32(n-q), rejected.Load())
}

func TestLimiter_SharedAcrossRoutes(t *testing.T) {
	lim := New(Options{Clock: clockwork.NewFakeClockAt(t0)})
	a := lim.WithRateLimit(quota(2, 60_000))(okHandler(nil))
	b := lim.WithRateLimit(quota(2, 60_000))(okHandler(nil))

	require.Equal(t, http.StatusOK, send(a, "k").Code)
	require.Equal(t, http.StatusOK, send(b, "k").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(a, "k").Code)

	lim.Clear()
	assert.Zero(t, lim.Size())
	assert.Equal(t, http.StatusOK, send(b, "k").Code)
}

func TestWithRateLimit_InvalidConfigPanics(t *testing.T) {
	for _, cfg := range []Config{quota(0, 1000), quota(1, 0), quota(-1, -1)} {
		func() {
			defer func() {
				err, ok := recover().(error)
				require.True(t, ok, "expected an error panic for %+v", cfg.Quota)
				assert.ErrorIs(t, err, domain.ErrInvalidQuota)
			}()
			WithRateLimit(cfg)
		}()
	}
}

func TestWithRateLimit_IdentifierPanicPropagates(t *testing.T) {
	cfg := quota(1, 1000)
	cfg.Identifier = func(*http.Request) string { panic("boom") }
	h := WithRateLimit(cfg)(okHandler(nil))

	assert.PanicsWithValue(t, "boom", func() { send(h, "x") })
}

func TestWithRateLimit_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(8))
	cfg := quota(1, 60_000)
	cfg.Route = "strict"
	h := New(Options{Stats: stats}).WithRateLimit(cfg)(okHandler(nil))

	send(h, "a")
	send(h, "a")
	send(h, "b")

	assert.Equal(t, infra.Counters{Allowed: 2, Denied: 1}, stats.ByRoute()["strict"])
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.ByKey()["a"])
}

func TestWithRateLimit_RejectionLogIsSampled(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := New(Options{Logger: zap.New(core)}).WithRateLimit(quota(1, 60_000))(okHandler(nil))

	send(h, "a")
	for range 10 {
		require.Equal(t, http.StatusTooManyRequests, send(h, "a").Code)
	}

	entries := logs.FilterMessage("rate limit exceeded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ContextMap()["identifier"])
}

func TestRateLimitedBody_Decodes(t *testing.T) {
	h := WithRateLimit(quota(1, 1500))(okHandler(nil))
	send(h, "z")
	w := send(h, "z")

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.NotNil(t, body.Error.Details)
	assert.Equal(t, http.StatusTooManyRequests, body.Error.Status)
	assert.Equal(t, int64(1500), body.Error.Details.WindowMs)
	assert.Equal(t, 2, body.Error.Details.RetryAfter)
}
