package httpx_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestIPKeyExtractor(t *testing.T) {
	t.Parallel()

	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(false)(req))
	})

	t.Run("ignores forwarding headers by default", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")

		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(false)(req))
	})

	t.Run("prefers X-Forwarded-For behind a proxy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1, 192.168.1.1")

		require.Equal(t, "203.0.113.1", httpx.IPKeyExtractor(true)(req))
	})

	t.Run("uses X-Real-IP if X-Forwarded-For absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Real-IP", "203.0.113.2")

		require.Equal(t, "203.0.113.2", httpx.IPKeyExtractor(true)(req))
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	cfg := ratelimit.Config{Capacity: 2, Rate: 1, Window: 30 * time.Second}
	var denied []string

	h := httpx.Chain(okHandler, httpx.RateLimitMiddleware(httpx.RateLimitOptions{
		Name:       "ip",
		Limiter:    ratelimit.NewMemoryLimiter(cfg, clk, 0),
		Key:        httpx.IPKeyExtractor(false),
		RetryAfter: cfg.Interval(),
		OnDenied:   func(_ *http.Request, name string) { denied = append(denied, name) },
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, do("192.0.2.1").Code)
	require.Equal(t, http.StatusOK, do("192.0.2.1").Code)

	rec := do("192.0.2.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error":"rate_limited","error_description":"too many requests, try again later"}`, rec.Body.String())
	require.Equal(t, []string{"ip"}, denied)

	require.Equal(t, http.StatusOK, do("192.0.2.2").Code, "keys are independent")

	clk.Advance(30 * time.Second)
	require.Equal(t, http.StatusOK, do("192.0.2.1").Code, "one token refilled")
	require.Equal(t, http.StatusTooManyRequests, do("192.0.2.1").Code)
}

type failingLimiter struct{}

func (failingLimiter) TryAcquire(context.Context, string) (bool, error) {
	return false, errors.New("redis: i/o timeout")
}

func TestRateLimitMiddleware_LimiterError(t *testing.T) {
	t.Parallel()

	do := func(l ratelimit.Limiter) *httptest.ResponseRecorder {
		h := httpx.RateLimitMiddleware(httpx.RateLimitOptions{
			Name:    "principal",
			Limiter: l,
			Key:     httpx.IPKeyExtractor(false),
		})(okHandler)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec
	}

	t.Run("unwrapped limiter answers 503", func(t *testing.T) {
		rec := do(failingLimiter{})
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.JSONEq(t, `{"error":"temporarily_unavailable","error_description":"rate limiter unavailable"}`, rec.Body.String())
	})

	t.Run("fail-open wrapper admits and reports", func(t *testing.T) {
		var reported []string
		l := ratelimit.FailOpen(failingLimiter{}, slogx.Discard(), func(key string, _ error) {
			reported = append(reported, key)
		})

		rec := do(l)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, []string{"192.0.2.1"}, reported)
	})
}

func TestRateLimitMiddleware_NoKeyPassesThrough(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Now())
	h := httpx.RateLimitMiddleware(httpx.RateLimitOptions{
		Name:    "principal",
		Limiter: ratelimit.NewMemoryLimiter(ratelimit.Config{Capacity: 1, Rate: 1, Window: time.Hour}, clk, 0),
		Key:     httpx.SubjectKeyExtractor,
	})(okHandler)

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
