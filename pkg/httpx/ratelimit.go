package httpx

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeeper/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, subject).
type KeyExtractor func(*http.Request) string

// IPKeyExtractor returns the client IP address. Forwarding headers are
// only honoured when trustProxy is set, otherwise any client could pick
// its own bucket.
func IPKeyExtractor(trustProxy bool) KeyExtractor {
	return func(r *http.Request) string {
		if trustProxy {
			// X-Forwarded-For is a comma-separated list; the first entry is the client.
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if xri := r.Header.Get("X-Real-IP"); xri != "" {
				return strings.TrimSpace(xri)
			}
		}

		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return ip
	}
}

// SubjectKeyExtractor extracts the token subject stored by AuthnMiddleware.
// Returns empty string if the request is unauthenticated.
func SubjectKeyExtractor(r *http.Request) string {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		return c.Subject
	}
	return ""
}

// RateLimitOptions configures RateLimitMiddleware.
type RateLimitOptions struct {
	// Name identifies the gate in logs and in OnDenied, e.g. "ip".
	Name    string
	Limiter ratelimit.Limiter
	Key     KeyExtractor

	// RetryAfter is advertised on 429 responses, rounded up to whole
	// seconds and never less than one.
	RetryAfter time.Duration

	OnDenied func(r *http.Request, name string)
}

// RateLimitMiddleware admits a request only when the limiter grants a token
// for its key. Requests without a key pass through. A limiter error is
// answered with 503; wrap backends that may fail in ratelimit.FailOpen to
// admit instead.
func RateLimitMiddleware(opts RateLimitOptions) Middleware {
	retryAfter := strconv.Itoa(retryAfterSeconds(opts.RetryAfter))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			key := opts.Key(r)
			if key == "" {
				log.Debug("rate limit: no key, allowing request", slog.String("limiter", opts.Name))
				next.ServeHTTP(w, r)
				return
			}

			ok, err := opts.Limiter.TryAcquire(ctx, key)
			if err != nil {
				log.Error("rate limit: limiter unavailable",
					slog.String("limiter", opts.Name),
					slog.Any("err", err),
				)
				WriteError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "rate limiter unavailable")
				return
			}
			if !ok {
				if opts.OnDenied != nil {
					opts.OnDenied(r, opts.Name)
				}
				log.Warn("rate limit exceeded",
					slog.String("limiter", opts.Name),
					slog.String("key", key),
					slog.String("endpoint", r.URL.Path),
				)
				w.Header().Set("Retry-After", retryAfter)
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}
