package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters recorded by the auth service. All Record
// methods are safe on a nil receiver.
type Metrics struct {
	TokensIssued       metric.Int64Counter
	Refreshes          metric.Int64Counter
	TokenReuseDetected metric.Int64Counter
	TokensRevoked      metric.Int64Counter
	RateLimitExceeded  metric.Int64Counter
	FailOpen           metric.Int64Counter
	KeyFetchAttempts   metric.Int64Counter
	KeyFetchFailures   metric.Int64Counter
	LoginFailures      metric.Int64Counter
	ValidationFailures metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&m.TokensIssued, "auth.tokens.issued", "Token pairs issued", "{pair}"},
		{&m.Refreshes, "auth.refresh.total", "Refresh requests by outcome", "{request}"},
		{&m.TokenReuseDetected, "auth.refresh.reuse_detected", "Presented refresh tokens that were already rotated or revoked", "{attempt}"},
		{&m.TokensRevoked, "auth.tokens.revoked", "Tokens revoked", "{token}"},
		{&m.RateLimitExceeded, "auth.rate_limit.exceeded", "Requests denied by a rate limiter", "{request}"},
		{&m.FailOpen, "auth.fail_open", "Requests admitted because a backing store failed", "{request}"},
		{&m.KeyFetchAttempts, "auth.key_fetch.attempts", "Signing key fetch attempts", "{attempt}"},
		{&m.KeyFetchFailures, "auth.key_fetch.failures", "Failed signing key fetch attempts", "{attempt}"},
		{&m.LoginFailures, "auth.login.failures", "Failed login attempts by reason", "{attempt}"},
		{&m.ValidationFailures, "auth.validate.failures", "Rejected access tokens by reason", "{token}"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokensIssued counts a pair minted by login or refresh.
func (m *Metrics) RecordTokensIssued(ctx context.Context, via string) {
	if m == nil {
		return
	}
	add(ctx, m.TokensIssued, attribute.String(AttrIssuedVia, via))
}

func (m *Metrics) RecordRefresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	add(ctx, m.Refreshes, attribute.String(AttrOutcome, outcome))
}

func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	add(ctx, m.TokenReuseDetected)
}

func (m *Metrics) RecordTokenRevoked(ctx context.Context, tokenType string, n int64) {
	if m == nil || m.TokensRevoked == nil || n <= 0 {
		return
	}
	m.TokensRevoked.Add(ctx, n, metric.WithAttributes(attribute.String(AttrTokenType, tokenType)))
}

func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiter string) {
	if m == nil {
		return
	}
	add(ctx, m.RateLimitExceeded, attribute.String(AttrLimiter, limiter))
}

// RecordFailOpen counts a request admitted despite a store failure in
// component ("ratelimit" or "revocation").
func (m *Metrics) RecordFailOpen(ctx context.Context, component string) {
	if m == nil {
		return
	}
	add(ctx, m.FailOpen, attribute.String(AttrComponent, component))
}

func (m *Metrics) RecordKeyFetch(ctx context.Context, err error) {
	if m == nil {
		return
	}
	add(ctx, m.KeyFetchAttempts)
	if err != nil {
		add(ctx, m.KeyFetchFailures)
	}
}

func (m *Metrics) RecordLoginFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	add(ctx, m.LoginFailures, attribute.String(AttrReason, reason))
}

func (m *Metrics) RecordValidationFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	add(ctx, m.ValidationFailures, attribute.String(AttrReason, reason))
}
