package instrumentation

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Never attach raw tokens, secrets or passwords; subject
// ids and outcomes only.
const (
	AttrUserID    = "auth.user_id"
	AttrOutcome   = "auth.outcome"
	AttrIssuedVia = "auth.issued_via"
	AttrTokenType = "auth.token_type"
	AttrReason    = "auth.reason"
	AttrLimiter   = "auth.rate_limiter"
	AttrComponent = "auth.component"
	AttrAttempt   = "auth.key_fetch.attempt"
)

// RecordError marks span as failed (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetOK marks span as successful (nil-safe).
func SetOK(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}
