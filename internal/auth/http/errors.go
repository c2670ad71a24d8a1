package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// writeServiceError maps the service error taxonomy onto responses. Every
// credential or token failure collapses into one generic error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrAccountLocked):
		authsdk.ErrInvalidCredentials.WriteError(w)
	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrExpiredToken),
		errors.Is(err, service.ErrTokenReuseDetected),
		errors.Is(err, service.ErrRevokedToken):
		authsdk.ErrInvalidToken.WriteError(w)
	case service.IsUnavailable(err):
		slogx.FromContext(r.Context()).Error("dependency unavailable", "err", err)
		authsdk.ErrUnavailable.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}

// writeAuthnError renders a failed bearer check: 503 when the key or the
// blacklist could not be read, 401 otherwise.
func writeAuthnError(w http.ResponseWriter, r *http.Request, err error) {
	if service.IsUnavailable(err) {
		slogx.FromContext(r.Context()).Error("cannot validate token", "err", err)
		authsdk.ErrUnavailable.WriteError(w)
		return
	}
	if !errors.Is(err, httpx.ErrMissingBearer) {
		slogx.FromContext(r.Context()).Debug("token rejected", "err", err)
	}
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	authsdk.ErrInvalidToken.WriteError(w)
}
