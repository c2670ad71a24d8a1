package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// KeyCache is the part of *jwtx.KeyCache the key endpoints use.
type KeyCache interface {
	GetKey(ctx context.Context) (*jwtx.SigningKey, error)
	Invalidate()
}

// PublicKeyHandler godoc
//
//	@Summary		Verification key
//	@Description	Returns the RSA public key resource servers use to verify access tokens.
//	@Description	Answers 404 when the issuer signs with a shared secret.
//	@Tags			Keys
//	@Produce		json
//	@Success		200	{object}	jwtx.PublicKeyDocument
//	@Failure		404	{object}	authsdk.APIError
//	@Failure		503	{object}	authsdk.APIError
//	@Router			/internal/v1/public-key [get].
func PublicKeyHandler(keys KeyCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keys.GetKey(r.Context())
		if err != nil {
			slogx.FromContext(r.Context()).Error("signing key unavailable", "err", err)
			authsdk.ErrUnavailable.WriteError(w)
			return
		}

		doc, err := key.Scheme.PublicKeyDocument()
		if errors.Is(err, jwtx.ErrNoKey) {
			authsdk.ErrNotFound.WriteError(w)
			return
		}
		if err != nil {
			slogx.FromContext(r.Context()).Error("failed to encode public key", "err", err)
			authsdk.ErrServerError.WriteError(w)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, doc)
	}
}

// InvalidateKeysHandler godoc
//
//	@Summary		Drop the cached verification key
//	@Description	The next validation re-fetches the key from its source.
//	@Tags			Keys
//	@Security		BearerAuth
//	@Success		204
//	@Failure		401	{object}	authsdk.APIError
//	@Failure		403	{object}	authsdk.APIError
//	@Router			/internal/v1/keys/invalidate [post].
func InvalidateKeysHandler(keys KeyCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys.Invalidate()
		if c, ok := httpx.ClaimsFromContext(r.Context()); ok {
			slogx.FromContext(r.Context()).Info("signing key invalidated", "by", c.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
