package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
)

// ValidateHandler godoc
//
//	@Summary		Validate an access token
//	@Description	Returns the claims of the bearer token once signature, expiry, type and revocation checks pass.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.ValidateResponse
//	@Failure		401	{object}	authsdk.APIError
//	@Failure		429	{object}	authsdk.APIError
//	@Failure		503	{object}	authsdk.APIError
//	@Router			/v1/auth/validate [get].
func ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := httpx.ClaimsFromContext(r.Context())
		if !ok {
			authsdk.ErrInvalidToken.WriteError(w)
			return
		}

		resp := authsdk.ValidateResponse{
			Subject:     c.Subject,
			Issuer:      c.Issuer,
			TokenID:     c.ID,
			Role:        c.Role,
			Permissions: c.Permissions,
		}
		if c.IssuedAt != nil {
			resp.IssuedAt = c.IssuedAt.UTC()
		}
		if c.ExpiresAt != nil {
			resp.ExpiresAt = c.ExpiresAt.UTC()
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}
