package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// AuthHandler serves the login, refresh and logout endpoints.
type AuthHandler struct {
	Tokens *service.TokenService
	Origin httpx.KeyExtractor
}

// HandleLogin godoc
//
//	@Summary		Log in
//	@Description	Exchanges email, password and (when enrolled) a TOTP code for an access and refresh token.
//	@Description	Every failure, including a locked account, answers the same 401.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginRequest	true	"credentials"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.APIError
//	@Failure		401		{object}	authsdk.APIError
//	@Failure		429		{object}	authsdk.APIError
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
		return
	}

	pair, err := h.Tokens.Login(r.Context(), service.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		OTP:      req.OTP,
		Origin:   h.origin(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleRefresh godoc
//
//	@Summary		Rotate a refresh token
//	@Description	Consumes the refresh token and returns a new pair. Presenting a consumed token revokes every session of its user.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RefreshRequest	true	"refresh token"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.APIError
//	@Failure		401		{object}	authsdk.APIError
//	@Failure		429		{object}	authsdk.APIError
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
		return
	}

	pair, err := h.Tokens.Refresh(r.Context(), req.RefreshToken, h.origin(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleLogout godoc
//
//	@Summary		Log out
//	@Description	Revokes the refresh token and, when a bearer token is sent, blacklists it until it expires.
//	@Description	Unknown or already revoked tokens still answer 204.
//	@Tags			Auth
//	@Accept			json
//	@Security		BearerAuth
//	@Param			body	body	authsdk.LogoutRequest	false	"refresh token"
//	@Success		204
//	@Failure		500	{object}	authsdk.APIError
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LogoutRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			slogx.FromContext(r.Context()).Debug("ignoring unreadable logout body", "err", err)
		}
	}
	access, _ := httpx.BearerToken(r)

	if err := h.Tokens.Logout(r.Context(), req.RefreshToken, access); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) origin(r *http.Request) domain.Origin {
	o := domain.Origin{UserAgent: r.UserAgent()}
	if h.Origin != nil {
		o.IP = h.Origin(r)
	}
	return o
}

func tokenResponse(p *domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    int(p.ExpiresIn / time.Second),
	}
}
