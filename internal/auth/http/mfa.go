package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// MFAHandler handles TOTP enrollment.
type MFAHandler struct {
	MFAService *service.MFAService
}

// HandleEnroll handles POST /v1/auth/mfa/enroll
//
//	@Summary		Enroll in TOTP MFA
//	@Description	Generates a TOTP secret for the authenticated user. Every later login must carry a code.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.TOTPEnrollmentResponse	"TOTP secret and otpauth URL"
//	@Failure		401	{object}	authsdk.APIError				"Invalid or missing access token"
//	@Failure		409	{object}	authsdk.APIError				"MFA already enabled"
//	@Failure		500	{object}	authsdk.APIError				"Internal server error"
//	@Router			/v1/auth/mfa/enroll [post].
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	claims, ok := httpx.ClaimsFromContext(ctx)
	if !ok || claims.Subject == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	enrollment, err := h.MFAService.EnrollTOTP(ctx, claims.Subject)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrMFAAlreadyEnabled):
		log.Warn("MFA already enabled", "user_id", claims.Subject)
		authsdk.NewAPIError(http.StatusConflict, authsdk.ErrorCodeConflict, "MFA is already enabled for this user").WriteError(w)
		return
	case errors.Is(err, store.ErrNotFound):
		// The token outlived its user.
		authsdk.ErrInvalidToken.WriteError(w)
		return
	default:
		log.Error("failed to enroll TOTP", "user_id", claims.Subject, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	log.Info("TOTP enrolled", "user_id", claims.Subject)
	httpx.WriteJSON(w, http.StatusOK, authsdk.TOTPEnrollmentResponse{
		Secret:  enrollment.Secret,
		URL:     enrollment.URL,
		Issuer:  enrollment.Issuer,
		Account: enrollment.Account,
	})
}
