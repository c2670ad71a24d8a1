package authsdk

import (
	"context"
	"net/http"
)

// Login exchanges credentials for a token pair.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/login", req, "")
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Refresh rotates refreshToken. The old token must not be used again:
// presenting it a second time revokes every session of the user.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, "")
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Logout revokes refreshToken and, when accessToken is set, blacklists it
// for the rest of its lifetime.
func (c *SDKClient) Logout(ctx context.Context, refreshToken, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/logout", LogoutRequest{RefreshToken: refreshToken}, accessToken)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// Validate asks the server to check accessToken and returns its claims.
func (c *SDKClient) Validate(ctx context.Context, accessToken string) (*ValidateResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/auth/validate", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var out ValidateResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnrollTOTP turns on TOTP for the token's user.
func (c *SDKClient) EnrollTOTP(ctx context.Context, accessToken string) (*TOTPEnrollmentResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/mfa/enroll", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var out TOTPEnrollmentResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
