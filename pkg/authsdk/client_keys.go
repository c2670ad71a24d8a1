package authsdk

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

// GetPublicKey fetches the verification key of an asymmetric issuer.
// Issuers running in symmetric mode answer 404.
func (c *SDKClient) GetPublicKey(ctx context.Context) (*jwtx.PublicKeyDocument, error) {
	resp, err := c.do(ctx, http.MethodGet, "/internal/v1/public-key", nil, "")
	if err != nil {
		return nil, err
	}

	var doc jwtx.PublicKeyDocument
	if err := decodeJSON(resp, &doc, http.StatusOK); err != nil {
		return nil, err
	}
	return &doc, nil
}

// InvalidateKeys asks the server to drop its cached verification key.
func (c *SDKClient) InvalidateKeys(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/internal/v1/keys/invalidate", nil, accessToken)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// KeySource returns a jwtx.KeySource backed by GetPublicKey, for services
// that verify tokens locally through a jwtx.KeyCache.
func (c *SDKClient) KeySource() jwtx.KeySource {
	return jwtx.KeySourceFunc(func(ctx context.Context) (jwtx.SigningScheme, error) {
		doc, err := c.GetPublicKey(ctx)
		if err != nil {
			return jwtx.SigningScheme{}, err
		}
		return jwtx.ParsePublicKeyDocument(*doc)
	})
}
