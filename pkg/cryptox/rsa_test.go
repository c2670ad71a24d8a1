package cryptox_test

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
)

func TestGenerateRSAKey_TooSmall(t *testing.T) {
	t.Parallel()

	_, err := cryptox.GenerateRSAKey(1024)
	require.Error(t, err)
}

func TestRSAKeyRoundTrip(t *testing.T) {
	t.Parallel()

	key, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)

	t.Run("pkcs8 private key", func(t *testing.T) {
		pemBytes, err := cryptox.EncodeRSAPrivateKeyPEM(key)
		require.NoError(t, err)

		parsed, err := cryptox.ParseRSAPrivateKeyPEM(pemBytes)
		require.NoError(t, err)
		require.True(t, key.Equal(parsed))
	})

	t.Run("pkcs1 private key", func(t *testing.T) {
		pemBytes := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})

		parsed, err := cryptox.ParseRSAPrivateKeyPEM(pemBytes)
		require.NoError(t, err)
		require.True(t, key.Equal(parsed))
	})

	t.Run("public key base64 der", func(t *testing.T) {
		encoded, err := cryptox.EncodeRSAPublicKey(&key.PublicKey)
		require.NoError(t, err)

		pub, err := cryptox.ParseRSAPublicKey(encoded)
		require.NoError(t, err)
		require.True(t, key.PublicKey.Equal(pub))
	})

	t.Run("public key pem", func(t *testing.T) {
		der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		require.NoError(t, err)
		pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

		pub, err := cryptox.ParseRSAPublicKey(string(pemBytes))
		require.NoError(t, err)
		require.True(t, key.PublicKey.Equal(pub))
	})
}

func TestParseRSAPrivateKeyPEM_Errors(t *testing.T) {
	t.Parallel()

	_, err := cryptox.ParseRSAPrivateKeyPEM([]byte("not pem"))
	require.Error(t, err)

	_, err = cryptox.ParseRSAPrivateKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}))
	require.Error(t, err)
}

func TestParseRSAPublicKey_Garbage(t *testing.T) {
	t.Parallel()

	_, err := cryptox.ParseRSAPublicKey("%%%")
	require.Error(t, err)
}
