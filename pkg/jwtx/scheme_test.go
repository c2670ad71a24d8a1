package jwtx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

func TestSigningScheme_Kinds(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)

	tests := []struct {
		name    string
		scheme  jwtx.SigningScheme
		kind    jwtx.SchemeKind
		alg     string
		canSign bool
	}{
		{"rsa signer", jwtx.AsymmetricSigner(key), jwtx.SchemeAsymmetric, jwtx.AlgorithmRS256, true},
		{"rsa verifier", jwtx.Asymmetric(&key.PublicKey), jwtx.SchemeAsymmetric, jwtx.AlgorithmRS256, false},
		{"hmac", jwtx.Symmetric(testSecret), jwtx.SchemeSymmetric, jwtx.AlgorithmHS256, true},
		{"zero", jwtx.SigningScheme{}, 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.kind, tt.scheme.Kind())
			require.Equal(t, tt.alg, tt.scheme.Algorithm())
			require.Equal(t, tt.canSign, tt.scheme.CanSign())
		})
	}
}

func TestSigningScheme_SymmetricCopiesSecret(t *testing.T) {
	t.Parallel()

	secret := append([]byte(nil), testSecret...)
	s := jwtx.Symmetric(secret)
	secret[0] = 'X'

	codec := jwtx.NewCodec(testIssuer, nil)
	claims := jwtx.NewAccessClaims("u", testIssuer, "", nil, time.Minute, time.Now())
	token, err := codec.Issue(claims, s)
	require.NoError(t, err)

	_, err = codec.Decode(token, jwtx.Symmetric(testSecret))
	require.NoError(t, err)
}

func TestPublicKeyDocument(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)
	doc, err := jwtx.AsymmetricSigner(key).PublicKeyDocument()
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmRS256, doc.Algorithm)
	require.Equal(t, jwtx.KeyTypeRSA, doc.KeyType)

	parsed, err := jwtx.ParsePublicKeyDocument(doc)
	require.NoError(t, err)
	require.False(t, parsed.CanSign())

	_, err = jwtx.Symmetric(testSecret).PublicKeyDocument()
	require.ErrorIs(t, err, jwtx.ErrNoKey)

	bad := doc
	bad.Algorithm = jwtx.AlgorithmHS256
	_, err = jwtx.ParsePublicKeyDocument(bad)
	require.Error(t, err)

	bad = doc
	bad.KeyType = "EC"
	_, err = jwtx.ParsePublicKeyDocument(bad)
	require.Error(t, err)

	bad = doc
	bad.PublicKey = "not-a-key"
	_, err = jwtx.ParsePublicKeyDocument(bad)
	require.Error(t, err)
}
