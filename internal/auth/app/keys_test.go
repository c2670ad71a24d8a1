package app

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

func TestRSAKeyLoader_GeneratesAndReuses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")
	load := rsaKeyLoader(path, 2048, slogx.Discard())

	first, err := load()
	require.NoError(t, err)
	assert.True(t, first.CanSign())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := load()
	require.NoError(t, err)
	a, err := first.PublicKeyDocument()
	require.NoError(t, err)
	b, err := second.PublicKeyDocument()
	require.NoError(t, err)
	assert.Equal(t, a, b, "existing key file is reused")
}

func TestKeyRing(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	var fail atomic.Bool
	ring, err := newKeyRing(func() (jwtx.SigningScheme, error) {
		if fail.Load() {
			return jwtx.SigningScheme{}, assert.AnError
		}
		return jwtx.Symmetric(secret), nil
	})
	require.NoError(t, err)

	s, err := ring.SigningScheme()
	require.NoError(t, err)
	assert.Equal(t, jwtx.SchemeSymmetric, s.Kind())

	fail.Store(true)
	require.ErrorIs(t, ring.Reload(), assert.AnError)
	_, err = ring.SigningScheme()
	require.NoError(t, err, "failed reload keeps the previous key")

	_, err = newKeyRing(func() (jwtx.SigningScheme, error) { return jwtx.Symmetric([]byte("weak")), nil })
	require.ErrorIs(t, err, jwtx.ErrWeakSecret)
}

func TestKeyRing_FetchKeyIsVerifyOnly(t *testing.T) {
	priv, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)
	ring, err := newKeyRing(func() (jwtx.SigningScheme, error) { return jwtx.AsymmetricSigner(priv), nil })
	require.NoError(t, err)

	s, err := ring.FetchKey(context.Background())
	require.NoError(t, err)
	assert.False(t, s.CanSign())
	assert.Equal(t, jwtx.SchemeAsymmetric, s.Kind())
}

func TestKeyWatcher_ReloadsOnReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.pem")
	load := rsaKeyLoader(path, 2048, slogx.Discard())
	ring, err := newKeyRing(load)
	require.NoError(t, err)
	before, err := ring.scheme.Load().PublicKeyDocument()
	require.NoError(t, err)

	var invalidated atomic.Int32
	w, err := newKeyWatcher(path, ring.Reload, func() { invalidated.Add(1) }, slogx.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	priv, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)
	pem, err := cryptox.EncodeRSAPrivateKeyPEM(priv)
	require.NoError(t, err)

	tmp := filepath.Join(dir, "signing.pem.tmp")
	require.NoError(t, os.WriteFile(tmp, pem, 0o600))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return invalidated.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	after, err := ring.scheme.Load().PublicKeyDocument()
	require.NoError(t, err)
	assert.NotEqual(t, before.PublicKey, after.PublicKey)
}
