package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

// keyRing holds the active signing scheme. It signs for the token service
// and serves the verify-only half to the key cache.
type keyRing struct {
	load   func() (jwtx.SigningScheme, error)
	scheme atomic.Pointer[jwtx.SigningScheme]
}

func newKeyRing(load func() (jwtx.SigningScheme, error)) (*keyRing, error) {
	r := &keyRing{load: load}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the key. The previous scheme stays active on error.
func (r *keyRing) Reload() error {
	s, err := r.load()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	r.scheme.Store(&s)
	return nil
}

func (r *keyRing) SigningScheme() (jwtx.SigningScheme, error) {
	s := r.scheme.Load()
	if !s.CanSign() {
		return jwtx.SigningScheme{}, jwtx.ErrVerifyOnly
	}
	return *s, nil
}

func (r *keyRing) FetchKey(context.Context) (jwtx.SigningScheme, error) {
	return r.scheme.Load().VerifyOnly(), nil
}

// rsaKeyLoader reads an RS256 key from path, generating and persisting one
// when the file does not exist.
func rsaKeyLoader(path string, bits int, logger *slog.Logger) func() (jwtx.SigningScheme, error) {
	return func() (jwtx.SigningScheme, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			data, err = generateKeyFile(path, bits)
			if err == nil {
				logger.Info("generated signing key", slog.String("path", path), slog.Int("bits", bits))
			}
		}
		if err != nil {
			return jwtx.SigningScheme{}, fmt.Errorf("read signing key: %w", err)
		}

		priv, err := cryptox.ParseRSAPrivateKeyPEM(data)
		if err != nil {
			return jwtx.SigningScheme{}, fmt.Errorf("parse signing key: %w", err)
		}
		return jwtx.AsymmetricSigner(priv), nil
	}
}

func generateKeyFile(path string, bits int) ([]byte, error) {
	priv, err := cryptox.GenerateRSAKey(bits)
	if err != nil {
		return nil, err
	}
	data, err := cryptox.EncodeRSAPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}
	return data, nil
}

// initKeys builds the signing ring and the key source the validator reads
// through. A configured public-key URL replaces the local verify key.
func initKeys(ctx context.Context, cfg Config, secrets SecretsClient, logger *slog.Logger) (*keyRing, jwtx.KeySource, error) {
	var load func() (jwtx.SigningScheme, error)

	switch cfg.SigningMode {
	case SigningModeSymmetric:
		secret := cfg.SecretKey
		if cfg.SecretARN != "" {
			if secrets == nil {
				c, err := newSecretsClient(ctx, cfg.SecretRegion)
				if err != nil {
					return nil, nil, err
				}
				secrets = c
			}
			s, err := FetchSigningSecret(ctx, secrets, cfg.SecretARN)
			if err != nil {
				return nil, nil, fmt.Errorf("fetch signing secret: %w", err)
			}
			secret = s
		}
		scheme := jwtx.Symmetric([]byte(secret))
		load = func() (jwtx.SigningScheme, error) { return scheme, nil }
	default:
		load = rsaKeyLoader(cfg.PrivateKeyFile, cfg.RSABits, logger)
	}

	ring, err := newKeyRing(load)
	if err != nil {
		return nil, nil, err
	}

	if cfg.PublicKeyURL != "" {
		logger.Info("validating against remote public key", slog.String("url", cfg.PublicKeyURL))
		return ring, authsdk.NewSDKClient(cfg.PublicKeyURL).KeySource(), nil
	}
	return ring, ring, nil
}
