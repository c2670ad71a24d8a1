package service

import "github.com/aussiebroadwan/gatekeeper/pkg/jwtx"

// Signer supplies the scheme used to mint access tokens. The application
// swaps it when the key file changes.
type Signer interface {
	SigningScheme() (jwtx.SigningScheme, error)
}

type staticSigner struct{ s jwtx.SigningScheme }

func (s staticSigner) SigningScheme() (jwtx.SigningScheme, error) {
	if !s.s.CanSign() {
		return jwtx.SigningScheme{}, jwtx.ErrVerifyOnly
	}
	return s.s, nil
}

// StaticSigner always signs with scheme.
func StaticSigner(scheme jwtx.SigningScheme) Signer {
	return staticSigner{s: scheme}
}
