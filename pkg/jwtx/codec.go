package jwtx

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
)

var (
	ErrMalformed        = errors.New("jwtx: malformed token")
	ErrSignatureInvalid = errors.New("jwtx: invalid signature")
	ErrExpired          = errors.New("jwtx: token expired")
	ErrIssuerMismatch   = errors.New("jwtx: issuer mismatch")
)

func missingClaim(name string) error {
	return fmt.Errorf("%w: missing %s claim", ErrMalformed, name)
}

// Codec mints and decodes signed tokens for a single issuer.
type Codec struct {
	Issuer string
	Leeway time.Duration
	Clock  clock.Clock
}

// NewCodec returns a Codec with DefaultLeeway.
func NewCodec(issuer string, clk clock.Clock) *Codec {
	return &Codec{Issuer: issuer, Leeway: DefaultLeeway, Clock: clock.Or(clk)}
}

// Issue signs claims with scheme. The claims must carry sub, iss, exp and
// token_type.
func (c *Codec) Issue(claims Claims, scheme SigningScheme) (string, error) {
	if err := claims.ValidateRequired(); err != nil {
		return "", err
	}

	method, key, err := scheme.signParams()
	if err != nil {
		return "", err
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies token against scheme and returns its claims. The
// signature is checked before anything in the payload is trusted, so a
// modified byte in a well-formed token yields ErrSignatureInvalid.
func (c *Codec) Decode(token string, scheme SigningScheme) (Claims, error) {
	method, key, err := scheme.verifyParams()
	if err != nil {
		return Claims{}, err
	}

	// A dotless string is not a token at all. Anything dotted whose
	// segments do not line up is a damaged token and cannot verify.
	if !strings.Contains(token, ".") {
		return Claims{}, ErrMalformed
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Claims{}, ErrSignatureInvalid
	}

	// Strict so a changed padding bit in the last character is caught too.
	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrSignatureInvalid
	}
	if err := method.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return Claims{}, ErrSignatureInvalid
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return Claims{}, mapParseError(err)
	}

	if err := claims.ValidateRequired(); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateIssuer(c.Issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(c.clock().Now(), c.Leeway); err != nil {
		return Claims{}, err
	}

	claims.normalize()
	return claims, nil
}

func (c *Codec) clock() clock.Clock {
	return clock.Or(c.Clock)
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
