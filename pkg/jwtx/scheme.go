package jwtx

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
)

const (
	AlgorithmRS256 = "RS256"
	AlgorithmHS256 = "HS256"

	KeyTypeRSA = "RSA"
	KeyTypeOct = "oct"

	// MinSecretBytes is the shortest HS256 secret accepted.
	MinSecretBytes = 32
)

type SchemeKind uint8

const (
	// SchemeAsymmetric verifies RS256 with a public key, and mints when the
	// private half is present.
	SchemeAsymmetric SchemeKind = iota + 1
	// SchemeSymmetric mints and verifies HS256 with a shared secret.
	SchemeSymmetric
)

func (k SchemeKind) String() string {
	switch k {
	case SchemeAsymmetric:
		return "asymmetric"
	case SchemeSymmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

var (
	ErrNoKey      = errors.New("jwtx: no key material")
	ErrVerifyOnly = errors.New("jwtx: scheme cannot sign")
	ErrWeakSecret = fmt.Errorf("jwtx: HS256 secret shorter than %d bytes", MinSecretBytes)
)

// SigningScheme is the key material a Codec works with: either an RSA key
// (public only, or a full private key) or an HMAC secret. The zero value
// holds no key and fails every operation with ErrNoKey.
type SigningScheme struct {
	kind    SchemeKind
	public  *rsa.PublicKey
	private *rsa.PrivateKey
	secret  []byte
}

// Asymmetric is a verify-only RS256 scheme.
func Asymmetric(pub *rsa.PublicKey) SigningScheme {
	return SigningScheme{kind: SchemeAsymmetric, public: pub}
}

// AsymmetricSigner is an RS256 scheme able to mint tokens.
func AsymmetricSigner(priv *rsa.PrivateKey) SigningScheme {
	return SigningScheme{kind: SchemeAsymmetric, public: &priv.PublicKey, private: priv}
}

// Symmetric is an HS256 scheme. The secret is copied.
func Symmetric(secret []byte) SigningScheme {
	return SigningScheme{kind: SchemeSymmetric, secret: append([]byte(nil), secret...)}
}

func (s SigningScheme) Kind() SchemeKind { return s.kind }

func (s SigningScheme) IsZero() bool { return s.kind == 0 }

func (s SigningScheme) Algorithm() string {
	switch s.kind {
	case SchemeAsymmetric:
		return AlgorithmRS256
	case SchemeSymmetric:
		return AlgorithmHS256
	default:
		return ""
	}
}

func (s SigningScheme) CanSign() bool {
	return (s.kind == SchemeAsymmetric && s.private != nil) || (s.kind == SchemeSymmetric && len(s.secret) > 0)
}

// VerifyOnly strips the RSA private key. Symmetric schemes are returned
// unchanged since the secret is needed for both directions.
func (s SigningScheme) VerifyOnly() SigningScheme {
	if s.kind == SchemeAsymmetric {
		return Asymmetric(s.public)
	}
	return s
}

// Validate reports whether the scheme carries usable key material.
func (s SigningScheme) Validate() error {
	switch s.kind {
	case SchemeAsymmetric:
		if s.public == nil {
			return ErrNoKey
		}
		if s.public.N.BitLen() < cryptox.MinRSABits {
			return fmt.Errorf("jwtx: RSA key shorter than %d bits", cryptox.MinRSABits)
		}
	case SchemeSymmetric:
		if len(s.secret) == 0 {
			return ErrNoKey
		}
		if len(s.secret) < MinSecretBytes {
			return ErrWeakSecret
		}
	default:
		return ErrNoKey
	}
	return nil
}

func (s SigningScheme) signParams() (jwt.SigningMethod, any, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	switch s.kind {
	case SchemeAsymmetric:
		if s.private == nil {
			return nil, nil, ErrVerifyOnly
		}
		return jwt.SigningMethodRS256, s.private, nil
	default:
		return jwt.SigningMethodHS256, s.secret, nil
	}
}

func (s SigningScheme) verifyParams() (jwt.SigningMethod, any, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	switch s.kind {
	case SchemeAsymmetric:
		return jwt.SigningMethodRS256, s.public, nil
	default:
		return jwt.SigningMethodHS256, s.secret, nil
	}
}

// PublicKeyDocument is the wire shape of the internal public-key endpoint.
type PublicKeyDocument struct {
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
	KeyType   string `json:"keyType"`
}

// PublicKeyDocument exports the verification half of an asymmetric scheme.
// Symmetric secrets are never exported.
func (s SigningScheme) PublicKeyDocument() (PublicKeyDocument, error) {
	if s.kind != SchemeAsymmetric || s.public == nil {
		return PublicKeyDocument{}, ErrNoKey
	}
	encoded, err := cryptox.EncodeRSAPublicKey(s.public)
	if err != nil {
		return PublicKeyDocument{}, err
	}
	return PublicKeyDocument{
		PublicKey: encoded,
		Algorithm: AlgorithmRS256,
		KeyType:   KeyTypeRSA,
	}, nil
}

// ParsePublicKeyDocument turns a fetched document into a verify-only scheme.
func ParsePublicKeyDocument(doc PublicKeyDocument) (SigningScheme, error) {
	if doc.Algorithm != AlgorithmRS256 {
		return SigningScheme{}, fmt.Errorf("jwtx: unsupported algorithm %q", doc.Algorithm)
	}
	if doc.KeyType != "" && doc.KeyType != KeyTypeRSA {
		return SigningScheme{}, fmt.Errorf("jwtx: unsupported key type %q", doc.KeyType)
	}

	pub, err := cryptox.ParseRSAPublicKey(doc.PublicKey)
	if err != nil {
		return SigningScheme{}, err
	}

	s := Asymmetric(pub)
	if err := s.Validate(); err != nil {
		return SigningScheme{}, err
	}
	return s, nil
}
