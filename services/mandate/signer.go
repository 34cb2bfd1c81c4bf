package mandate

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/authority-gate/services"
)

// Signing algorithms
const (
	AlgorithmHMAC    = "hmac"
	AlgorithmEd25519 = "ed25519"
)

// Signer produces signatures over canonical mandate bytes
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	Verifier
}

// Verifier checks signatures over canonical mandate bytes.
// Holders of a Verifier can trust a mandate without re-querying the policy engine.
type Verifier interface {
	Verify(payload, signature []byte) error
	KeyID() string
	Algorithm() string
}

// HMACSigner signs with HS256 using a shared secret
type HMACSigner struct {
	key   []byte
	keyID string
}

// NewHMACSigner creates an HS256 signer. An empty key is a configuration error.
func NewHMACSigner(key []byte, keyID string) (*HMACSigner, error) {
	if len(key) == 0 {
		return nil, services.ErrSigningKeyMissing
	}
	return &HMACSigner{
		key:   append([]byte(nil), key...),
		keyID: keyID,
	}, nil
}

// Sign computes the HS256 MAC of the payload
func (s *HMACSigner) Sign(payload []byte) ([]byte, error) {
	sig, err := jwt.SigningMethodHS256.Sign(encodePayload(payload), s.key)
	if err != nil {
		return nil, fmt.Errorf("mandate: hmac sign: %w", err)
	}
	return sig, nil
}

// Verify checks the HS256 MAC of the payload
func (s *HMACSigner) Verify(payload, signature []byte) error {
	if err := jwt.SigningMethodHS256.Verify(encodePayload(payload), signature, s.key); err != nil {
		return services.WrapIntegrity("mandate signature mismatch", err)
	}
	return nil
}

// KeyID returns the configured key identifier
func (s *HMACSigner) KeyID() string { return s.keyID }

// Algorithm returns "hmac"
func (s *HMACSigner) Algorithm() string { return AlgorithmHMAC }

// Ed25519Signer signs with EdDSA; its public half verifies without the secret
type Ed25519Signer struct {
	*Ed25519Verifier
	private ed25519.PrivateKey
}

// NewEd25519Signer creates an EdDSA signer from a private key
func NewEd25519Signer(private ed25519.PrivateKey, keyID string) (*Ed25519Signer, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, services.ErrSigningKeyMissing
	}
	public := private.Public().(ed25519.PublicKey)
	return &Ed25519Signer{
		Ed25519Verifier: &Ed25519Verifier{public: public, keyID: keyID},
		private:         private,
	}, nil
}

// Sign computes the Ed25519 signature of the payload
func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	sig, err := jwt.SigningMethodEdDSA.Sign(encodePayload(payload), s.private)
	if err != nil {
		return nil, fmt.Errorf("mandate: ed25519 sign: %w", err)
	}
	return sig, nil
}

// PublicKey returns the verification key
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.public
}

// Ed25519Verifier verifies EdDSA mandate signatures with a public key
type Ed25519Verifier struct {
	public ed25519.PublicKey
	keyID  string
}

// NewEd25519Verifier creates a verifier for downstream systems that
// hold only the public key
func NewEd25519Verifier(public ed25519.PublicKey, keyID string) (*Ed25519Verifier, error) {
	if len(public) != ed25519.PublicKeySize {
		return nil, services.WrapConfiguration("invalid ed25519 public key", nil)
	}
	return &Ed25519Verifier{public: public, keyID: keyID}, nil
}

// Verify checks the Ed25519 signature of the payload
func (v *Ed25519Verifier) Verify(payload, signature []byte) error {
	if err := jwt.SigningMethodEdDSA.Verify(encodePayload(payload), signature, v.public); err != nil {
		return services.WrapIntegrity("mandate signature mismatch", err)
	}
	return nil
}

// KeyID returns the configured key identifier
func (v *Ed25519Verifier) KeyID() string { return v.keyID }

// Algorithm returns "ed25519"
func (v *Ed25519Verifier) Algorithm() string { return AlgorithmEd25519 }

// NewSigner builds a Signer from configuration key material.
// For ed25519 the key is a base64-encoded 32-byte seed or 64-byte private key.
func NewSigner(algorithm, key, keyID string) (Signer, error) {
	if key == "" {
		return nil, services.ErrSigningKeyMissing
	}

	switch strings.ToLower(algorithm) {
	case "", AlgorithmHMAC:
		return NewHMACSigner([]byte(key), keyID)

	case AlgorithmEd25519:
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, services.WrapConfiguration("ed25519 signing key must be base64", err)
		}
		switch len(raw) {
		case ed25519.SeedSize:
			return NewEd25519Signer(ed25519.NewKeyFromSeed(raw), keyID)
		case ed25519.PrivateKeySize:
			return NewEd25519Signer(ed25519.PrivateKey(raw), keyID)
		default:
			return nil, services.WrapConfiguration(
				fmt.Sprintf("ed25519 signing key has %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize), nil)
		}

	default:
		return nil, services.WrapConfiguration(fmt.Sprintf("unknown signing algorithm %q", algorithm), nil)
	}
}

// encodePayload turns canonical bytes into the string form the jwt
// signing methods operate on
func encodePayload(payload []byte) string {
	return base64.RawURLEncoding.EncodeToString(payload)
}
