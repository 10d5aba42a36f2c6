// Package crypto holds the key material and JWS signing used by the
// provenance emitter. Keys are process-wide, initialized once at startup,
// never mutated after.
package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm selects the JWS signing algorithm.
type Algorithm string

const (
	AlgRS256 Algorithm = "RS256"
	AlgES256 Algorithm = "ES256"
	AlgEdDSA Algorithm = "EdDSA"
)

// Keyring owns one signing key and its verification counterpart.
type Keyring struct {
	alg     Algorithm
	keyID   string
	method  jwt.SigningMethod
	private any
	public  any
}

// NewKeyring generates a fresh keypair for the given algorithm.
func NewKeyring(alg Algorithm, keyID string) (*Keyring, error) {
	kr := &Keyring{alg: alg, keyID: keyID}
	switch alg {
	case AlgRS256:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("rsa key generation failed: %w", err)
		}
		kr.method = jwt.SigningMethodRS256
		kr.private = priv
		kr.public = &priv.PublicKey
	case AlgES256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("ecdsa key generation failed: %w", err)
		}
		kr.method = jwt.SigningMethodES256
		kr.private = priv
		kr.public = &priv.PublicKey
	case AlgEdDSA:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("ed25519 key generation failed: %w", err)
		}
		kr.method = jwt.SigningMethodEdDSA
		kr.private = priv
		kr.public = pub
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
	return kr, nil
}

// NewEdDSAKeyringFromSeed builds a deterministic keyring for tests.
func NewEdDSAKeyringFromSeed(seed []byte, keyID string) (*Keyring, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keyring{
		alg:     AlgEdDSA,
		keyID:   keyID,
		method:  jwt.SigningMethodEdDSA,
		private: priv,
		public:  priv.Public(),
	}, nil
}

// Algorithm returns the keyring's signing algorithm.
func (k *Keyring) Algorithm() Algorithm { return k.alg }

// KeyID returns the key identifier placed in the JWS header.
func (k *Keyring) KeyID() string { return k.keyID }

// SignDigest produces a compact JWS whose claims bind the given content
// digest. The kid header identifies the signing key for later verification.
func (k *Keyring) SignDigest(digest string) (string, error) {
	token := jwt.NewWithClaims(k.method, jwt.MapClaims{"digest": digest})
	token.Header["kid"] = k.keyID
	signed, err := token.SignedString(k.private)
	if err != nil {
		return "", fmt.Errorf("jws signing failed: %w", err)
	}
	return signed, nil
}

// VerifyDigest checks that signature is a valid JWS from this keyring
// binding exactly the given digest.
func (k *Keyring) VerifyDigest(signature, digest string) error {
	token, err := jwt.Parse(signature, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != k.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return k.public, nil
	})
	if err != nil {
		return fmt.Errorf("jws verification failed: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("jws claims malformed")
	}
	bound, _ := claims["digest"].(string)
	if bound != digest {
		return fmt.Errorf("jws digest mismatch")
	}
	return nil
}
